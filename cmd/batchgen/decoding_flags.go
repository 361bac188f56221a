package main

import (
	"github.com/spf13/cobra"

	"batchgen/internal/decoding"
)

// decodingFlags are the per-call knobs exposed by generate and batch.
type decodingFlags struct {
	maxNewTokens  int
	minNewTokens  int
	beamSize      int
	numHyps       int
	topK          int
	topP          float32
	temperature   float32
	seed          int64
	endToken      string
	returnScores  bool
	includePrompt bool
	suppressEOS   bool
}

func (d *decodingFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&d.maxNewTokens, "max-new-tokens", 32, "Generated tokens per input")
	f.IntVar(&d.minNewTokens, "min-new-tokens", 0, "Tokens generated before end tokens are allowed")
	f.IntVar(&d.beamSize, "beam-size", 1, "Beam size (1 = greedy or sampling)")
	f.IntVar(&d.numHyps, "num-hypotheses", 1, "Hypotheses returned per input")
	f.IntVar(&d.topK, "sampling-topk", 1, "Sample from the k best tokens (1 = greedy, 0 = full vocabulary)")
	f.Float32Var(&d.topP, "sampling-topp", 1, "Nucleus sampling threshold")
	f.Float32Var(&d.temperature, "temperature", 1, "Sampling temperature")
	f.Int64Var(&d.seed, "seed", 0, "Sampling seed (0 = random)")
	f.StringVar(&d.endToken, "end-token", "", "Comma separated end tokens (default: the model's)")
	f.BoolVar(&d.returnScores, "return-scores", false, "Report log probabilities")
	f.BoolVar(&d.includePrompt, "include-prompt", false, "Keep the prompt in results")
	f.BoolVar(&d.suppressEOS, "suppress-eos", false, "Never generate the model's end-of-sequence token")
}

// options applies the set flags over base.
func (d *decodingFlags) options(cmd *cobra.Command, base decoding.Options) decoding.Options {
	o := base.Clone()
	set := cmd.Flags().Changed
	o.IncludePromptInResult = d.includePrompt
	o.MaxLength = d.maxNewTokens
	o.MinLength = d.minNewTokens
	if set("beam-size") {
		o.BeamSize = d.beamSize
	}
	if set("num-hypotheses") {
		o.NumHypotheses = d.numHyps
	}
	if set("sampling-topk") {
		o.SamplingTopK = d.topK
	}
	if set("sampling-topp") {
		o.SamplingTopP = d.topP
	}
	if set("temperature") {
		o.SamplingTemperature = d.temperature
	}
	if set("seed") {
		o.Seed = d.seed
	}
	if set("end-token") {
		o.EndToken = decoding.EndTokens(splitCSV(d.endToken)...)
	}
	if set("return-scores") {
		o.ReturnScores = d.returnScores
	}
	return o
}
