// Package decoding defines the per-call generation knobs shared by every
// engine backend, their defaults, and the validation applied before a batch is
// admitted.
package decoding

// Options configures one generation call. Construct it with Defaults and
// override fields; construction never fails. Validate runs when the options
// are submitted.
//
// Beam search (BeamSize > 1) ignores the sampling fields. Setting both a
// restrictive SamplingTopK and SamplingTopP together with a beam size is
// rejected instead of being silently dropped.
//
// MaxLength and MinLength count the input tokens when IncludePromptInResult is
// set and only the generated tokens otherwise. The static prompt is never
// counted.
type Options struct {
	// Search strategy.
	BeamSize          int     `json:"beam_size" yaml:"beam_size" toml:"beam_size"`
	Patience          float32 `json:"patience" yaml:"patience" toml:"patience"`
	LengthPenalty     float32 `json:"length_penalty" yaml:"length_penalty" toml:"length_penalty"`
	RepetitionPenalty float32 `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size" yaml:"no_repeat_ngram_size" toml:"no_repeat_ngram_size"`
	DisableUnk        bool    `json:"disable_unk" yaml:"disable_unk" toml:"disable_unk"`
	// SuppressSequences lists token sequences that must never be generated.
	SuppressSequences [][]string `json:"suppress_sequences,omitempty" yaml:"suppress_sequences,omitempty" toml:"suppress_sequences,omitempty"`

	// Stopping rules.
	EndToken EndToken `json:"end_token,omitempty" yaml:"end_token,omitempty" toml:"end_token,omitempty"`
	// StopAtDefaultEndToken makes an empty EndToken mean the model's own
	// end-of-sequence token. When false and EndToken is empty, only the
	// length limits stop decoding.
	StopAtDefaultEndToken bool `json:"stop_at_default_end_token" yaml:"stop_at_default_end_token" toml:"stop_at_default_end_token"`
	ReturnEndToken        bool `json:"return_end_token" yaml:"return_end_token" toml:"return_end_token"`
	MaxLength             int  `json:"max_length" yaml:"max_length" toml:"max_length"`
	MinLength             int  `json:"min_length" yaml:"min_length" toml:"min_length"`

	// Sampling, used when BeamSize is 1.
	SamplingTopK        int     `json:"sampling_topk" yaml:"sampling_topk" toml:"sampling_topk"`
	SamplingTopP        float32 `json:"sampling_topp" yaml:"sampling_topp" toml:"sampling_topp"`
	SamplingTemperature float32 `json:"sampling_temperature" yaml:"sampling_temperature" toml:"sampling_temperature"`
	// Seed seeds sampling. Zero lets the backend pick one.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`

	// Output shape.
	NumHypotheses               int     `json:"num_hypotheses" yaml:"num_hypotheses" toml:"num_hypotheses"`
	ReturnScores                bool    `json:"return_scores" yaml:"return_scores" toml:"return_scores"`
	ReturnAlternatives          bool    `json:"return_alternatives" yaml:"return_alternatives" toml:"return_alternatives"`
	MinAlternativeExpansionProb float32 `json:"min_alternative_expansion_prob" yaml:"min_alternative_expansion_prob" toml:"min_alternative_expansion_prob"`

	// Prefix reuse.
	StaticPrompt          []string `json:"static_prompt,omitempty" yaml:"static_prompt,omitempty" toml:"static_prompt,omitempty"`
	CacheStaticPrompt     bool     `json:"cache_static_prompt" yaml:"cache_static_prompt" toml:"cache_static_prompt"`
	IncludePromptInResult bool     `json:"include_prompt_in_result" yaml:"include_prompt_in_result" toml:"include_prompt_in_result"`
}

// Default values applied by Defaults.
const (
	DefaultMaxLength = 512
	DefaultTopK      = 1
)

// Defaults returns greedy, single-hypothesis decoding.
func Defaults() Options {
	return Options{
		BeamSize:              1,
		Patience:              1,
		LengthPenalty:         1,
		RepetitionPenalty:     1,
		StopAtDefaultEndToken: true,
		MaxLength:             DefaultMaxLength,
		SamplingTopK:          DefaultTopK,
		SamplingTopP:          1,
		SamplingTemperature:   1,
		NumHypotheses:         1,
		CacheStaticPrompt:     true,
		IncludePromptInResult: true,
	}
}

// IsSampling reports whether decoding draws tokens from the distribution
// rather than taking the argmax.
func (o Options) IsSampling() bool {
	return o.BeamSize == 1 && o.SamplingTopK != 1
}

// IsBeamSearch reports whether more than one beam is kept per element.
func (o Options) IsBeamSearch() bool { return o.BeamSize > 1 }

// Clone returns a copy that shares no slices with o.
func (o Options) Clone() Options {
	c := o
	c.EndToken = o.EndToken.Clone()
	if o.SuppressSequences != nil {
		c.SuppressSequences = make([][]string, len(o.SuppressSequences))
		for i, s := range o.SuppressSequences {
			c.SuppressSequences[i] = append([]string(nil), s...)
		}
	}
	if o.StaticPrompt != nil {
		c.StaticPrompt = append([]string(nil), o.StaticPrompt...)
	}
	return c
}
