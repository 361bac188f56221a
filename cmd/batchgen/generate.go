package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"batchgen/internal/decoding"
	"batchgen/internal/engine"
	"batchgen/internal/seqbuf"
	"batchgen/internal/tokenizer"
)

func newGenerateCmd(a *app) *cobra.Command {
	var df decodingFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "generate PROMPT...",
		Short:   "Generate a continuation of one prompt, printing tokens as they arrive",
		Example: "  batchgen generate --models-dir ./models the quick brown fox",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr, err := a.newManager(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer mgr.Close()
			tok := mgr.Tokenizer()
			if tok == nil {
				return errors.New("model has no tokenizer")
			}
			toks, _, err := tok.Encode(strings.Join(args, " "), false)
			if err != nil {
				return err
			}
			opts := df.options(cmd, a.cfg.Decoding)
			if df.suppressEOS {
				if err := mgr.SuppressEndToken(&opts); err != nil {
					return err
				}
			}
			res, err := streamOne(ctx, mgr.Handle(), toks, opts, func(ev engine.StepEvent) {
				if !asJSON {
					fmt.Fprint(cmd.OutOrStdout(), piece(ev.Token))
				}
			})
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	df.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final results as JSON instead of streaming text")
	return cmd
}

// streamOne generates for a single input and passes each step event to
// onStep in order.
func streamOne(ctx context.Context, h *engine.Handle, toks []string, opts decoding.Options, onStep func(engine.StepEvent)) ([]engine.Result, error) {
	if h == nil {
		return nil, errors.New("no model loaded")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, ar, err := h.Stream(ctx, seqbuf.FromSlices([][]string{toks}), 0, engine.BatchExamples, opts, 16)
	if err != nil {
		return nil, err
	}
	for ev := range ch {
		onStep(ev)
	}
	return ar.Wait(ctx)
}

// piece renders one token for incremental output.
func piece(tok string) string {
	return strings.ReplaceAll(tok, tokenizer.WordBoundary, " ")
}
