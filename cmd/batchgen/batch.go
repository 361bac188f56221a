package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"batchgen/internal/engine"
	"batchgen/internal/seqbuf"
	"batchgen/internal/tokenizer"
)

// batchLine is one output record of the batch command.
type batchLine struct {
	Index      int      `json:"index"`
	Hypothesis int      `json:"hypothesis"`
	Text       string   `json:"text"`
	Tokens     []string `json:"tokens"`
	Score      *float32 `json:"score,omitempty"`
}

func newBatchCmd(a *app) *cobra.Command {
	var df decodingFlags
	var file string
	var asJSON, quiet bool
	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Generate for every line of a prompts file in one batched call",
		Example: "  batchgen batch --file prompts.txt --max-batch-size 8 --json",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompts, err := readPrompts(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				return errors.New("no prompts")
			}
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
			buf := seqbuf.New[string]()
			buf.Reserve(len(prompts))
			for _, p := range prompts {
				toks, _, err := tok.Encode(p, false)
				if err != nil {
					return err
				}
				buf.PushBack(toks)
			}
			bt, err := engine.ParseBatchType(a.cfg.BatchType)
			if err != nil {
				return err
			}
			opts := df.options(cmd, a.cfg.Decoding)
			if df.suppressEOS {
				if err := mgr.SuppressEndToken(&opts); err != nil {
					return err
				}
			}

			var bar *progressbar.ProgressBar
			if !quiet {
				bar = progressbar.NewOptions(len(prompts),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("Generating"),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}
			tokens := 0
			cb := func(ev engine.StepEvent) bool {
				tokens++
				if ev.IsLast && bar != nil {
					_ = bar.Add(1)
					bar.Describe(fmt.Sprintf("Generating [%d tokens]", tokens))
				}
				return false
			}
			res, err := mgr.Handle().GenerateWithCallback(ctx, buf, a.cfg.MaxBatchSize, bt, opts, cb)
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}
			return writeBatch(cmd.OutOrStdout(), res, asJSON)
		},
	}
	df.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Prompts file, one prompt per line (- reads stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Write one JSON object per hypothesis")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

// readPrompts returns the non-blank lines of path, or of stdin for "-".
func readPrompts(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func writeBatch(w io.Writer, res []engine.Result, asJSON bool) error {
	enc := json.NewEncoder(w)
	for _, r := range res {
		line := batchLine{
			Index:      r.BatchID,
			Hypothesis: r.Hypothesis,
			Text:       tokenizer.DecodeTokens(r.Tokens),
			Tokens:     r.Tokens,
		}
		if r.HasScore {
			s := r.Score
			line.Score = &s
		}
		if asJSON {
			if err := enc.Encode(line); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%d\t%d\t%s\n", line.Index, line.Hypothesis, line.Text); err != nil {
			return err
		}
	}
	return nil
}
