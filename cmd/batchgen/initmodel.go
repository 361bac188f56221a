package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"batchgen/internal/hashlm"
)

func newInitModelCmd(a *app) *cobra.Command {
	var words string
	var seed uint64
	cmd := &cobra.Command{
		Use:     "init-model DIR",
		Short:   "Write a small deterministic test model into DIR",
		Example: "  batchgen init-model ./models/tiny --words hello,world,again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := hashlm.CreateSpec{Words: splitCSV(words), Seed: seed}
			if err := hashlm.Create(args[0], spec); err != nil {
				return err
			}
			a.log.Info().Str("dir", args[0]).Msg("model written")
			fmt.Fprintln(cmd.OutOrStdout(), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&words, "words", "", "Comma separated vocabulary words (default: built-in list)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Model seed")
	return cmd
}
