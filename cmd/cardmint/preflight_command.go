package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cardmint/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, imaging commands, and inference endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			for _, result := range results {
				mark := "ok"
				if !result.Passed {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "%-4s %-22s %s\n", mark, result.Name, result.Detail)
			}
			if !preflight.AllPassed(results) {
				return fmt.Errorf("preflight found problems")
			}
			return nil
		},
	}
}
