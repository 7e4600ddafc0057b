package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLabelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "Print the candidate labels sent with every request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			set, err := cfg.LabelSet()
			if err != nil {
				return err
			}
			for i, name := range set.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i+1, name)
			}
			return nil
		},
	}
}
