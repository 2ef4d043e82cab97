package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without reading any input",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d sources, merge policy %s, output %s\n",
			len(cfg.Sources), cfg.Merge.Policy, cfg.Output.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
