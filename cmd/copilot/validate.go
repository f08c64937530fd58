package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/myrqyry/obs-copilot-sub005/internal/config"
)

func validateCmd() *cobra.Command {
	var servicePath string
	cmd := &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Check a rules file (and optionally the service config) for errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if servicePath != "" {
				if _, err := config.Load(servicePath); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: ok\n", servicePath)
			}

			rs, err := config.LoadRules(args[0])
			if err != nil {
				return err
			}
			enabled := 0
			for _, r := range rs.Rules {
				if r.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(out, "%s: ok, %d rule(s), %d enabled\n", args[0], len(rs.Rules), enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&servicePath, "config", "c", "", "service config file to validate as well")
	return cmd
}
