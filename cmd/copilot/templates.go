package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

func templatesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Print a starter rules file built from the rule templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC().Truncate(time.Second)
			rs := config.RuleSet{Version: "1"}
			for _, t := range rule.Templates() {
				r := rule.NewFromTemplate(t, now)
				// Templates start disabled in a generated file.
				r.Enabled = false
				rs.Rules = append(rs.Rules, r)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rs)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(rs)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}
