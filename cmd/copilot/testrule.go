package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/myrqyry/obs-copilot-sub005/internal/action"
	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/engine"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
)

func testRuleCmd() *cobra.Command {
	var rulesPath, id, eventJSON, snapshotPath string
	cmd := &cobra.Command{
		Use:   "test-rule",
		Short: "Dry-run one rule against a mock event payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := config.LoadRules(rulesPath)
			if err != nil {
				return err
			}

			var data map[string]interface{}
			if eventJSON != "" {
				if err := json.Unmarshal([]byte(eventJSON), &data); err != nil {
					return fmt.Errorf("--event: %w", err)
				}
			}

			var snap obs.Snapshot
			if snapshotPath != "" {
				raw, err := os.ReadFile(snapshotPath)
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				if err := json.Unmarshal(raw, &snap); err != nil {
					return fmt.Errorf("parse snapshot %s: %w", snapshotPath, err)
				}
			}

			// No sinks are registered: a dry run never executes actions.
			log := logger.Nop()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			exec := action.NewExecutor(action.NewRegistry(), action.Config{}, log)
			eng := engine.New(ctx, config.EngineConf{}, exec, nil, log)
			defer eng.Shutdown()
			eng.UpdateRules(rs.Rules)
			eng.UpdateObsData(snap)

			r, ok := eng.Rule(id)
			if !ok {
				return fmt.Errorf("rule %q not found in %s", id, rulesPath)
			}
			res := eng.TestRule(r, data)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.WouldTrigger {
				return fmt.Errorf("rule %q would not trigger: %s", id, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", config.DefaultRulesPath, "rules file")
	cmd.Flags().StringVar(&id, "id", "", "rule id")
	cmd.Flags().StringVar(&eventJSON, "event", "", "mock event payload as a JSON object")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "OBS snapshot JSON file to evaluate conditions against")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
