// Command copilot runs the OBS automation rule engine.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "copilot",
		Short:        "Rule-based automation for OBS Studio and Streamer.bot",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(serveCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(testRuleCmd())
	root.AddCommand(templatesCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
