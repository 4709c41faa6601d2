package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	dataDir    string
	configPath string
	demoMode   bool
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "dbquery",
		Short: "DBQuery - pharma supply chain data copilot",
		Long: `DBQuery turns supply chain questions into SQL, lets you review and run it
against a demo DuckDB warehouse or Databricks, and packages the results
as pinned insights, charts and slide decks.

When run without commands, it launches an interactive TUI.
Use subcommands for CLI mode with JSON output.`,
		Run: func(cmd *cobra.Command, args []string) {
			// No subcommand specified - launch TUI
			svc, logger, cleanup, err := InitService(context.Background(), false)
			if err != nil {
				HandleError(err, "Failed to initialize")
			}
			defer cleanup()
			LaunchTUI(svc, logger, demoMode)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "tmpdata/", "Directory for the local warehouse, uploads, exports and logs")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Settings file (default <data-dir>/config/settings.json)")
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", true, "Use the demo generator, warehouse and grounding")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also log to stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
