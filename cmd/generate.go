package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"dbquery/internal/copilot"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate SQL and a rationale for a question",
	Long: `Turn a natural language question into SQL without running it.
The output includes the rationale and the read-only review notes.

Examples:
  dbquery generate "Show top 5 vendors in US by on-time delivery rate"
  dbquery --demo=false generate "Shipments delayed more than 3 days by lane"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		gen, err := svc.Generate(ctx, demoMode, strings.Join(args, " "))
		if err != nil {
			HandleError(err, "Failed to generate SQL")
		}

		printJSON(copilot.ReviewSQL(gen.SQL, gen.Rationale, gen.Source))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
