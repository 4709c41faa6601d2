package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dbquery/internal/agent"
)

var askModel string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question using Claude AI via Fantasy",
	Long: `Ask a natural language question and get an answer backed by the warehouse.
The agent can describe the schema, draft and run read-only SQL and search the
grounding documents.

Requires ANTHROPIC_API_KEY environment variable to be set.

Example:
  dbquery ask "Which vendors missed the OTIF target last quarter?"
  dbquery ask "What does the cold chain SOP say about insulin excursions?"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		opts := []agent.AgentOption{agent.WithAPIKeyFromEnv(), agent.WithDemo(demoMode)}
		if askModel != "" {
			opts = append(opts, agent.WithModel(askModel))
		}

		answer, err := agent.GenerateResponse(ctx, strings.Join(args, " "), svc, opts...)
		if err != nil {
			HandleError(err, "Failed to generate response")
		}

		fmt.Println(answer)
	},
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Claude model (default claude-haiku-4-5)")
	rootCmd.AddCommand(askCmd)
}
