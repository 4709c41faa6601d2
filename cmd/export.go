package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	exportPrompts []string
	exportOut     string
	exportEmail   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Build a slide deck of insights from one or more questions",
	Long: `Generate, execute and pin one insight per --prompt, then write the pinned
insights as a PowerPoint deck. With --email the deck is also mailed using
the SMTP settings.

Examples:
  dbquery export --prompt "Show top 5 vendors in US by on-time delivery rate"
  dbquery export --prompt "Top vendors" --prompt "Insulin shipments delayed" --email ops@example.com`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(exportPrompts) == 0 {
			HandleError(fmt.Errorf("at least one --prompt is required"), "Missing prompt")
		}

		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		sess := svc.Sessions().New()
		svc.SetDemoMode(sess, demoMode)
		for _, p := range exportPrompts {
			if _, err := svc.GenerateSQL(ctx, sess, p); err != nil {
				HandleError(err, "Failed to generate SQL for "+p)
			}
			if _, err := svc.Execute(ctx, sess); err != nil {
				HandleError(err, "Failed to execute SQL for "+p)
			}
			if _, err := svc.Pin(sess); err != nil {
				HandleError(err, "Failed to pin insight")
			}
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(dataDir, "exports", svc.DeckFileName())
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			HandleError(err, "Failed to create export directory")
		}
		f, err := os.Create(out)
		if err != nil {
			HandleError(err, "Failed to create deck file")
		}
		if err := svc.ExportPinned(sess, f); err != nil {
			f.Close()
			HandleError(err, "Failed to export deck")
		}
		if err := f.Close(); err != nil {
			HandleError(err, "Failed to write deck file")
		}
		fmt.Printf("Exported %d insights to %s\n", len(exportPrompts), out)

		if exportEmail != "" {
			if err := svc.EmailPinned(sess, exportEmail); err != nil {
				HandleError(err, "Failed to email deck")
			}
			fmt.Printf("Emailed deck to %s\n", exportEmail)
		}
	},
}

func init() {
	exportCmd.Flags().StringArrayVarP(&exportPrompts, "prompt", "p", nil, "Question to pin (repeatable)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default <data-dir>/exports/insights_<time>.pptx)")
	exportCmd.Flags().StringVar(&exportEmail, "email", "", "Also email the deck to this address")
	rootCmd.AddCommand(exportCmd)
}
