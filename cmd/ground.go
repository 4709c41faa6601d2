package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dbquery/internal/copilot"
)

var groundLimit int

var groundCmd = &cobra.Command{
	Use:   "ground",
	Short: "Manage grounding documents (SLAs, SOPs, definitions)",
}

var groundAddCmd = &cobra.Command{
	Use:   "add [files...]",
	Short: "Upload and embed grounding files (txt, md, csv, json, pdf)",
	Long: `Copy files into <data-dir>/grounding_files and embed them into the vector store.

Examples:
  dbquery ground add vendor_sla.csv
  dbquery --demo=false ground add sop_cold_chain.pdf definitions.md`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		var uploads []copilot.Upload
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				HandleError(err, "Failed to open "+path)
			}
			defer f.Close()
			uploads = append(uploads, copilot.Upload{Name: filepath.Base(path), Reader: f})
		}

		files, err := svc.Ground(ctx, demoMode, uploads)
		if err != nil {
			HandleError(err, "Failed to ground files")
		}
		printJSON(files)
	},
}

var groundSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find the grounding passages closest to a query",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		printJSON(svc.SearchGrounding(ctx, demoMode, strings.Join(args, " "), groundLimit))
	},
}

func init() {
	groundSearchCmd.Flags().IntVarP(&groundLimit, "limit", "l", copilot.GroundingHits, "Maximum number of passages")
	groundCmd.AddCommand(groundAddCmd, groundSearchCmd)
	rootCmd.AddCommand(groundCmd)
}
