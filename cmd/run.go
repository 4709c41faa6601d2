package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"dbquery/internal/store"
)

var (
	runSQL    string
	runPrompt string
	runFormat string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute SQL against the demo warehouse or Databricks",
	Long: `Execute SQL and print the result.
Pass --sql to run a query as is, or --prompt to generate the SQL first.

Examples:
  dbquery run --sql "SELECT * FROM demo_vendors LIMIT 5"
  dbquery run --prompt "Trace batch B2025001" --format table
  dbquery --demo=false run --sql "SHOW TABLES" --format csv`,
	Run: func(cmd *cobra.Command, args []string) {
		if runSQL == "" && runPrompt == "" {
			HandleError(fmt.Errorf("--sql or --prompt is required"), "Missing query parameter")
		}

		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		query := runSQL
		if query == "" {
			gen, err := svc.Generate(ctx, demoMode, runPrompt)
			if err != nil {
				HandleError(err, "Failed to generate SQL")
			}
			query = gen.SQL
		}

		res, err := svc.Query(ctx, demoMode, query)
		if err != nil {
			HandleError(err, "Failed to execute query")
		}

		if err := writeResult(os.Stdout, res, runFormat); err != nil {
			HandleError(err, "Failed to write result")
		}
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSQL, "sql", "q", "", "SQL query to execute")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Question to generate SQL from")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "json", "Output format: json, table or csv")
	rootCmd.AddCommand(runCmd)
}

// writeResult renders res in the requested format
func writeResult(w io.Writer, res *store.Result, format string) error {
	switch format {
	case "csv":
		return res.WriteCSV(w)
	case "table":
		if res.IsMessage() {
			_, err := fmt.Fprintln(w, res.Text())
			return err
		}
		if res.Len() == 0 {
			_, err := fmt.Fprintln(w, "No results found")
			return err
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader(res.Columns)
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = store.Cell(v)
			}
			table.Append(cells)
		}
		table.Render()
		return nil
	case "json", "":
		rows := make([]map[string]any, 0, res.Len())
		for _, row := range res.Rows {
			m := make(map[string]any, len(res.Columns))
			for i, col := range res.Columns {
				if i < len(row) {
					m[col] = row[i]
				}
			}
			rows = append(rows, m)
		}
		enc := jsonEncoder(w)
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unknown format %q (use json, table or csv)", format)
	}
}
