package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dbquery/internal/graph"
)

// SchemaOutput represents the schema information for a table
type SchemaOutput struct {
	TableName   string   `json:"table_name"`
	ColumnCount int      `json:"column_count"`
	Columns     []string `json:"columns"`
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show, extract or sync the warehouse schema",
	Long: `Print the schema used for SQL prompts: the demo tables in demo mode,
the last schema export otherwise.

Examples:
  dbquery schema
  dbquery schema extract
  dbquery --demo=false schema sync`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup := mustService(context.Background())
		defer cleanup()

		schema, err := svc.Schema(demoMode)
		if err != nil {
			HandleError(err, "Failed to load schema")
		}
		printJSON(schemaOutput(schema))
	},
}

var schemaExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the warehouse schema to schema_export.json",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		schema, res, err := svc.ExtractSchema(ctx, demoMode)
		if err != nil {
			HandleError(err, "Failed to extract schema")
		}
		fmt.Printf("Exported %d tables to %s\n", res.Tables, res.ExportPath)
		printJSON(schemaOutput(schema))
	},
}

var schemaSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Extract the warehouse schema and mirror it into Neo4j",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		res, err := svc.SyncSchema(ctx, demoMode)
		if err != nil {
			if errors.Is(err, graph.ErrNotConfigured) && res.ExportPath != "" {
				fmt.Printf("Neo4j is not configured; schema exported to %s only\n", res.ExportPath)
				printJSON(res)
				return
			}
			HandleError(err, "Failed to sync schema")
		}
		printJSON(res)
	},
}

func init() {
	schemaCmd.AddCommand(schemaExtractCmd, schemaSyncCmd)
	rootCmd.AddCommand(schemaCmd)
}

func schemaOutput(schema graph.Schema) []SchemaOutput {
	out := make([]SchemaOutput, 0, len(schema))
	for _, name := range schema.Tables() {
		cols := schema[name]
		out = append(out, SchemaOutput{TableName: name, ColumnCount: len(cols), Columns: cols})
	}
	return out
}
