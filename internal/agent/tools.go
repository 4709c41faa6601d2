package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"charm.land/fantasy"

	"dbquery/internal/graph"
	"dbquery/internal/sqlgen"
	"dbquery/internal/store"
	"dbquery/internal/vector"
)

const (
	defaultHits = 3
	// maxToolRows keeps run_sql answers small enough for the model context
	maxToolRows = 50
)

// Backend is the part of the copilot service the tools call. *copilot.Service implements it.
type Backend interface {
	Generate(ctx context.Context, demo bool, prompt string) (*sqlgen.Generation, error)
	Query(ctx context.Context, demo bool, sql string) (*store.Result, error)
	SearchGrounding(ctx context.Context, demo bool, query string, k int) []vector.Hit
	Schema(demo bool) (graph.Schema, error)
}

type GenerateSQLInput struct {
	Question string `json:"question" description:"Natural language question about the supply chain data"`
}

type RunSQLInput struct {
	SQL string `json:"sql" description:"A read-only SQL query to execute"`
}

type SearchGroundingInput struct {
	Query string `json:"query" description:"Text to look up in the grounding documents"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of passages (default: 3)"`
}

type DescribeSchemaInput struct {
	Table string `json:"table,omitempty" description:"Optional table name filter"`
}

// Tools returns the agent tools bound to backend
func Tools(backend Backend, demo bool) []fantasy.AgentTool {
	h := handlers{backend: backend, demo: demo}
	return []fantasy.AgentTool{
		fantasy.NewAgentTool("generate_sql", "Draft a SQL query and rationale for a natural language question", wrap(h.generateSQL)),
		fantasy.NewAgentTool("run_sql", "Execute a read-only SQL query and return up to 50 rows as JSON", wrap(h.runSQL)),
		fantasy.NewAgentTool("search_grounding", "Search the grounding documents (SLAs, SOPs, definitions) for relevant passages", wrap(h.searchGrounding)),
		fantasy.NewAgentTool("describe_schema", "List warehouse tables and their columns", wrap(h.describeSchema)),
	}
}

// wrap adapts a handler to a Fantasy tool function. Handler errors are
// returned to the model as error responses so it can recover.
func wrap[T any](fn func(context.Context, T) (string, error)) func(context.Context, T, fantasy.ToolCall) (fantasy.ToolResponse, error) {
	return func(ctx context.Context, input T, _ fantasy.ToolCall) (fantasy.ToolResponse, error) {
		out, err := fn(ctx, input)
		if err != nil {
			return fantasy.NewTextErrorResponse(err.Error()), nil
		}
		return fantasy.NewTextResponse(out), nil
	}
}

type handlers struct {
	backend Backend
	demo    bool
}

func (h handlers) generateSQL(ctx context.Context, in GenerateSQLInput) (string, error) {
	if strings.TrimSpace(in.Question) == "" {
		return "", fmt.Errorf("question parameter is required")
	}
	gen, err := h.backend.Generate(ctx, h.demo, in.Question)
	if err != nil {
		return "", fmt.Errorf("failed to generate SQL: %v", err)
	}
	return toJSON(gen)
}

func (h handlers) runSQL(ctx context.Context, in RunSQLInput) (string, error) {
	if strings.TrimSpace(in.SQL) == "" {
		return "", fmt.Errorf("sql parameter is required")
	}
	if err := store.CheckReadOnly(in.SQL); err != nil {
		return "", fmt.Errorf("refusing to run SQL: %v", err)
	}
	res, err := h.backend.Query(ctx, h.demo, in.SQL)
	if err != nil {
		return "", fmt.Errorf("failed to run SQL: %v", err)
	}

	out := struct {
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		TotalRows int      `json:"total_rows"`
		Truncated bool     `json:"truncated,omitempty"`
	}{
		Columns:   res.Columns,
		Rows:      res.Head(maxToolRows).Rows,
		TotalRows: res.Len(),
		Truncated: res.Len() > maxToolRows,
	}
	return toJSON(out)
}

func (h handlers) searchGrounding(ctx context.Context, in SearchGroundingInput) (string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query parameter is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultHits
	}
	hits := h.backend.SearchGrounding(ctx, h.demo, in.Query, limit)
	if len(hits) == 0 {
		return "No grounding passages found.", nil
	}
	return toJSON(hits)
}

func (h handlers) describeSchema(_ context.Context, in DescribeSchemaInput) (string, error) {
	schema, err := h.backend.Schema(h.demo)
	if err != nil {
		return "", fmt.Errorf("failed to load schema: %v", err)
	}
	if len(schema) == 0 {
		return "No schema exported yet. Run `dbquery schema sync` first.", nil
	}

	if in.Table != "" {
		filtered := graph.Schema{}
		for name, cols := range schema {
			if strings.Contains(strings.ToLower(name), strings.ToLower(in.Table)) {
				filtered[name] = cols
			}
		}
		if len(filtered) == 0 {
			return "", fmt.Errorf("no table matching %q", in.Table)
		}
		schema = filtered
	}
	return graph.Describe(schema), nil
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result as JSON: %v", err)
	}
	return string(b), nil
}
