package sqlgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dbquery/internal/store"
)

// Generation sources
const (
	SourceDemo   = "demo"
	SourceClaude = "claude"
	SourceGemini = "gemini"
)

// ErrEmptySQL is returned when a model answers without a query
var ErrEmptySQL = errors.New("model generated an empty SQL query")

// Request is a natural-language question plus the context given to the generator
type Request struct {
	Prompt    string
	Schema    string
	Grounding []string
	// PreviousSQL and PreviousError ask the generator to correct a failed query
	PreviousSQL   string
	PreviousError string
}

// Generation is generated SQL and the reasoning behind it
type Generation struct {
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
	Source    string `json:"source"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Generation, error)
}

// Refine is the demo refinement: it tags the query as refined
func Refine(sql string) string {
	if sql == "" {
		return sql
	}
	return sql + " -- refined"
}

// IsCommentOnly reports whether sql has nothing to execute
func IsCommentOnly(sql string) bool {
	return store.IsCommentOnly(sql)
}

// modelResponse is the JSON shape both LLM generators ask for
type modelResponse struct {
	Explanation string `json:"explanation"`
	SQLQuery    string `json:"sql_query"`
}

const promptBase = `You are a data analyst assistant for a pharmaceutical supply chain team.
You translate business questions about vendors, batches, materials and deliveries into a single read-only SQL query.

**Available Tables:**
%s
%s
**User Question:** "%s"

**SQL Guidelines:**
- Generate exactly one SELECT statement (no INSERT, UPDATE, DELETE or DDL)
- Use only tables and columns listed above
- Prefer explicit column lists over SELECT *
- Add LIMIT 200 unless the question asks for an aggregate
- The warehouse speaks Spark SQL / DuckDB compatible syntax

**Response Format (JSON only):**
{
  "explanation": "One or two sentences describing which columns you chose and why",
  "sql_query": "SELECT ..."
}
`

// buildPrompt renders the generation prompt, adding an error-correction
// section when the request carries a failed query
func buildPrompt(req Request) string {
	schema := strings.TrimSpace(req.Schema)
	if schema == "" {
		schema = "(no schema available; infer conservative table names from the question)"
	}

	var grounding string
	if len(req.Grounding) > 0 {
		var b strings.Builder
		b.WriteString("\n**Business Context (from grounding documents):**\n")
		for _, g := range req.Grounding {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(g))
			b.WriteString("\n")
		}
		grounding = b.String()
	}

	prompt := fmt.Sprintf(promptBase, schema, grounding, req.Prompt)

	if req.PreviousSQL != "" && req.PreviousError != "" {
		return prompt + fmt.Sprintf(`
**IMPORTANT - SQL ERROR CORRECTION:**

Your previous SQL query failed. Analyze the error and generate a corrected query.

Previous SQL Query:
%s

Error Message:
%s

Return ONLY the corrected JSON with the fixed sql_query field.`, req.PreviousSQL, req.PreviousError)
	}

	return prompt + "\nReturn ONLY JSON, no other text."
}

// parseResponse extracts the JSON object from a model answer, which may be
// wrapped in markdown fences
func parseResponse(text string) (*modelResponse, error) {
	jsonStr := text
	if strings.Contains(text, "```json") {
		start := strings.Index(text, "```json") + 7
		end := strings.Index(text[start:], "```")
		if end > 0 {
			jsonStr = text[start : start+end]
		}
	} else if strings.Contains(text, "```") {
		start := strings.Index(text, "```") + 3
		end := strings.Index(text[start:], "```")
		if end > 0 {
			jsonStr = text[start : start+end]
		}
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse SQL response as JSON: %w", err)
	}
	resp.SQLQuery = strings.TrimSpace(resp.SQLQuery)
	if resp.SQLQuery == "" {
		return nil, ErrEmptySQL
	}
	return &resp, nil
}
