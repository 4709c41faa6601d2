package sqlgen

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoSQL(t *testing.T) {
	testCases := []struct {
		name          string
		prompt        string
		wantSQLPrefix string
		wantRationale string
	}{
		{
			name:          "top vendors",
			prompt:        "Show me the TOP vendors by delivery",
			wantSQLPrefix: "SELECT vendor_id, vendor_name, on_time_delivery_rate FROM demo_vendors",
			wantRationale: "Selecting vendor_id and on_time_delivery_rate to rank vendors by delivery performance.",
		},
		{
			name:          "trace batch",
			prompt:        "trace batch B2025001",
			wantSQLPrefix: "SELECT batch_id, material_id, vendor_id, status FROM demo_batches",
			wantRationale: "Retrieve batch lineage details for matching batch_id pattern.",
		},
		{
			name:          "insulin delays",
			prompt:        "Why are insulin shipments delayed?",
			wantSQLPrefix: "SELECT batch_id, vendor_id, status, received_qty, produced_qty FROM demo_batches",
			wantRationale: "Filter batches by material_name and show production/receipt quantities to spot delays.",
		},
		{
			name:          "first match wins",
			prompt:        "top vendor for each batch trace",
			wantSQLPrefix: "SELECT vendor_id, vendor_name",
		},
		{
			name:          "category breakdown",
			prompt:        "delivery rate by product category",
			wantSQLPrefix: "SELECT product_category",
		},
		{
			name:          "unmapped prompt",
			prompt:        "hello there",
			wantSQLPrefix: DemoFallbackSQL,
			wantRationale: "Could not confidently map to a demo SQL. Please refine.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := DemoGenerator{}.Generate(context.Background(), Request{Prompt: tc.prompt})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(gen.SQL, tc.wantSQLPrefix), "got %q", gen.SQL)
			assert.Equal(t, SourceDemo, gen.Source)
			if tc.wantRationale != "" {
				assert.Equal(t, tc.wantRationale, gen.Rationale)
			}
		})
	}
}

func TestDemoFallbackIsCommentOnly(t *testing.T) {
	sql, _ := DemoSQL("nothing relevant")
	assert.True(t, IsCommentOnly(sql))
	assert.True(t, IsCommentOnly(Refine(sql)))

	sql, _ = DemoSQL("top vendors")
	assert.False(t, IsCommentOnly(sql))
}

func TestRefine(t *testing.T) {
	assert.Equal(t, "", Refine(""))
	assert.Equal(t, "SELECT 1 -- refined", Refine("SELECT 1"))
	assert.Equal(t, "SELECT 1 -- refined -- refined", Refine(Refine("SELECT 1")))
}

func TestBuildPrompt(t *testing.T) {
	req := Request{
		Prompt:    "top vendors",
		Schema:    "demo_vendors(vendor_id, vendor_name)",
		Grounding: []string{"OTIF means on time in full"},
	}

	p := buildPrompt(req)
	assert.Contains(t, p, `"top vendors"`)
	assert.Contains(t, p, "demo_vendors(vendor_id, vendor_name)")
	assert.Contains(t, p, "- OTIF means on time in full")
	assert.NotContains(t, p, "ERROR CORRECTION")

	req.PreviousSQL = "SELECT nope FROM demo_vendors"
	req.PreviousError = "column nope not found"
	p = buildPrompt(req)
	assert.Contains(t, p, "ERROR CORRECTION")
	assert.Contains(t, p, "column nope not found")
}

func TestParseResponse(t *testing.T) {
	testCases := []struct {
		name    string
		text    string
		wantSQL string
		wantErr bool
	}{
		{name: "plain json", text: `{"explanation":"e","sql_query":"SELECT 1"}`, wantSQL: "SELECT 1"},
		{name: "json fence", text: "Here:\n```json\n{\"explanation\":\"e\",\"sql_query\":\"SELECT 2\"}\n```", wantSQL: "SELECT 2"},
		{name: "bare fence", text: "```\n{\"sql_query\":\" SELECT 3 \"}\n```", wantSQL: "SELECT 3"},
		{name: "not json", text: "SELECT 1", wantErr: true},
		{name: "empty sql", text: `{"explanation":"e","sql_query":""}`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := parseResponse(tc.text)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantSQL, resp.SQLQuery)
		})
	}
}

func TestClaudeGenerator(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
			gotPrompt = req.Messages[0].Content[0].Text
		}

		answer := "```json\n{\"explanation\":\"rank vendors\",\"sql_query\":\"SELECT vendor_id FROM demo_vendors\"}\n```"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-haiku-4-5-20251001",
			"content":       []map[string]any{{"type": "text", "text": answer}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 10},
		})
	}))
	defer srv.Close()

	gen, err := NewClaudeGenerator("sk-test", "", nil, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), Request{Prompt: "best vendors", Schema: "demo_vendors(vendor_id)"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT vendor_id FROM demo_vendors", out.SQL)
	assert.Equal(t, "rank vendors", out.Rationale)
	assert.Equal(t, SourceClaude, out.Source)
	assert.Contains(t, gotPrompt, "best vendors")
}

func TestClaudeGeneratorRequiresKey(t *testing.T) {
	_, err := NewClaudeGenerator("", "", nil)
	assert.Error(t, err)
}

func TestGeminiGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"explanation":"batches","sql_query":"SELECT batch_id FROM demo_batches"}`}},
				},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	gen, err := NewGeminiGenerator(context.Background(), "test-key", "", srv.URL, nil)
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), Request{Prompt: "list batches"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT batch_id FROM demo_batches", out.SQL)
	assert.Equal(t, SourceGemini, out.Source)
}
