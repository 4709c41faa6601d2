package sqlgen

import (
	"context"
	"strings"
)

// DemoFallbackSQL is returned when no demo rule matches
const DemoFallbackSQL = "-- DEMO: refine prompt (try 'top vendors', 'trace batch', or 'insulin delays')"

type demoRule struct {
	keywords  []string
	sql       string
	rationale string
}

// Rules are checked in order; the first rule whose keywords all appear wins
var demoRules = []demoRule{
	{
		keywords:  []string{"top", "vendor"},
		sql:       "SELECT vendor_id, vendor_name, on_time_delivery_rate FROM demo_vendors ORDER BY on_time_delivery_rate DESC LIMIT 5",
		rationale: "Selecting vendor_id and on_time_delivery_rate to rank vendors by delivery performance.",
	},
	{
		keywords:  []string{"trace", "batch"},
		sql:       "SELECT batch_id, material_id, vendor_id, status FROM demo_batches WHERE batch_id LIKE 'B2025%'",
		rationale: "Retrieve batch lineage details for matching batch_id pattern.",
	},
	{
		keywords:  []string{"insulin", "delay"},
		sql:       "SELECT batch_id, vendor_id, status, received_qty, produced_qty FROM demo_batches WHERE material_name ILIKE '%insulin%'",
		rationale: "Filter batches by material_name and show production/receipt quantities to spot delays.",
	},
	{
		keywords:  []string{"category"},
		sql:       "SELECT product_category, ROUND(AVG(on_time_delivery_rate), 3) AS avg_on_time_delivery_rate, COUNT(*) AS vendors FROM demo_vendors GROUP BY product_category ORDER BY avg_on_time_delivery_rate DESC",
		rationale: "Group vendors by product_category and average on_time_delivery_rate to compare categories.",
	},
}

// DemoGenerator maps prompts to canned SQL with keyword rules. It never calls out.
type DemoGenerator struct{}

func (DemoGenerator) Generate(_ context.Context, req Request) (*Generation, error) {
	sql, rationale := DemoSQL(req.Prompt)
	return &Generation{SQL: sql, Rationale: rationale, Source: SourceDemo}, nil
}

// DemoSQL returns the SQL and rationale for prompt
func DemoSQL(prompt string) (string, string) {
	p := strings.ToLower(prompt)
	for _, rule := range demoRules {
		if containsAll(p, rule.keywords) {
			return rule.sql, rule.rationale
		}
	}
	return DemoFallbackSQL, "Could not confidently map to a demo SQL. Please refine."
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}
