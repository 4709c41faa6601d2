package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"dbquery/internal/store"
)

func TestResultChartNoNumericColumn(t *testing.T) {
	r := &store.Result{
		Columns: []string{"vendor_id", "vendor_name"},
		Rows:    [][]any{{"V001", "Acme"}},
	}
	got := ResultChart(r, 80, lipgloss.Color("99"))
	if !strings.HasPrefix(got, "No numeric column to chart.") {
		t.Errorf("Unexpected chart for text-only result: %q", got)
	}

	if got := ResultChart(store.Message("nothing"), 80, lipgloss.Color("99")); !strings.HasPrefix(got, "No numeric column") {
		t.Errorf("Expected message results not to chart, got %q", got)
	}
}

func TestResultChartBars(t *testing.T) {
	r := &store.Result{
		Columns: []string{"vendor_id", "on_time_delivery_rate"},
		Rows: [][]any{
			{"V006", 0.99},
			{"V001", 0.9},
			{"V003", nil},
		},
	}
	got := ResultChart(r, 80, lipgloss.Color("99"))

	for _, want := range []string{"on_time_delivery_rate by vendor_id (line)", "V006", "V001", "Trend:", "Min", "Avg", "Max", "0.99", "0.90"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in chart:\n%s", want, got)
		}
	}
	if strings.Contains(got, "V003") {
		t.Error("Rows without a number should be skipped")
	}
}

func TestResultChartCapsBars(t *testing.T) {
	r := &store.Result{Columns: []string{"material", "qty"}}
	for i := 0; i < maxChartBars+5; i++ {
		r.Rows = append(r.Rows, []any{fmt.Sprintf("M%02d", i), int64(i + 1)})
	}

	got := ResultChart(r, 100, lipgloss.Color("99"))
	if !strings.Contains(got, "... 5 more rows") {
		t.Errorf("Expected overflow note, got:\n%s", got)
	}
	if strings.Contains(got, fmt.Sprintf("M%02d", maxChartBars)) {
		t.Error("Expected bars beyond the cap to be omitted")
	}
}

func TestTruncateLabel(t *testing.T) {
	if got := truncateLabel("short"); got != "short" {
		t.Errorf("Expected short label unchanged, got %q", got)
	}

	long := "Northwind Cold Chain Logistics"
	got := truncateLabel(long)
	if n := len([]rune(got)); n != maxLabelLength {
		t.Errorf("Expected %d runes, got %d (%q)", maxLabelLength, n, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("Expected ellipsis, got %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{in: 42, want: "42"},
		{in: -3, want: "-3"},
		{in: 0.956, want: "0.96"},
		{in: 1234.5, want: "1234.50"},
	}

	for _, tc := range testCases {
		if got := formatValue(tc.in); got != tc.want {
			t.Errorf("formatValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil); got != "" {
		t.Errorf("Expected empty sparkline, got %q", got)
	}

	got := []rune(Sparkline([]float64{1, 5, 8}))
	if len(got) != 3 || got[0] != '▁' || got[2] != '█' {
		t.Errorf("Unexpected sparkline %q", string(got))
	}

	flat := Sparkline([]float64{3, 3, 3})
	if flat != "▅▅▅" {
		t.Errorf("Expected flat sparkline to sit mid-height, got %q", flat)
	}
}
