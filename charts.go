package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dbquery/internal/deck"
	"dbquery/internal/store"
)

const (
	maxChartBars   = 20
	maxLabelLength = 18
)

// BarChart creates a horizontal bar chart
func BarChart(label string, value, max float64, width int, color lipgloss.Color) string {
	if max == 0 {
		max = value
	}

	percentage := 0.0
	if max != 0 {
		percentage = value / max
	}
	if percentage > 1 {
		percentage = 1
	}

	filledWidth := int(float64(width) * percentage)
	if filledWidth < 0 {
		filledWidth = 0
	}
	if filledWidth > width {
		filledWidth = width
	}

	filled := strings.Repeat("█", filledWidth)
	empty := strings.Repeat("░", width-filledWidth)

	barStyle := lipgloss.NewStyle().Foreground(color)
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return fmt.Sprintf("%s %s%s %s",
		label,
		barStyle.Render(filled),
		emptyStyle.Render(empty),
		formatValue(value),
	)
}

// Sparkline creates a simple sparkline from values
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	// Find min and max
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	// Sparkline characters from bottom to top
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var result strings.Builder
	for _, v := range values {
		var idx int
		if max == min {
			idx = len(chars) / 2
		} else {
			normalized := (v - min) / (max - min)
			idx = int(normalized * float64(len(chars)-1))
		}
		result.WriteRune(chars[idx])
	}

	return result.String()
}

// InfoBox creates a styled info box with a value
func InfoBox(label string, value string, color lipgloss.Color) string {
	labelStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("240")).
		Width(10).
		Align(lipgloss.Left)

	valueStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(color).
		Width(12).
		Align(lipgloss.Right)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1)

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		labelStyle.Render(label),
		valueStyle.Render(value),
	)

	return boxStyle.Render(content)
}

type bar struct {
	label string
	value float64
}

// chartBars pairs X labels with numeric Y values, skipping rows with no number
func chartBars(r *store.Result, spec *deck.ChartSpec) []bar {
	xi, yi := r.ColumnIndex(spec.X), r.ColumnIndex(spec.Y)
	var out []bar
	for i, row := range r.Rows {
		if yi >= len(row) || xi >= len(row) {
			continue
		}
		v, ok := store.ToFloat(row[yi])
		if !ok {
			continue
		}
		label := store.Cell(row[xi])
		if spec.X == spec.Y {
			label = fmt.Sprint(i + 1)
		}
		out = append(out, bar{label: label, value: v})
	}
	return out
}

// ResultChart draws the automatic chart for r in the terminal: one bar per row,
// a sparkline for line charts and min/avg/max boxes
func ResultChart(r *store.Result, width int, color lipgloss.Color) string {
	spec := deck.AutoChart(r)
	if spec == nil {
		return "No numeric column to chart. Execute a query that returns numbers."
	}

	bars := chartBars(r, spec)
	if len(bars) == 0 {
		return fmt.Sprintf("No numeric values in %s.", spec.Y)
	}

	labelWidth := 0
	for _, item := range bars {
		if n := len([]rune(truncateLabel(item.label))); n > labelWidth {
			labelWidth = n
		}
	}

	barWidth := width - labelWidth - 16
	if barWidth < 10 {
		barWidth = 10
	}

	values := make([]float64, len(bars))
	max, min, sum := math.Inf(-1), math.Inf(1), 0.0
	for i, item := range bars {
		values[i] = item.value
		sum += item.value
		max = math.Max(max, item.value)
		min = math.Min(min, item.value)
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(color)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s by %s (%s)", spec.Y, spec.X, spec.Type)))
	b.WriteString("\n\n")

	shown := bars
	if len(shown) > maxChartBars {
		shown = shown[:maxChartBars]
	}
	scale := max
	if min < 0 {
		scale = math.Max(math.Abs(min), max)
	}
	for _, item := range shown {
		label := fmt.Sprintf("%-*s", labelWidth, truncateLabel(item.label))
		b.WriteString(BarChart(label, math.Abs(item.value), scale, barWidth, color))
		b.WriteString("\n")
	}
	if len(bars) > maxChartBars {
		b.WriteString(fmt.Sprintf("... %d more rows\n", len(bars)-maxChartBars))
	}

	if spec.Type == deck.ChartLine && len(values) > 1 {
		b.WriteString("\nTrend: ")
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render(Sparkline(values)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		InfoBox("Min", formatValue(min), color),
		InfoBox("Avg", formatValue(sum/float64(len(values))), color),
		InfoBox("Max", formatValue(max), color),
	))

	return b.String()
}

func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelLength {
		return s
	}
	return string(r[:maxLabelLength-1]) + "…"
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
