package deck

import (
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"

	"dbquery/internal/store"
)

// Chart types
const (
	ChartBar  = "bar"
	ChartLine = "line"
)

// Chart image size in pixels
const (
	chartWidth  = 960
	chartHeight = 540
)

// ChartSpec describes which columns to plot
type ChartSpec struct {
	Type  string `json:"type"`
	X     string `json:"x"`
	Y     string `json:"y"`
	Title string `json:"title,omitempty"`
}

// Valid reports whether the spec references existing columns and a numeric Y
func (s *ChartSpec) Valid(r *store.Result) bool {
	if s == nil || r == nil || r.Len() == 0 {
		return false
	}
	if r.ColumnIndex(s.X) < 0 || r.ColumnIndex(s.Y) < 0 {
		return false
	}
	for _, c := range r.NumericColumns() {
		if c == s.Y {
			return true
		}
	}
	return false
}

// AutoChart plots the first numeric column against the first column.
// It returns nil when the result has no rows or no numeric column.
func AutoChart(r *store.Result) *ChartSpec {
	if r == nil || r.IsMessage() || r.Len() == 0 || len(r.Columns) == 0 {
		return nil
	}
	numeric := r.NumericColumns()
	if len(numeric) == 0 {
		return nil
	}

	spec := &ChartSpec{Type: ChartLine, X: r.Columns[0], Y: numeric[0]}
	if spec.X == spec.Y {
		spec.Type = ChartBar
	}
	return spec
}

type point struct {
	label string
	value float64
}

func points(r *store.Result, spec *ChartSpec) []point {
	xi, yi := r.ColumnIndex(spec.X), r.ColumnIndex(spec.Y)
	out := make([]point, 0, r.Len())
	for i, row := range r.Rows {
		v, ok := store.ToFloat(row[yi])
		if !ok {
			continue
		}
		label := store.Cell(row[xi])
		if spec.X == spec.Y {
			label = fmt.Sprint(i + 1)
		}
		out = append(out, point{label: label, value: v})
	}
	return out
}

// RenderChart draws spec over r as a PNG. Line charts with a single point are drawn as bars.
func RenderChart(r *store.Result, spec *ChartSpec, w io.Writer) error {
	if !spec.Valid(r) {
		return fmt.Errorf("chart columns %q/%q not plottable", spec.X, spec.Y)
	}

	pts := points(r, spec)
	if len(pts) == 0 {
		return fmt.Errorf("no numeric values in %q", spec.Y)
	}

	title := spec.Title
	if title == "" {
		title = spec.Y + " by " + spec.X
	}

	if spec.Type == ChartLine && len(pts) > 1 {
		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		ticks := make([]chart.Tick, len(pts))
		for i, p := range pts {
			xs[i] = float64(i)
			ys[i] = p.value
			ticks[i] = chart.Tick{Value: float64(i), Label: p.label}
		}

		graph := chart.Chart{
			Title:  title,
			Width:  chartWidth,
			Height: chartHeight,
			XAxis:  chart.XAxis{Name: spec.X, Ticks: ticks},
			YAxis:  chart.YAxis{Name: spec.Y, Range: yRange(pts)},
			Series: []chart.Series{
				chart.ContinuousSeries{Name: spec.Y, XValues: xs, YValues: ys},
			},
		}
		return graph.Render(chart.PNG, w)
	}

	bars := make([]chart.Value, len(pts))
	for i, p := range pts {
		bars[i] = chart.Value{Value: p.value, Label: p.label}
	}
	graph := chart.BarChart{
		Title:    title,
		Width:    chartWidth,
		Height:   chartHeight,
		BarWidth: max(10, chartWidth/(2*len(bars)+2)),
		YAxis:    chart.YAxis{Range: yRange(pts)},
		Bars:     bars,
	}
	return graph.Render(chart.PNG, w)
}

// yRange always includes zero and never collapses to a single value
func yRange(pts []point) *chart.ContinuousRange {
	lo, hi := 0.0, 0.0
	for _, p := range pts {
		lo = min(lo, p.value)
		hi = max(hi, p.value)
	}
	if hi == lo {
		hi = lo + 1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}
