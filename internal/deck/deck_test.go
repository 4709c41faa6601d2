package deck

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbquery/internal/store"
)

func vendorResult() *store.Result {
	return &store.Result{
		Columns: []string{"vendor_id", "vendor_name", "on_time_delivery_rate"},
		Rows: [][]any{
			{"V006", "BluePeak", 0.99},
			{"V001", "Apex Pharma", 0.97},
			{"V003", "Helix Bio", 0.93},
		},
	}
}

func openDeck(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	parts := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		parts[f.Name] = string(b)
	}
	return parts
}

func wellFormed(t *testing.T, name, body string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(body))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return
		}
		require.NoError(t, err, "part %s is not well-formed XML", name)
	}
}

func TestCreatePPTXEmptyDeck(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDeck(nil, &buf, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)))

	parts := openDeck(t, buf.Bytes())
	assert.Contains(t, parts, "ppt/slides/slide1.xml")
	assert.NotContains(t, parts, "ppt/slides/slide2.xml")
	assert.Contains(t, parts["ppt/slides/slide1.xml"], ReportTitle)
	assert.Contains(t, parts["ppt/slides/slide1.xml"], "Generated: 2025-03-04 05:06:07")

	for name, body := range parts {
		if strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".rels") {
			wellFormed(t, name, body)
		}
	}
}

func TestCreatePPTXCards(t *testing.T) {
	r := vendorResult()
	cards := []Card{
		{Title: "Insight with chart", Summary: "SELECT * FROM demo_vendors", Result: r, Chart: AutoChart(r)},
		{Title: "Insight <table>", Summary: "bad chart spec", Result: r, Chart: &ChartSpec{Type: ChartBar, X: "nope", Y: "on_time_delivery_rate"}},
	}

	var buf bytes.Buffer
	require.NoError(t, CreatePPTX(cards, &buf))
	parts := openDeck(t, buf.Bytes())

	require.Contains(t, parts, "ppt/slides/slide3.xml")
	assert.Contains(t, parts["[Content_Types].xml"], "/ppt/slides/slide3.xml")
	assert.Contains(t, parts["ppt/_rels/presentation.xml.rels"], `Id="rId5"`)

	chartSlide := parts["ppt/slides/slide2.xml"]
	assert.Contains(t, chartSlide, "<p:pic>")
	assert.Contains(t, chartSlide, `sz="1400" b="1"`)
	assert.Contains(t, chartSlide, `<a:srgbClr val="282828"/>`)
	assert.Contains(t, parts["ppt/slides/_rels/slide2.xml.rels"], "../media/image1.png")
	assert.True(t, strings.HasPrefix(parts["ppt/media/image1.png"], "\x89PNG"))

	tableSlide := parts["ppt/slides/slide3.xml"]
	assert.Contains(t, tableSlide, "<a:tbl>")
	assert.Contains(t, tableSlide, "BluePeak")
	assert.Contains(t, tableSlide, "Insight &lt;table&gt;")
	assert.NotContains(t, tableSlide, "<p:pic>")

	for name, body := range parts {
		if strings.HasSuffix(name, ".xml") {
			wellFormed(t, name, body)
		}
	}
}

func TestTableSnapshotLimitsRows(t *testing.T) {
	r := &store.Result{Columns: []string{"n"}}
	for i := 0; i < 20; i++ {
		r.Rows = append(r.Rows, []any{i})
	}
	s, err := cardSlide(Card{Title: "t", Result: r}, new(int))
	require.NoError(t, err)

	tbl := s.Shapes[len(s.Shapes)-1]
	assert.Equal(t, SnapshotRows+1, strings.Count(tbl, "<a:tr "))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "insights.pptx")
	require.NoError(t, WriteFile(nil, path))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	assert.NotEmpty(t, zr.File)
}

func TestAutoChart(t *testing.T) {
	testCases := []struct {
		name   string
		result *store.Result
		want   *ChartSpec
	}{
		{name: "nil", result: nil, want: nil},
		{name: "no rows", result: &store.Result{Columns: []string{"a"}}, want: nil},
		{name: "message", result: store.Message("hello"), want: nil},
		{
			name:   "no numeric",
			result: &store.Result{Columns: []string{"a"}, Rows: [][]any{{"x"}}},
			want:   nil,
		},
		{
			name:   "first numeric column",
			result: vendorResult(),
			want:   &ChartSpec{Type: ChartLine, X: "vendor_id", Y: "on_time_delivery_rate"},
		},
		{
			name:   "single numeric column",
			result: &store.Result{Columns: []string{"n"}, Rows: [][]any{{1}, {2}}},
			want:   &ChartSpec{Type: ChartBar, X: "n", Y: "n"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AutoChart(tc.result))
		})
	}
}

func TestRenderChart(t *testing.T) {
	r := vendorResult()

	for _, typ := range []string{ChartLine, ChartBar} {
		t.Run(typ, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderChart(r, &ChartSpec{Type: typ, X: "vendor_name", Y: "on_time_delivery_rate"}, &buf))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))
		})
	}

	t.Run("single point line", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderChart(r.Head(1), &ChartSpec{Type: ChartLine, X: "vendor_id", Y: "on_time_delivery_rate"}, &buf))
		assert.NotZero(t, buf.Len())
	})

	t.Run("text column as Y", func(t *testing.T) {
		err := RenderChart(r, &ChartSpec{Type: ChartBar, X: "vendor_id", Y: "vendor_name"}, io.Discard)
		assert.Error(t, err)
	})
}
