package deck

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"dbquery/internal/store"
)

// Deck text
const (
	ReportTitle = "Automated Insights Report"
	// SnapshotRows is the number of result rows shown when a card has no chart
	SnapshotRows = 8
)

// Slide geometry in EMU (10in x 7.5in)
const (
	slideWidth  = 9144000
	slideHeight = 6858000
	emuPerInch  = 914400
	maxColumns  = 8
	maxCellLen  = 40
)

// Card is one pinned insight rendered as a slide
type Card struct {
	Title   string
	Summary string
	Result  *store.Result
	Chart   *ChartSpec
}

// WriteFile writes the deck to path
func WriteFile(cards []Card, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := CreatePPTX(cards, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CreatePPTX writes a presentation with a title slide and one slide per card
func CreatePPTX(cards []Card, w io.Writer) error {
	return writeDeck(cards, w, time.Now())
}

type rel struct {
	ID     string
	Type   string
	Target string
}

type slide struct {
	Shapes []string
	Rels   []rel
	Media  map[string][]byte
}

const (
	relSlideLayout = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout"
	relImage       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

func writeDeck(cards []Card, w io.Writer, generated time.Time) error {
	slides := []slide{titleSlide(generated)}
	imageNo := 0
	for _, c := range cards {
		s, err := cardSlide(c, &imageNo)
		if err != nil {
			return err
		}
		slides = append(slides, s)
	}

	zw := zip.NewWriter(w)
	files := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", render(contentTypesTmpl, len(slides))},
		{"_rels/.rels", rootRels},
		{"docProps/app.xml", appXML},
		{"docProps/core.xml", render(coreTmpl, generated.UTC().Format(time.RFC3339))},
		{"ppt/presentation.xml", render(presentationTmpl, len(slides))},
		{"ppt/_rels/presentation.xml.rels", render(presentationRelsTmpl, len(slides))},
		{"ppt/slideMasters/slideMaster1.xml", slideMasterXML},
		{"ppt/slideMasters/_rels/slideMaster1.xml.rels", slideMasterRels},
		{"ppt/slideLayouts/slideLayout1.xml", slideLayoutXML},
		{"ppt/slideLayouts/_rels/slideLayout1.xml.rels", slideLayoutRels},
		{"ppt/theme/theme1.xml", themeXML},
	}
	for _, f := range files {
		if err := writeZipFile(zw, f.name, []byte(f.body)); err != nil {
			return err
		}
	}

	for i, s := range slides {
		n := i + 1
		if err := writeZipFile(zw, fmt.Sprintf("ppt/slides/slide%d.xml", n), []byte(render(slideTmpl, s.Shapes))); err != nil {
			return err
		}
		rels := append([]rel{{ID: "rId1", Type: relSlideLayout, Target: "../slideLayouts/slideLayout1.xml"}}, s.Rels...)
		if err := writeZipFile(zw, fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n), []byte(render(relsTmpl, rels))); err != nil {
			return err
		}
		for name, data := range s.Media {
			if err := writeZipFile(zw, "ppt/media/"+name, data); err != nil {
				return err
			}
		}
	}

	return zw.Close()
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func titleSlide(generated time.Time) slide {
	return slide{Shapes: []string{
		textBox(2, "Title", emuPerInch/2, 2*emuPerInch, slideWidth-emuPerInch, emuPerInch*3/2, ReportTitle, runStyle{Size: 4000, Bold: true}),
		textBox(3, "Subtitle", emuPerInch/2, 3*emuPerInch+emuPerInch/2, slideWidth-emuPerInch, emuPerInch, "Generated: "+generated.Format("2006-01-02 15:04:05"), runStyle{Size: 2000}),
	}}
}

func cardSlide(c Card, imageNo *int) (slide, error) {
	s := slide{
		Shapes: []string{
			textBox(2, "Title", emuPerInch/2, emuPerInch/3, slideWidth-emuPerInch, emuPerInch*9/10, c.Title, runStyle{Size: 2800, Bold: true}),
			textBox(3, "Summary", emuPerInch/2, emuPerInch*5/4, slideWidth-emuPerInch, emuPerInch, c.Summary,
				runStyle{Size: 1400, Bold: true, Font: "Arial", Color: "282828"}),
		},
		Media: map[string][]byte{},
	}

	if c.Result == nil {
		return s, nil
	}

	top := emuPerInch * 5 / 2
	height := slideHeight - top - emuPerInch/2

	if c.Chart.Valid(c.Result) {
		var buf bytes.Buffer
		if err := RenderChart(c.Result, c.Chart, &buf); err == nil {
			*imageNo++
			name := fmt.Sprintf("image%d.png", *imageNo)
			s.Media[name] = buf.Bytes()
			s.Rels = append(s.Rels, rel{ID: "rId2", Type: relImage, Target: "../media/" + name})
			s.Shapes = append(s.Shapes, picture(4, "rId2", emuPerInch/2, top, slideWidth-emuPerInch, height))
			return s, nil
		}
	}

	s.Shapes = append(s.Shapes, table(4, c.Result.Head(SnapshotRows), emuPerInch/2, top, slideWidth-emuPerInch))
	return s, nil
}

type runStyle struct {
	Size  int
	Bold  bool
	Font  string
	Color string
}

func (r runStyle) xml() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<a:rPr lang="en-US" sz="%d"`, r.Size)
	if r.Bold {
		b.WriteString(` b="1"`)
	}
	b.WriteString(`>`)
	if r.Color != "" {
		fmt.Fprintf(&b, `<a:solidFill><a:srgbClr val="%s"/></a:solidFill>`, r.Color)
	}
	if r.Font != "" {
		fmt.Fprintf(&b, `<a:latin typeface="%s"/>`, esc(r.Font))
	}
	b.WriteString(`</a:rPr>`)
	return b.String()
}

func paragraphs(text string, style runStyle) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, `<a:p><a:r>%s<a:t>%s</a:t></a:r></a:p>`, style.xml(), esc(line))
	}
	return b.String()
}

func textBox(id int, name string, x, y, cx, cy int, text string, style runStyle) string {
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr txBox="1"/><p:nvPr/></p:nvSpPr>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom><a:noFill/></p:spPr>`+
		`<p:txBody><a:bodyPr wrap="square" rtlCol="0"><a:spAutoFit/></a:bodyPr><a:lstStyle/>%s</p:txBody></p:sp>`,
		id, esc(name), x, y, cx, cy, paragraphs(text, style))
}

func picture(id int, relID string, x, y, cx, cy int) string {
	// keep the 16:9 chart aspect inside the available box
	if h := cx * chartHeight / chartWidth; h <= cy {
		cy = h
	} else {
		cx = cy * chartWidth / chartHeight
	}
	return fmt.Sprintf(`<p:pic><p:nvPicPr><p:cNvPr id="%d" name="Chart"/><p:cNvPicPr><a:picLocks noChangeAspect="1"/></p:cNvPicPr><p:nvPr/></p:nvPicPr>`+
		`<p:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></p:blipFill>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr></p:pic>`,
		id, relID, x, y, cx, cy)
}

func table(id int, r *store.Result, x, y, cx int) string {
	cols := r.Columns
	if len(cols) > maxColumns {
		cols = cols[:maxColumns]
	}
	if len(cols) == 0 {
		return textBox(id, "Empty", x, y, cx, emuPerInch/2, "(no columns)", runStyle{Size: 1200})
	}

	const rowHeight = 370840
	colWidth := cx / len(cols)
	cell := func(text string, bold bool) string {
		text = truncate(text, maxCellLen)
		return fmt.Sprintf(`<a:tc><a:txBody><a:bodyPr/><a:lstStyle/><a:p><a:r>%s<a:t>%s</a:t></a:r></a:p></a:txBody><a:tcPr/></a:tc>`,
			runStyle{Size: 1000, Bold: bold}.xml(), esc(text))
	}

	var b strings.Builder
	b.WriteString(`<a:tbl><a:tblPr firstRow="1" bandRow="1"/><a:tblGrid>`)
	for range cols {
		fmt.Fprintf(&b, `<a:gridCol w="%d"/>`, colWidth)
	}
	b.WriteString(`</a:tblGrid>`)

	fmt.Fprintf(&b, `<a:tr h="%d">`, rowHeight)
	for _, c := range cols {
		b.WriteString(cell(c, true))
	}
	b.WriteString(`</a:tr>`)

	for _, row := range r.Rows {
		fmt.Fprintf(&b, `<a:tr h="%d">`, rowHeight)
		for i := range cols {
			var v any
			if i < len(row) {
				v = row[i]
			}
			b.WriteString(cell(store.Cell(v), false))
		}
		b.WriteString(`</a:tr>`)
	}
	b.WriteString(`</a:tbl>`)

	cy := rowHeight * (len(r.Rows) + 1)
	return fmt.Sprintf(`<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="%d" name="Table"/><p:cNvGraphicFramePr><a:graphicFrameLocks noGrp="1"/></p:cNvGraphicFramePr><p:nvPr/></p:nvGraphicFramePr>`+
		`<p:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></p:xfrm>`+
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/table">%s</a:graphicData></a:graphic></p:graphicFrame>`,
		id, x, y, colWidth*len(cols), cy, b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func esc(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func render(t *template.Template, data any) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		// templates are package constants; a failure is a programming error
		panic(err)
	}
	return b.String()
}

var funcs = template.FuncMap{
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	},
	"add": func(a, b int) int { return a + b },
}
