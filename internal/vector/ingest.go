package vector

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Chunking parameters, in characters
const (
	ChunkSize    = 800
	ChunkOverlap = 100
)

// UploadDir is the directory, relative to the data dir, holding grounding uploads
const UploadDir = "grounding_files"

// ErrInvalidFileName is returned for upload names that reduce to nothing
var ErrInvalidFileName = errors.New("invalid file name")

// Chunk splits text into overlapping windows of at most size runes.
// Windows end on whitespace when one is available in the second half.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if overlap >= size {
		overlap = 0
	}

	var out []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			for i := end; i > start+size/2; i-- {
				if runes[i-1] == ' ' || runes[i-1] == '\n' {
					end = i
					break
				}
			}
		}
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
		start = max(end-overlap, start+1)
	}
	return out
}

// SaveUpload writes r to dir under the base name of name, never outside dir
func SaveUpload(dir, name string, r io.Reader) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == "" {
		return "", ErrInvalidFileName
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(dir, base)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", base, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", base, err)
	}
	return path, nil
}

// IngestFile reads a grounding file, embeds it and stores its chunks.
// Re-ingesting a file replaces its previous chunks once the new ones are embedded.
func (e *Engine) IngestFile(ctx context.Context, path string) (int, error) {
	docs, err := ReadDocuments(path)
	if err != nil {
		return 0, err
	}
	return e.ReplaceSource(ctx, filepath.Base(path), docs)
}

// ReadDocuments extracts documents from a PDF, CSV, JSON or text file
func ReadDocuments(path string) ([]Document, error) {
	source := filepath.Base(path)
	meta := func(extra ...string) map[string]string {
		m := map[string]string{"source": source}
		for i := 0; i+1 < len(extra); i += 2 {
			m[extra[i]] = extra[i+1]
		}
		return m
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err := readPDF(path)
		if err != nil {
			return nil, err
		}
		return []Document{{Text: text, Metadata: meta("type", "pdf")}}, nil

	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		records, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
		if len(records) < 2 {
			return nil, nil
		}
		header := records[0]
		docs := make([]Document, 0, len(records)-1)
		for i, rec := range records[1:] {
			parts := make([]string, 0, len(rec))
			for j, v := range rec {
				if j < len(header) {
					parts = append(parts, header[j]+": "+v)
				}
			}
			docs = append(docs, Document{Text: strings.Join(parts, "; "), Metadata: meta("type", "csv", "row", fmt.Sprint(i+1))})
		}
		return docs, nil

	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return jsonDocuments(data, meta("type", "json"))

	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []Document{{Text: string(data), Metadata: meta("type", "text")}}, nil
	}
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), nil
}

// jsonDocuments turns an array into one document per item and anything else
// into a single document. Items shaped like {"text": ..., "metadata": ...} keep their metadata.
func jsonDocuments(data []byte, meta map[string]string) ([]Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse json: %w", err)
	}

	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		doc := Document{Metadata: copyMeta(meta)}
		switch v := item.(type) {
		case string:
			doc.Text = v
		case map[string]any:
			if text, ok := v["text"].(string); ok {
				doc.Text = text
				if m, ok := v["metadata"].(map[string]any); ok {
					for k, mv := range m {
						doc.Metadata[k] = fmt.Sprint(mv)
					}
				}
			} else {
				b, _ := json.Marshal(v)
				doc.Text = string(b)
			}
		default:
			b, _ := json.Marshal(v)
			doc.Text = string(b)
		}
		if strings.TrimSpace(doc.Text) != "" {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
