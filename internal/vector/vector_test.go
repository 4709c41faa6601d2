package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbquery/internal/config"
	"dbquery/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewEngine(db, NewHashEmbedder(), nil)
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	h := NewHashEmbedder()
	vecs, err := h.Embed(context.Background(), []string{"Insulin cold chain", "insulin COLD chain", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Len(t, vecs[0], HashDimensions)
	assert.Equal(t, vecs[0], vecs[1], "embedding ignores case")

	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	for _, x := range vecs[2] {
		assert.Zero(t, x)
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"otif", "on", "time", "in", "full", "95"}, Tokenize("OTIF (On-Time In-Full) 95%"))
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("   ", 800, 100))
	assert.Equal(t, []string{"short text"}, Chunk("short text", 800, 100))

	text := strings.Repeat("word ", 400) // 2000 chars
	chunks := Chunk(text, 800, 100)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 800)
	}
}

func TestSimilaritySearchRanksRelevantDocsFirst(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	n, err := e.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(LoadDemoDocuments()), n)

	again, err := e.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Zero(t, again, "seeding is skipped once chunks exist")

	hits := e.SimilaritySearch(ctx, "what does OTIF on-time in-full mean", 3)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "OTIF")
	assert.Equal(t, "demo", hits[0].Metadata["source"])
}

func TestSimilaritySearchEmptyStore(t *testing.T) {
	e := newTestEngine(t)
	hits := e.SimilaritySearch(context.Background(), "anything", 5)
	assert.Empty(t, hits)
	assert.NotNil(t, hits)
}

func TestLoadDemoDocuments(t *testing.T) {
	docs := LoadDemoDocuments()
	require.NotEmpty(t, docs)
	assert.Equal(t, "Vendor ABC has 98% on-time delivery performance", docs[0].Text)
}

func TestIngestFiles(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	files := map[string]string{
		"sla.md":    "# Vendor SLA\nVendors must ship insulin within 48 hours of the purchase order.",
		"rows.csv":  "vendor,region\nApex,US\nHelix,DE\n",
		"docs.json": `[{"text": "Quality hold blocks batch release", "metadata": {"owner": "QA"}}, "plain string doc"]`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	n, err := e.IngestFile(ctx, filepath.Join(dir, "sla.md"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.IngestFile(ctx, filepath.Join(dir, "rows.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one document per CSV row")

	n, err = e.IngestFile(ctx, filepath.Join(dir, "docs.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// re-ingesting replaces previous chunks
	_, err = e.IngestFile(ctx, filepath.Join(dir, "rows.csv"))
	require.NoError(t, err)
	total, err := e.db.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	hits := e.SimilaritySearch(ctx, "quality hold batch release", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "QA", hits[0].Metadata["owner"])
}

// flakyEmbedder fails every call once fail is set
type flakyEmbedder struct {
	*HashEmbedder
	fail bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("quota exceeded")
	}
	return f.HashEmbedder.Embed(ctx, texts)
}

func TestReingestKeepsChunksWhenEmbeddingFails(t *testing.T) {
	db, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	emb := &flakyEmbedder{HashEmbedder: NewHashEmbedder()}
	e := NewEngine(db, emb, nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("vendor,region\nApex,US\nHelix,DE\n"), 0o644))
	n, err := e.IngestFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	before, err := db.CountChunks(ctx)
	require.NoError(t, err)

	emb.fail = true
	_, err = e.IngestFile(ctx, path)
	require.ErrorContains(t, err, "quota exceeded")

	after, err := db.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed re-ingest must not drop the stored chunks")

	emb.fail = false
	assert.NotEmpty(t, e.SimilaritySearch(ctx, "Apex US", 1))
}

func TestReadDocumentsCSVFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	docs, err := ReadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a: 1; b: 2", docs[0].Text)
	assert.Equal(t, "1", docs[0].Metadata["row"])
}

func TestSaveUploadStripsPaths(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name     string
		wantBase string
		wantErr  bool
	}{
		{name: "report.pdf", wantBase: "report.pdf"},
		{name: "../../etc/passwd", wantBase: "passwd"},
		{name: `..\..\evil.txt`, wantBase: "evil.txt"},
		{name: "", wantErr: true},
		{name: "..", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path, err := SaveUpload(dir, tc.name, strings.NewReader("x"))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFileName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tc.wantBase), path)
		})
	}
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbedder(ctx, config.VectorConfig{Provider: config.VectorProviderGemini, APIKey: "k"}, true)
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Name(), "demo mode stays offline")

	_, err = NewEmbedder(ctx, config.VectorConfig{Provider: config.VectorProviderGemini}, false)
	assert.Error(t, err, "gemini without a key")

	_, err = NewEmbedder(ctx, config.VectorConfig{Provider: "Pinecone"}, false)
	assert.Error(t, err)
}

func TestGenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Requests []json.RawMessage `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		embeddings := make([]map[string]any, len(req.Requests))
		for i := range embeddings {
			embeddings[i] = map[string]any{"values": []float32{0.1, 0.2, 0.3}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewGenAIEmbedder(context.Background(), "test-key", "", srv.URL)
	require.NoError(t, err)

	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 3, e.Dimensions())
}
