package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"dbquery/internal/logging"
	"dbquery/internal/store"
)

// Document is a text with free-form metadata
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Hit is a search result
type Hit struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Engine embeds grounding documents into the DuckDB chunk table and searches them
type Engine struct {
	db       *store.DB
	embedder Embedder
	logger   *zap.Logger
}

func NewEngine(db *store.DB, embedder Embedder, logger *zap.Logger) *Engine {
	return &Engine{db: db, embedder: embedder, logger: logging.OrNop(logger)}
}

// EmbedAndStore chunks, embeds and stores docs under source. It returns the number of chunks stored.
func (e *Engine) EmbedAndStore(ctx context.Context, source string, docs []Document) (int, error) {
	chunks, err := e.embed(ctx, source, docs)
	if err != nil || len(chunks) == 0 {
		return 0, err
	}
	if err := e.db.InsertChunks(ctx, chunks); err != nil {
		return 0, err
	}
	e.logStored(source, len(chunks))
	return len(chunks), nil
}

// ReplaceSource embeds docs and then swaps them in for the chunks already stored
// under source. When embedding fails the stored chunks are untouched.
func (e *Engine) ReplaceSource(ctx context.Context, source string, docs []Document) (int, error) {
	chunks, err := e.embed(ctx, source, docs)
	if err != nil {
		return 0, err
	}
	if err := e.db.ReplaceSource(ctx, source, chunks); err != nil {
		return 0, err
	}
	e.logStored(source, len(chunks))
	return len(chunks), nil
}

func (e *Engine) embed(ctx context.Context, source string, docs []Document) ([]store.Chunk, error) {
	var (
		texts  []string
		chunks []store.Chunk
	)
	for _, doc := range docs {
		for i, part := range Chunk(doc.Text, ChunkSize, ChunkOverlap) {
			texts = append(texts, part)
			chunks = append(chunks, store.Chunk{
				Source:   source,
				Index:    len(chunks),
				Content:  part,
				Metadata: withChunkIndex(doc.Metadata, i),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("failed to embed %s: got %d vectors for %d chunks", source, len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return chunks, nil
}

func (e *Engine) logStored(source string, n int) {
	e.logger.Info("Embedded grounding documents",
		zap.String("source", source),
		zap.Int("chunks", n),
		zap.String("embedder", e.embedder.Name()))
}

func withChunkIndex(meta map[string]string, i int) map[string]string {
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if i > 0 {
		out["part"] = fmt.Sprint(i)
	}
	return out
}

// SimilaritySearch returns the top k hits for query. Failures are logged and
// produce an empty result.
func (e *Engine) SimilaritySearch(ctx context.Context, query string, k int) []Hit {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		e.logger.Warn("Grounding search embed failed", zap.Error(err))
		return []Hit{}
	}

	scored, err := e.db.SearchChunks(ctx, vectors[0], k)
	if err != nil {
		e.logger.Warn("Grounding search failed", zap.Error(err))
		return []Hit{}
	}

	hits := make([]Hit, 0, len(scored))
	for _, c := range scored {
		hits = append(hits, Hit{Text: c.Content, Metadata: c.Metadata, Score: c.Score})
	}
	return hits
}

// SeedDemo stores the bundled demo documents when the chunk table is empty
func (e *Engine) SeedDemo(ctx context.Context) (int, error) {
	n, err := e.db.CountChunks(ctx)
	if err != nil || n > 0 {
		return 0, err
	}
	return e.EmbedAndStore(ctx, store.VectorsFile, LoadDemoDocuments())
}

// LoadDemoDocuments returns the bundled supply chain documents, or two canned
// vendor sentences when the bundle cannot be read
func LoadDemoDocuments() []Document {
	fallback := []Document{
		{Text: "Vendor ABC has 98% on-time delivery performance", Metadata: map[string]string{"source": "demo"}},
		{Text: "Vendor XYZ has high defect rate and delays", Metadata: map[string]string{"source": "demo"}},
	}

	data, err := store.DemoFile(store.VectorsFile)
	if err != nil {
		return fallback
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil || len(docs) == 0 {
		return fallback
	}
	return docs
}
