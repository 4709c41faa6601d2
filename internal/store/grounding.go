package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Chunk is a piece of a grounding document with its embedding
type Chunk struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Index     int               `json:"chunk_index"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}

// ScoredChunk is a chunk returned by a similarity search
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// InsertChunks stores chunks in one transaction. Missing IDs are generated.
func (d *DB) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, chunks)
	})
}

// ReplaceSource swaps the chunks of source for chunks in one transaction, so
// a failed insert leaves the previous chunks in place
func (d *DB) ReplaceSource(ctx context.Context, source string, chunks []Chunk) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grounding_chunks WHERE source = ?`, source); err != nil {
			return fmt.Errorf("failed to delete chunks for %s: %w", source, err)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO grounding_chunks (id, source, chunk_index, content, metadata, dims, embedding)
		VALUES (?, ?, ?, ?, ?, ?, CAST(? AS FLOAT[]))
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		_, err = stmt.ExecContext(ctx, c.ID, c.Source, c.Index, c.Content, string(meta),
			len(c.Embedding), vectorLiteral(c.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", c.Index, c.Source, err)
		}
	}
	return nil
}

// SearchChunks returns the k chunks closest to embedding by cosine similarity.
// Only chunks embedded with the same dimensionality are compared.
func (d *DB) SearchChunks(ctx context.Context, embedding []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 || len(embedding) == 0 {
		return nil, nil
	}

	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, source, chunk_index, content, metadata, created_at,
			CAST(COALESCE(list_cosine_similarity(embedding, CAST(? AS FLOAT[])), 0) AS DOUBLE) AS score
		FROM grounding_chunks
		WHERE dims = ?
		ORDER BY score DESC
		LIMIT ?
	`, vectorLiteral(embedding), len(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ScoredChunk
	for rows.Next() {
		var (
			sc   ScoredChunk
			meta string
		)
		if err := rows.Scan(&sc.ID, &sc.Source, &sc.Index, &sc.Content, &meta, &sc.CreatedAt, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &sc.Metadata); err != nil {
				d.logger.Warn("Ignoring malformed chunk metadata", zap.String("id", sc.ID), zap.Error(err))
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// CountChunks returns the number of stored chunks
func (d *DB) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM grounding_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
