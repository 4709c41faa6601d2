package copilot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"dbquery/internal/graph"
	"dbquery/internal/vector"
)

// Upload is a grounding file received from a user
type Upload struct {
	Name   string
	Reader io.Reader
}

// GroundedFile reports one ingested upload
type GroundedFile struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Chunks int    `json:"chunks"`
}

// SchemaSync reports a schema extraction
type SchemaSync struct {
	Tables     int    `json:"tables"`
	ExportPath string `json:"export_path"`
	Synced     bool   `json:"synced"`
}

// grounder returns the engine used for demo or real grounding
func (s *Service) grounder(ctx context.Context, demo bool) (*vector.Engine, error) {
	if demo {
		return s.demoGrounding, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realGrounder != nil {
		return s.realGrounder, nil
	}

	embedder := s.opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = vector.NewEmbedder(ctx, s.settings.Vector, false)
		if err != nil {
			return nil, err
		}
	}
	if embedder.Name() == "hash" {
		s.realGrounder = s.demoGrounding
	} else {
		s.realGrounder = vector.NewEngine(s.db, embedder, s.logger)
	}
	return s.realGrounder, nil
}

// UploadDir is where grounding uploads are kept
func (s *Service) UploadDir() string {
	return filepath.Join(s.opts.DataDir, vector.UploadDir)
}

// Ground saves and embeds each upload. It stops at the first failure and
// returns what was ingested so far.
func (s *Service) Ground(ctx context.Context, demo bool, uploads []Upload) ([]GroundedFile, error) {
	engine, err := s.grounder(ctx, demo)
	if err != nil {
		return nil, err
	}

	var out []GroundedFile
	for _, u := range uploads {
		path, err := vector.SaveUpload(s.UploadDir(), u.Name, u.Reader)
		if err != nil {
			return out, fmt.Errorf("failed to save %s: %w", u.Name, err)
		}
		n, err := engine.IngestFile(ctx, path)
		if err != nil {
			return out, fmt.Errorf("failed to ingest %s: %w", filepath.Base(path), err)
		}
		out = append(out, GroundedFile{Name: filepath.Base(path), Path: path, Chunks: n})
	}

	s.logger.Info("Saved grounding files", zap.Int("files", len(out)), zap.String("dir", s.UploadDir()))
	return out, nil
}

// SearchGrounding returns the k passages closest to query. Failures yield no hits.
func (s *Service) SearchGrounding(ctx context.Context, demo bool, query string, k int) []vector.Hit {
	engine, err := s.grounder(ctx, demo)
	if err != nil {
		s.logger.Warn("Grounding unavailable", zap.Error(err))
		return []vector.Hit{}
	}
	return engine.SimilaritySearch(ctx, query, k)
}

// Schema returns the schema used for prompts: the demo schema in demo mode,
// the last export otherwise
func (s *Service) Schema(demo bool) (graph.Schema, error) {
	if demo {
		return graph.DemoSchema(), nil
	}
	return graph.LoadSchema(filepath.Join(s.opts.DataDir, graph.ExportFile))
}

// ExtractSchema reads the warehouse schema and saves it to schema_export.json
func (s *Service) ExtractSchema(ctx context.Context, demo bool) (graph.Schema, SchemaSync, error) {
	schema, err := graph.ExtractSchema(ctx, s.executorFor(demo), demo, s.logger)
	if err != nil {
		return nil, SchemaSync{}, err
	}

	res := SchemaSync{Tables: len(schema), ExportPath: filepath.Join(s.opts.DataDir, graph.ExportFile)}
	if err := graph.SaveSchema(res.ExportPath, schema); err != nil {
		return nil, res, err
	}
	return schema, res, nil
}

// SyncSchema extracts the warehouse schema, saves it to schema_export.json and
// mirrors it into Neo4j. The export is kept even when Neo4j is not configured.
func (s *Service) SyncSchema(ctx context.Context, demo bool) (SchemaSync, error) {
	schema, res, err := s.ExtractSchema(ctx, demo)
	if err != nil {
		return res, err
	}

	runner, err := s.connectGraph(ctx, s.currentSettings().Neo4j)
	if err != nil {
		if errors.Is(err, graph.ErrNotConfigured) {
			s.logger.Warn("Neo4j not configured; schema exported only")
		}
		return res, err
	}
	defer runner.Close(ctx)

	if err := graph.Sync(ctx, runner, schema, s.logger); err != nil {
		return res, err
	}
	res.Synced = true
	return res, nil
}
