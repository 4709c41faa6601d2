package copilot

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"dbquery/internal/graph"
	"dbquery/internal/session"
	"dbquery/internal/sqlgen"
	"dbquery/internal/store"
)

// Review is the explainability view of the generated SQL
type Review struct {
	SQL       string   `json:"sql"`
	Rationale string   `json:"rationale"`
	Source    string   `json:"source,omitempty"`
	ReadOnly  bool     `json:"read_only"`
	Notes     []string `json:"notes"`
}

const noRationale = "No rationale available."

var limitClause = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)

// GenerateSQL turns prompt into SQL. Demo sessions use the keyword rules; real
// sessions use the configured LLM with the exported schema and grounding hits.
// The session is not locked while the generator runs.
func (s *Service) GenerateSQL(ctx context.Context, sess *session.Session, prompt string) (*sqlgen.Generation, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	sess.Lock()
	demo := sess.DemoMode
	sess.Unlock()

	var (
		gen *sqlgen.Generation
		err error
	)
	if demo {
		gen, err = sqlgen.DemoGenerator{}.Generate(ctx, sqlgen.Request{Prompt: prompt})
	} else {
		gen, err = s.generateReal(ctx, sqlgen.Request{Prompt: prompt})
	}
	if err != nil {
		s.logger.Error("SQL generation failed", zap.Error(err), zap.Bool("demo", demo))
		return nil, err
	}

	sess.Lock()
	sess.GeneratedSQL = gen.SQL
	sess.Rationale = gen.Rationale
	sess.Source = gen.Source
	sess.LastPrompt = prompt
	sess.LastError = ""
	sess.AddHistory("GenSQL: " + head(prompt, 80))
	sess.Unlock()

	s.logger.Info("SQL generated",
		zap.String("session", sess.ID),
		zap.String("source", gen.Source),
		zap.String("sql", head(gen.SQL, 120)))
	return gen, nil
}

func (s *Service) generateReal(ctx context.Context, req sqlgen.Request) (*sqlgen.Generation, error) {
	gen, err := s.generator(ctx)
	if err != nil {
		return nil, err
	}

	schema, err := graph.LoadSchema(filepath.Join(s.opts.DataDir, graph.ExportFile))
	if err != nil {
		s.logger.Warn("Failed to load exported schema", zap.Error(err))
	}
	req.Schema = graph.Describe(schema)

	for _, h := range s.SearchGrounding(ctx, false, req.Prompt, GroundingHits) {
		req.Grounding = append(req.Grounding, h.Text)
	}

	return gen.Generate(ctx, req)
}

// RefineSQL refines the current SQL. When a real execution just failed the
// LLM is asked to correct the query; otherwise the demo refinement applies.
// Without SQL it is a no-op.
func (s *Service) RefineSQL(ctx context.Context, sess *session.Session) (string, error) {
	sess.Lock()
	if sess.GeneratedSQL == "" {
		sess.Unlock()
		return "", nil
	}
	if sess.DemoMode || sess.LastError == "" || sess.LastPrompt == "" {
		sess.GeneratedSQL = sqlgen.Refine(sess.GeneratedSQL)
		refined := sess.GeneratedSQL
		sess.Unlock()
		return refined, nil
	}
	req := sqlgen.Request{
		Prompt:        sess.LastPrompt,
		PreviousSQL:   sess.GeneratedSQL,
		PreviousError: sess.LastError,
	}
	sess.Unlock()

	gen, err := s.generateReal(ctx, req)
	if err != nil {
		return req.PreviousSQL, err
	}

	sess.Lock()
	defer sess.Unlock()
	sess.GeneratedSQL = gen.SQL
	sess.Rationale = gen.Rationale
	sess.Source = gen.Source
	sess.LastError = ""
	sess.AddHistory("RefineSQL: corrected after error")
	return sess.GeneratedSQL, nil
}

// Clear drops the generated SQL and rationale
func (s *Service) Clear(sess *session.Session) {
	sess.Lock()
	defer sess.Unlock()
	sess.GeneratedSQL = ""
	sess.Rationale = ""
	sess.Source = ""
	sess.LastError = ""
}

// Review explains the current SQL and runs the safety checks
func (s *Service) Review(sess *session.Session) Review {
	sess.Lock()
	defer sess.Unlock()
	return ReviewSQL(sess.GeneratedSQL, sess.Rationale, sess.Source)
}

// ReviewSQL runs the read-only and comment-only checks on sql
func ReviewSQL(sql, rationale, source string) Review {
	r := Review{SQL: sql, Rationale: rationale, Source: source, ReadOnly: true}
	if r.Rationale == "" {
		r.Rationale = noRationale
	}

	switch {
	case strings.TrimSpace(sql) == "":
		r.Notes = append(r.Notes, "No SQL generated yet.")
	case store.IsCommentOnly(sql):
		r.Notes = append(r.Notes, "Query has no executable statement; refine the prompt.")
	default:
		body := store.StripComments(sql)
		if kw := store.WriteViolations(sql); len(kw) > 0 {
			r.ReadOnly = false
			r.Notes = append(r.Notes, fmt.Sprintf("Query modifies data or schema (%s); review before executing.", strings.Join(kw, ", ")))
		} else {
			r.Notes = append(r.Notes, "Read-only query.")
		}
		if !limitClause.MatchString(body) {
			r.Notes = append(r.Notes, "No LIMIT clause; large tables may return many rows.")
		}
	}
	return r
}

// Execute runs the generated SQL and keeps the result on the session. The
// session stays unlocked while the warehouse runs the query.
func (s *Service) Execute(ctx context.Context, sess *session.Session) (*store.Result, error) {
	sess.Lock()
	sql, demo := sess.GeneratedSQL, sess.DemoMode
	sess.Unlock()
	if sql == "" {
		return nil, ErrNoSQL
	}

	exec := s.executorFor(demo)
	res, err := exec.Execute(ctx, sql)

	sess.Lock()
	defer sess.Unlock()
	if err != nil {
		sess.LastError = err.Error()
		s.logger.Error("Execution failed",
			zap.String("session", sess.ID),
			zap.String("executor", exec.Name()),
			zap.Error(err))
		return nil, fmt.Errorf("execution error: %w", err)
	}

	sess.LastResult = res
	sess.LastSQL = sql
	sess.LastError = ""
	if demo {
		sess.AddHistory("ExecSQL: " + head(sql, 120))
	} else {
		sess.AddHistory("ExecSQL: REAL - " + head(sql, 120))
	}

	s.logger.Info("Query executed",
		zap.String("session", sess.ID),
		zap.String("executor", exec.Name()),
		zap.Int("rows", res.Len()))
	return res, nil
}

// LastResult returns the most recent result, or nil
func (s *Service) LastResult(sess *session.Session) *store.Result {
	sess.Lock()
	defer sess.Unlock()
	return sess.LastResult
}

// Query runs sql directly, bypassing the session. Used by the CLI and the agent.
func (s *Service) Query(ctx context.Context, demo bool, sql string) (*store.Result, error) {
	return s.executorFor(demo).Execute(ctx, sql)
}

// Generate runs a generator without touching a session
func (s *Service) Generate(ctx context.Context, demo bool, prompt string) (*sqlgen.Generation, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if demo {
		return sqlgen.DemoGenerator{}.Generate(ctx, sqlgen.Request{Prompt: prompt})
	}
	return s.generateReal(ctx, sqlgen.Request{Prompt: prompt})
}
