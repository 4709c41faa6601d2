package warehouse

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"dbquery/internal/logging"
	"dbquery/internal/store"
)

// ErrNotConfigured is returned when the real warehouse has no usable settings
var ErrNotConfigured = errors.New("missing Databricks configuration: need host+token+cluster_id for Jobs API path")

// DemoNoSQLMessage is shown when there is nothing mapped to run in demo mode
const DemoNoSQLMessage = "Demo: no mapped SQL - try 'top vendors' or 'trace batch'"

// Executor runs SQL and returns a tabular result
type Executor interface {
	Execute(ctx context.Context, sql string) (*store.Result, error)
	Name() string
}

// DemoExecutor runs SQL on the local DuckDB demo tables. Statements that write
// are rejected so the demo tables stay intact; any other query that cannot run
// falls back to keyword matching on the SQL text.
type DemoExecutor struct {
	db     *store.DB
	logger *zap.Logger
}

func NewDemoExecutor(db *store.DB, logger *zap.Logger) *DemoExecutor {
	return &DemoExecutor{db: db, logger: logging.OrNop(logger)}
}

func (e *DemoExecutor) Name() string { return "demo" }

func (e *DemoExecutor) Execute(ctx context.Context, sql string) (*store.Result, error) {
	if store.IsCommentOnly(sql) {
		return store.Message(DemoNoSQLMessage), nil
	}
	if err := store.CheckReadOnly(sql); err != nil {
		e.logger.Warn("Demo query rejected", zap.Error(err), zap.String("sql", logging.Truncate(sql, 120)))
		return nil, err
	}

	res, err := e.db.Query(ctx, sql)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.logger.Warn("Demo query failed, using keyword fallback", zap.Error(err), zap.String("sql", logging.Truncate(sql, 120)))
	return e.fallback(ctx, sql), nil
}

// fallback mirrors the keyword mapping used before the demo data lived in DuckDB
func (e *DemoExecutor) fallback(ctx context.Context, sql string) *store.Result {
	s := strings.ToLower(sql)

	switch {
	case strings.Contains(s, "vendor") && strings.Contains(s, "top"):
		res, err := e.db.Query(ctx, "SELECT * FROM demo_vendors ORDER BY on_time_delivery_rate DESC")
		if err != nil {
			return store.Message("demo vendors missing")
		}
		return res
	case strings.Contains(s, "batch") || strings.Contains(s, "supply"):
		res, err := e.db.Query(ctx, "SELECT * FROM demo_batches")
		if err != nil {
			return store.Message("demo batches missing")
		}
		return res
	}
	return store.Message(DemoNoSQLMessage)
}
