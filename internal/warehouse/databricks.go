package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	dbsql "github.com/databricks/databricks-sql-go"
	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/databricks"
	"dbquery/internal/logging"
	"dbquery/internal/store"
)

// JobsRunner runs SQL through the Jobs API. *databricks.Client implements it.
type JobsRunner interface {
	RunSQL(ctx context.Context, query string) (*store.Result, error)
}

// DatabricksExecutor uses the SQL warehouse connector when an HTTP path is
// configured and the Jobs API on an interactive cluster otherwise
type DatabricksExecutor struct {
	cfg    config.DatabricksConfig
	logger *zap.Logger

	once sync.Once
	db   *sql.DB
	err  error

	jobs JobsRunner
}

func NewDatabricksExecutor(cfg config.DatabricksConfig, logger *zap.Logger) *DatabricksExecutor {
	logger = logging.OrNop(logger)
	e := &DatabricksExecutor{cfg: cfg, logger: logger}
	if cfg.JobsReady() {
		e.jobs = databricks.NewClient(cfg.Host, cfg.Token, cfg.ClusterID, logger)
	}
	return e
}

// WithJobsRunner replaces the Jobs API client
func (e *DatabricksExecutor) WithJobsRunner(r JobsRunner) *DatabricksExecutor {
	e.jobs = r
	return e
}

func (e *DatabricksExecutor) Name() string { return "databricks" }

func (e *DatabricksExecutor) conn() (*sql.DB, error) {
	e.once.Do(func() {
		connector, err := dbsql.NewConnector(
			dbsql.WithServerHostname(databricks.Hostname(e.cfg.Host)),
			dbsql.WithPort(443),
			dbsql.WithHTTPPath(e.cfg.HTTPPath),
			dbsql.WithAccessToken(e.cfg.Token),
		)
		if err != nil {
			e.err = fmt.Errorf("databricks SQL connector error: %w", err)
			return
		}
		e.db = sql.OpenDB(connector)
	})
	return e.db, e.err
}

func (e *DatabricksExecutor) Execute(ctx context.Context, query string) (*store.Result, error) {
	if store.IsCommentOnly(query) {
		return nil, store.ErrEmptyStatement
	}

	if e.cfg.SQLWarehouseReady() {
		db, err := e.conn()
		if err != nil {
			return nil, err
		}
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			e.logger.Error("Databricks SQL query failed", zap.Error(err), zap.String("sql", logging.Truncate(query, 120)))
			return nil, fmt.Errorf("databricks SQL connector error: %w", err)
		}
		defer func() { _ = rows.Close() }()
		return store.ScanRows(rows)
	}

	if e.jobs == nil {
		return nil, ErrNotConfigured
	}

	res, err := e.jobs.RunSQL(ctx, query)
	if err != nil {
		e.logger.Error("Jobs API execution failed", zap.Error(err))
		return nil, fmt.Errorf("jobs API execution failed: %w", err)
	}
	return res, nil
}

// TestConnection runs SELECT 1 against the SQL warehouse
func (e *DatabricksExecutor) TestConnection(ctx context.Context) (string, error) {
	if !e.cfg.SQLWarehouseReady() {
		return "", fmt.Errorf("%w: host, http_path and token are required for the SQL connector", ErrNotConfigured)
	}
	db, err := e.conn()
	if err != nil {
		return "", err
	}

	var ok int
	if err := db.QueryRowContext(ctx, "SELECT 1 as ok").Scan(&ok); err != nil {
		return "", fmt.Errorf("connection test failed: %w", err)
	}
	return fmt.Sprintf("ok=%d", ok), nil
}

func (e *DatabricksExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}
