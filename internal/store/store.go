package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"dbquery/internal/logging"
)

// FileName is the DuckDB database created inside the data directory
const FileName = "dbquery.duckdb"

// Bundled demo files
const (
	VendorFile  = "vendor_performance.json"
	BatchFile   = "supply_chain_sample.csv"
	VectorsFile = "demo_supply_chain_vectors.json"
)

// ErrEmptyStatement is returned when a statement holds nothing but comments
var ErrEmptyStatement = errors.New("statement contains no executable SQL")

//go:embed demo_data
var demoFS embed.FS

type DB struct {
	conn    *sql.DB
	dataDir string
	logger  *zap.Logger
}

type vendorRow struct {
	VendorID           string  `json:"vendor_id"`
	VendorName         string  `json:"vendor_name"`
	Country            string  `json:"country"`
	ProductCategory    string  `json:"product_category"`
	OnTimeDeliveryRate float64 `json:"on_time_delivery_rate"`
	DefectRate         float64 `json:"defect_rate"`
	OTIFRate           float64 `json:"otif_rate"`
}

// Open opens <dataDir>/dbquery.duckdb and loads the demo tables on first use
func Open(dataDir string, logger *zap.Logger) (*DB, error) {
	logger = logging.OrNop(logger)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		logger.Error("Failed to open DuckDB database", zap.Error(err), zap.String("db_path", dbPath))
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	d := &DB{
		conn:    conn,
		dataDir: dataDir,
		logger:  logger,
	}

	if err := d.initialize(context.Background()); err != nil {
		conn.Close()
		logger.Error("Database initialization failed", zap.Error(err), zap.String("data_dir", dataDir))
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return d, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// DataDir returns the directory holding the database file
func (d *DB) DataDir() string {
	return d.dataDir
}

// DemoDataDir is where the bundled demo files are written on first open
func (d *DB) DemoDataDir() string {
	return filepath.Join(d.dataDir, "demo_data")
}

// DemoFile returns the contents of a bundled demo file
func DemoFile(name string) ([]byte, error) {
	return demoFS.ReadFile("demo_data/" + name)
}

func (d *DB) initialize(ctx context.Context) error {
	if err := d.materializeDemoFiles(); err != nil {
		return err
	}

	missing := false
	for _, table := range []string{"demo_vendors", "demo_batches"} {
		exists, err := d.tableExists(ctx, table)
		if err != nil {
			return err
		}
		missing = missing || !exists
	}
	if missing {
		start := time.Now()
		if err := d.loadDemoTables(ctx); err != nil {
			return err
		}
		d.logger.Info("Demo tables loaded", zap.Duration("elapsed", time.Since(start)))
	}

	return d.createGroundingTable(ctx)
}

// materializeDemoFiles copies the embedded demo files next to the database so
// they can be read by DuckDB and inspected by users
func (d *DB) materializeDemoFiles() error {
	dir := d.DemoDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create demo data dir: %w", err)
	}

	return fs.WalkDir(demoFS, "demo_data", func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		dst := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		data, err := demoFS.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dst, err)
		}
		return nil
	})
}

func (d *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

func (d *DB) loadDemoTables(ctx context.Context) error {
	raw, err := DemoFile(VendorFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", VendorFile, err)
	}
	var vendors []vendorRow
	if err := json.Unmarshal(raw, &vendors); err != nil {
		return fmt.Errorf("failed to parse %s: %w", VendorFile, err)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	_, err = tx.ExecContext(ctx, `
		CREATE OR REPLACE TABLE demo_vendors (
			vendor_id VARCHAR PRIMARY KEY,
			vendor_name VARCHAR,
			country VARCHAR,
			product_category VARCHAR,
			on_time_delivery_rate DOUBLE,
			defect_rate DOUBLE,
			otif_rate DOUBLE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create demo_vendors table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO demo_vendors VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare vendor insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vendors {
		_, err := stmt.ExecContext(ctx, v.VendorID, v.VendorName, v.Country, v.ProductCategory,
			v.OnTimeDeliveryRate, v.DefectRate, v.OTIFRate)
		if err != nil {
			return fmt.Errorf("failed to insert vendor %s: %w", v.VendorID, err)
		}
	}

	batchPath := filepath.Join(d.DemoDataDir(), BatchFile)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE OR REPLACE TABLE demo_batches AS
		SELECT * FROM read_csv('%s', header=true, auto_detect=true)
	`, quoteLiteral(batchPath)))
	if err != nil {
		return fmt.Errorf("failed to create demo_batches table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DB) createGroundingTable(ctx context.Context) error {
	_, err := d.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS grounding_chunks (
			id VARCHAR PRIMARY KEY,
			source VARCHAR,
			chunk_index INTEGER,
			content VARCHAR,
			metadata VARCHAR,
			dims INTEGER,
			embedding FLOAT[],
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		d.logger.Error("Failed to create grounding_chunks table", zap.Error(err))
		return fmt.Errorf("failed to create grounding_chunks table: %w", err)
	}
	return nil
}

// Query runs a read statement and collects every row. Statements that write
// are rejected with ErrWriteStatement.
func (d *DB) Query(ctx context.Context, query string) (*Result, error) {
	if IsCommentOnly(query) {
		return nil, ErrEmptyStatement
	}
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}

	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		d.logger.Warn("DuckDB query failed", zap.Error(err), zap.String("sql", logging.Truncate(query, 150)))
		return nil, fmt.Errorf("duckdb query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return ScanRows(rows)
}

// DemoTables lists the local demo tables and their columns in ordinal order
func (d *DB) DemoTables(ctx context.Context) (map[string][]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name LIKE 'demo_%'
		ORDER BY table_name, ordinal_position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list demo tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, err
		}
		tables[table] = append(tables[table], column)
	}
	return tables, rows.Err()
}

// IsCommentOnly reports whether query has no SQL once comments,
// whitespace and semicolons are removed
func IsCommentOnly(query string) bool {
	return strings.Trim(StripComments(query), " \t\r\n;") == ""
}

// StripComments removes -- line comments and /* */ block comments.
// Quoted strings are left untouched.
func StripComments(query string) string {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case !inQuote && c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			if i < len(query) {
				b.WriteByte('\n')
			}
		case !inQuote && c == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
