package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dbquery/internal/store"
	"dbquery/internal/warehouse"
)

// ExportFile is the default file name used when saving an extracted schema
const ExportFile = "schema_export.json"

// describeConcurrency bounds the DESCRIBE TABLE calls in flight
const describeConcurrency = 4

// Schema maps a qualified table name to its column names
type Schema map[string][]string

// Tables returns the table names in sorted order
func (s Schema) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DemoSchema is the mock warehouse schema plus the local demo tables
func DemoSchema() Schema {
	return Schema{
		"demo.sales.orders":          {"order_id", "customer_id", "material", "quantity", "revenue"},
		"demo.procurement.purchases": {"purchase_id", "vendor_id", "material", "quantity", "cost"},
		"demo.master.vendors":        {"vendor_id", "vendor_name", "country", "on_time_rate", "defect_rate"},
		"local.main.demo_vendors": {
			"vendor_id", "vendor_name", "country", "product_category",
			"on_time_delivery_rate", "defect_rate", "otif_rate",
		},
		"local.main.demo_batches": {
			"batch_id", "material_id", "material_name", "vendor_id", "status",
			"received_qty", "produced_qty", "distribution_center", "hospital",
		},
	}
}

// ExtractSchema lists tables and their columns. Demo mode returns DemoSchema
// without touching the executor. Tables that cannot be described are skipped.
func ExtractSchema(ctx context.Context, exec warehouse.Executor, demo bool, logger *zap.Logger) (Schema, error) {
	if demo || exec == nil {
		return DemoSchema(), nil
	}

	tables, err := exec.Execute(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("failed to extract schema from Databricks: %w", err)
	}

	dbIdx := firstColumn(tables, "database", "catalog", "namespace")
	nameIdx := firstColumn(tables, "tableName", "name", "table")
	if nameIdx < 0 {
		return nil, fmt.Errorf("failed to extract schema from Databricks: no table name column in %v", tables.Columns)
	}

	var (
		mu     sync.Mutex
		schema = Schema{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)

	for _, row := range tables.Rows {
		table := cellAt(row, nameIdx)
		if table == "" {
			continue
		}
		catalog := cellAt(row, dbIdx)
		if catalog == "" {
			catalog = "default"
		}
		qualified := catalog + "." + table

		g.Go(func() error {
			desc, err := exec.Execute(gctx, "DESCRIBE TABLE "+qualified)
			if err != nil {
				if logger != nil {
					logger.Warn("Skipping table that cannot be described", zap.String("table", qualified), zap.Error(err))
				}
				return nil
			}

			colIdx := firstColumn(desc, "col_name", "name", "column")
			var cols []string
			for _, crow := range desc.Rows {
				name := cellAt(crow, colIdx)
				// DESCRIBE output ends with partition info rows starting with '#'
				if name == "" || strings.HasPrefix(name, "#") {
					continue
				}
				cols = append(cols, name)
			}

			mu.Lock()
			schema[qualified] = cols
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return schema, nil
}

func firstColumn(r *store.Result, names ...string) int {
	for _, n := range names {
		if idx := r.ColumnIndex(n); idx >= 0 {
			return idx
		}
	}
	return -1
}

func cellAt(row []any, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(store.Cell(row[idx]))
}

// SplitQualified splits catalog.schema.table. Missing parts default to "default".
func SplitQualified(name string) (catalog, schema, table string) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return "default", parts[0], parts[1]
	default:
		return "default", "default", name
	}
}

// Describe renders the schema as prompt-ready text, one table per line
func Describe(s Schema) string {
	var b strings.Builder
	for _, name := range s.Tables() {
		fmt.Fprintf(&b, "- %s(%s)\n", name, strings.Join(s[name], ", "))
	}
	return b.String()
}

// SaveSchema writes the schema as indented JSON
func SaveSchema(path string, s Schema) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create schema dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	return nil
}

// LoadSchema reads a saved schema. A missing file yields an empty schema.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Schema{}, nil
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	if s == nil {
		s = Schema{}
	}
	return s, nil
}
