package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/logging"
)

// ErrNotConfigured is returned when the Neo4j URI or user is missing
var ErrNotConfigured = errors.New("missing Neo4j configuration (uri, user, password)")

// Statement is a Cypher query with parameters
type Statement struct {
	Cypher string
	Params map[string]any
}

// Runner executes statements in a single write transaction
type Runner interface {
	RunWrite(ctx context.Context, statements []Statement) error
	Close(ctx context.Context) error
}

const mergeTableCypher = `MERGE (c:Catalog {name: $catalog})
MERGE (s:Schema {name: $schema})
MERGE (t:Table {name: $table})
SET t.qualified = $qualified
MERGE (c)-[:HAS_SCHEMA]->(s)
MERGE (s)-[:HAS_TABLE]->(t)`

const mergeColumnsCypher = `MATCH (t:Table {name: $table})
UNWIND $columns AS col
MERGE (cl:Column {name: col})
MERGE (t)-[:HAS_COLUMN]->(cl)`

// TableStatements returns the MERGE statements for one table
func TableStatements(qualified string, columns []string) []Statement {
	catalog, schema, table := SplitQualified(qualified)
	stmts := []Statement{{
		Cypher: mergeTableCypher,
		Params: map[string]any{
			"catalog":   catalog,
			"schema":    schema,
			"table":     table,
			"qualified": qualified,
		},
	}}
	if len(columns) > 0 {
		cols := make([]any, len(columns))
		for i, c := range columns {
			cols[i] = c
		}
		stmts = append(stmts, Statement{
			Cypher: mergeColumnsCypher,
			Params: map[string]any{"table": table, "columns": cols},
		})
	}
	return stmts
}

// Sync pushes the schema to the graph, one write transaction per table.
// Every statement is a MERGE so repeated syncs do not duplicate nodes.
func Sync(ctx context.Context, runner Runner, s Schema, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	for _, name := range s.Tables() {
		if err := runner.RunWrite(ctx, TableStatements(name, s[name])); err != nil {
			logger.Error("Neo4j sync failed", zap.String("table", name), zap.Error(err))
			return fmt.Errorf("neo4j sync error on %s: %w", name, err)
		}
	}
	logger.Info("Schema synced to Neo4j", zap.Int("tables", len(s)))
	return nil
}

// Neo4jRunner runs statements with the official driver
type Neo4jRunner struct {
	driver neo4j.DriverWithContext
}

// Connect opens a driver from the cockpit settings and verifies connectivity
func Connect(ctx context.Context, cfg config.Neo4jConfig) (*Neo4jRunner, error) {
	if cfg.URI == "" || cfg.User == "" {
		return nil, ErrNotConfigured
	}

	driver, err := neo4j.NewDriverWithContext(EffectiveURI(cfg), neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jRunner{driver: driver}, nil
}

func (r *Neo4jRunner) RunWrite(ctx context.Context, statements []Statement) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range statements {
			result, err := tx.Run(ctx, st.Cypher, st.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EffectiveURI upgrades bolt:// and neo4j:// to their TLS schemes when encrypt is "true"
func EffectiveURI(cfg config.Neo4jConfig) string {
	uri := cfg.URI
	if cfg.Encrypt != "true" {
		return uri
	}
	for _, scheme := range []string{"bolt", "neo4j"} {
		if strings.HasPrefix(uri, scheme+"://") {
			return scheme + "+s://" + strings.TrimPrefix(uri, scheme+"://")
		}
	}
	return uri
}
