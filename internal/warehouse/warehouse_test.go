package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbquery/internal/config"
	"dbquery/internal/sqlgen"
	"dbquery/internal/store"
)

func newDemoExecutor(t *testing.T) *DemoExecutor {
	t.Helper()
	db, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDemoExecutor(db, nil)
}

func TestDemoExecutorRunsMappedSQL(t *testing.T) {
	e := newDemoExecutor(t)
	ctx := context.Background()

	testCases := []struct {
		prompt   string
		wantCols []string
		wantRows int
	}{
		{prompt: "top vendors", wantCols: []string{"vendor_id", "vendor_name", "on_time_delivery_rate"}, wantRows: 5},
		{prompt: "trace batch", wantCols: []string{"batch_id", "material_id", "vendor_id", "status"}, wantRows: 6},
		{prompt: "insulin delays", wantCols: []string{"batch_id", "vendor_id", "status", "received_qty", "produced_qty"}, wantRows: 4},
		{prompt: "by category", wantCols: []string{"product_category", "avg_on_time_delivery_rate", "vendors"}, wantRows: 4},
	}

	for _, tc := range testCases {
		t.Run(tc.prompt, func(t *testing.T) {
			sql, _ := sqlgen.DemoSQL(tc.prompt)
			res, err := e.Execute(ctx, sqlgen.Refine(sql))
			require.NoError(t, err)
			assert.False(t, res.IsMessage())
			assert.Equal(t, tc.wantCols, res.Columns)
			assert.Equal(t, tc.wantRows, res.Len())
		})
	}
}

func TestDemoExecutorTopVendorsOrdered(t *testing.T) {
	e := newDemoExecutor(t)

	sql, _ := sqlgen.DemoSQL("top vendors")
	res, err := e.Execute(context.Background(), sql)
	require.NoError(t, err)

	rates := res.Float("on_time_delivery_rate")
	require.Len(t, rates, 5)
	for i := 1; i < len(rates); i++ {
		assert.GreaterOrEqual(t, rates[i-1], rates[i])
	}
	assert.Equal(t, "V006", res.Rows[0][0])
}

func TestDemoExecutorCommentOnly(t *testing.T) {
	e := newDemoExecutor(t)

	res, err := e.Execute(context.Background(), sqlgen.DemoFallbackSQL)
	require.NoError(t, err)
	assert.True(t, res.IsMessage())
	assert.Equal(t, DemoNoSQLMessage, res.Text())
}

func TestDemoExecutorFallback(t *testing.T) {
	e := newDemoExecutor(t)
	ctx := context.Background()

	testCases := []struct {
		name        string
		sql         string
		wantMessage bool
		wantRows    int
	}{
		{name: "vendor keyword", sql: "SELECT top vendor FROM nowhere", wantRows: 8},
		{name: "batch keyword", sql: "SELECT batch_id FROM missing_table", wantRows: 8},
		{name: "supply keyword", sql: "SELEC supply", wantRows: 8},
		{name: "no keyword", sql: "SELECT x FROM y", wantMessage: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := e.Execute(ctx, tc.sql)
			require.NoError(t, err, "demo mode never fails")
			assert.Equal(t, tc.wantMessage, res.IsMessage())
			if !tc.wantMessage {
				assert.Equal(t, tc.wantRows, res.Len())
			}
		})
	}
}

func TestDemoExecutorRejectsWrites(t *testing.T) {
	e := newDemoExecutor(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, "DROP TABLE demo_vendors")
	require.ErrorIs(t, err, store.ErrWriteStatement)

	_, err = e.Execute(ctx, "CREATE TABLE demo_batches AS SELECT 1 AS vendor")
	require.ErrorIs(t, err, store.ErrWriteStatement, "writes must not fall back to canned queries")

	res, err := e.Execute(ctx, "SELECT COUNT(*) AS n FROM demo_vendors")
	require.NoError(t, err)
	n, _ := store.ToFloat(res.Rows[0][0])
	assert.Equal(t, float64(8), n)
}

type stubJobs struct {
	query string
	res   *store.Result
	err   error
}

func (s *stubJobs) RunSQL(_ context.Context, query string) (*store.Result, error) {
	s.query = query
	return s.res, s.err
}

func TestDatabricksExecutorNotConfigured(t *testing.T) {
	e := NewDatabricksExecutor(config.DatabricksConfig{Host: "https://adb.example.com"}, nil)

	_, err := e.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = e.TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDatabricksExecutorUsesJobsAPI(t *testing.T) {
	stub := &stubJobs{res: &store.Result{Columns: []string{"ok"}, Rows: [][]any{{int64(1)}}}}
	cfg := config.DatabricksConfig{Host: "https://adb.example.com", Token: "t", ClusterID: "c"}
	e := NewDatabricksExecutor(cfg, nil).WithJobsRunner(stub)

	res, err := e.Execute(context.Background(), "SELECT 1 as ok")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	assert.Equal(t, "SELECT 1 as ok", stub.query)

	stub.err = errors.New("cluster terminated")
	_, err = e.Execute(context.Background(), "SELECT 1")
	assert.ErrorContains(t, err, "cluster terminated")
}

func TestDatabricksExecutorRejectsCommentOnly(t *testing.T) {
	e := NewDatabricksExecutor(config.DatabricksConfig{}, nil)
	_, err := e.Execute(context.Background(), "-- nothing")
	assert.ErrorIs(t, err, store.ErrEmptyStatement)
}
