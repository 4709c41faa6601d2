package databricks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbquery/internal/store"
)

// fakeWorkspace emulates the subset of the Jobs and DBFS APIs used by Client.
// A run that succeeds writes the CSV registered for its query, or defaultCSV,
// into the out_path of its task script. Reads return at most readSize bytes.
type fakeWorkspace struct {
	mu         sync.Mutex
	files      map[string][]byte
	runs       map[int64]string
	polls      map[int64]int
	nextRun    int64
	pollsUntil int
	result     string
	results    map[string]string
	readSize   int
	reads      int
	listed     []string
	authHeader string
}

const defaultCSV = "vendor_id,on_time_delivery_rate\nV001,0.97\nV002,0.92\n"

var (
	scriptQuery   = regexp.MustCompile(`(?s)spark\.sql\('''(.*?)'''\)`)
	scriptOutPath = regexp.MustCompile(`out_path = '([^']+)'`)
)

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		files:      map[string][]byte{},
		runs:       map[int64]string{},
		polls:      map[int64]int{},
		pollsUntil: 2,
		result:     "SUCCESS",
		results:    map[string]string{},
		readSize:   16,
	}
}

// finish writes the run's output the way the PySpark task would
func (f *fakeWorkspace) finish(t *testing.T, runID int64) {
	script := string(f.files[f.runs[runID]])
	q := scriptQuery.FindStringSubmatch(script)
	out := scriptOutPath.FindStringSubmatch(script)
	require.Len(t, q, 2, script)
	require.Len(t, out, 2, script)

	csv, ok := f.results[q[1]]
	if !ok {
		csv = defaultCSV
	}
	f.files[out[1]+"/part-00000-abc.csv"] = []byte(csv)
}

func (f *fakeWorkspace) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/2.0/dbfs/put", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeader = r.Header.Get("Authorization")

		var req struct {
			Path     string `json:"path"`
			Contents string `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data, err := base64.StdEncoding.DecodeString(req.Contents)
		require.NoError(t, err)
		f.files[req.Path] = data
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("/api/2.1/jobs/runs/submit", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var req struct {
			Task struct {
				PythonFile string `json:"python_file"`
			} `json:"spark_python_task"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.nextRun++
		f.runs[f.nextRun] = strings.TrimPrefix(req.Task.PythonFile, "dbfs:")
		_ = json.NewEncoder(w).Encode(map[string]any{"run_id": f.nextRun})
	})

	mux.HandleFunc("/api/2.1/jobs/runs/get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		runID, err := strconv.ParseInt(r.URL.Query().Get("run_id"), 10, 64)
		require.NoError(t, err)
		require.Contains(t, f.runs, runID)

		f.polls[runID]++
		if f.polls[runID] < f.pollsUntil {
			_, _ = w.Write([]byte(`{"state": {"life_cycle_state": "RUNNING"}}`))
			return
		}
		if f.result == "SUCCESS" && f.polls[runID] == f.pollsUntil {
			f.finish(t, runID)
		}
		_, _ = w.Write([]byte(`{"state": {"life_cycle_state": "TERMINATED", "result_state": "` + f.result + `"}}`))
	})

	mux.HandleFunc("/api/2.0/dbfs/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		dir := r.URL.Query().Get("path")
		f.listed = append(f.listed, dir)

		files := []map[string]any{{"path": dir + "/_SUCCESS", "is_dir": false, "file_size": 0}}
		for p, data := range f.files {
			if strings.HasPrefix(p, dir+"/") {
				files = append(files, map[string]any{"path": p, "is_dir": false, "file_size": len(data)})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
	})

	mux.HandleFunc("/api/2.0/dbfs/read", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reads++

		data, ok := f.files[r.URL.Query().Get("path")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)
		if offset > len(data) {
			offset = len(data)
		}
		end := offset + f.readSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"bytes_read": len(chunk),
			"data":       base64.StdEncoding.EncodeToString(chunk),
		})
	})

	return mux
}

func newTestClient(url string) *Client {
	c := NewClient(url, "dapi-test", "cluster-1", nil)
	c.PollInterval = 5 * time.Millisecond
	c.Timeout = 2 * time.Second
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestRunSQL(t *testing.T) {
	ws := newFakeWorkspace()
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.RunSQL(context.Background(), "SELECT vendor_id, on_time_delivery_rate FROM vendors")
	require.NoError(t, err)

	assert.Equal(t, []string{"vendor_id", "on_time_delivery_rate"}, res.Columns)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, "V001", res.Rows[0][0])
	assert.Equal(t, 0.97, res.Rows[0][1])

	assert.Equal(t, "Bearer dapi-test", ws.authHeader)
	require.Len(t, ws.runs, 1)
	taskPath := ws.runs[1]
	assert.True(t, strings.HasPrefix(taskPath, "/tmp/dbquery_poc_task_1700000000_"), taskPath)
	script := string(ws.files[taskPath])
	assert.Contains(t, script, "spark.sql('''SELECT vendor_id")

	require.Len(t, ws.listed, 1, "only the run's own output dir is listed")
	assert.True(t, strings.HasPrefix(ws.listed[0], "/tmp/dbquery_poc_1700000000_"), ws.listed[0])
	assert.Contains(t, script, ws.listed[0])
	assert.GreaterOrEqual(t, ws.polls[1], 2)
	assert.Greater(t, ws.reads, 2, "the CSV arrives in several partial reads")
}

func TestRunSQLConcurrentRunsSameSecond(t *testing.T) {
	ws := newFakeWorkspace()
	tables := []string{"orders", "vendors", "batches", "materials", "shipments", "plants"}
	for _, table := range tables {
		ws.results["DESCRIBE TABLE demo.sales."+table] = "col_name,data_type,comment\n" + table + "_id,string,\n"
	}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results := make([]*store.Result, len(tables))
	errs := make([]error, len(tables))

	var wg sync.WaitGroup
	for i, table := range tables {
		wg.Add(1)
		go func(i int, table string) {
			defer wg.Done()
			results[i], errs[i] = c.RunSQL(context.Background(), "DESCRIBE TABLE demo.sales."+table)
		}(i, table)
	}
	wg.Wait()

	for i, table := range tables {
		require.NoError(t, errs[i], table)
		require.Equal(t, 1, results[i].Len(), table)
		assert.Equal(t, table+"_id", results[i].Rows[0][0], "each run reads its own output")
	}

	tasks := map[string]bool{}
	for _, p := range ws.runs {
		tasks[p] = true
	}
	assert.Len(t, tasks, len(tables), "task files must not collide")
}

func TestReadFollowsOffsets(t *testing.T) {
	ws := newFakeWorkspace()
	ws.readSize = 7
	payload := strings.Repeat("0123456789", 10)
	ws.files["/tmp/big.csv"] = []byte(payload)
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	data, err := newTestClient(srv.URL).read(context.Background(), "/tmp/big.csv")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, 16, ws.reads, "15 partial reads and one empty read")
}

func TestRunSQLFailedRun(t *testing.T) {
	ws := newFakeWorkspace()
	ws.result = "FAILED"
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RunSQL(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
}

func TestRunSQLTimeout(t *testing.T) {
	ws := newFakeWorkspace()
	ws.pollsUntil = 1 << 30
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.now = time.Now
	c.Timeout = 20 * time.Millisecond

	_, err := c.RunSQL(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrRunTimeout)
}

func TestRunSQLHonorsContext(t *testing.T) {
	ws := newFakeWorkspace()
	ws.pollsUntil = 1 << 30
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.PollInterval = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.RunSQL(ctx, "SELECT 1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"PERMISSION_DENIED"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RunSQL(context.Background(), "SELECT 1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "PERMISSION_DENIED")
}

func TestPythonTaskEscapesTripleQuotes(t *testing.T) {
	script := PythonTask("SELECT '''x''' AS a", "/tmp/out")
	assert.Contains(t, script, "spark.sql('''SELECT ''x'' AS a''')")
	assert.True(t, strings.Contains(script, "csv('dbfs:' + out_path)"))
}

func TestHostHelpers(t *testing.T) {
	assert.Equal(t, "https://adb-1.azuredatabricks.net", NormalizeHost("adb-1.azuredatabricks.net/"))
	assert.Equal(t, "http://localhost:8080", NormalizeHost("http://localhost:8080"))
	assert.Equal(t, "adb-1.azuredatabricks.net", Hostname("https://adb-1.azuredatabricks.net/"))
}

func TestParseCSV(t *testing.T) {
	res, err := ParseCSV(strings.NewReader("a,b,c\n1,2.5,x\n,3,y\n"))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 2.5, "x"}, res.Rows[0])
	assert.Nil(t, res.Rows[1][0])
	assert.ElementsMatch(t, []string{"a", "b"}, res.NumericColumns())
}

func TestParseCSVKeepsNonFiniteAsText(t *testing.T) {
	res, err := ParseCSV(strings.NewReader("ratio\nNaN\ninf\n-Infinity\n1e400\n0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, []any{"NaN"}, res.Rows[0])
	assert.Equal(t, []any{"inf"}, res.Rows[1])
	assert.Equal(t, []any{"-Infinity"}, res.Rows[2])
	assert.Equal(t, []any{"1e400"}, res.Rows[3])
	assert.Equal(t, []any{0.5}, res.Rows[4])

	_, err = json.Marshal(res.Rows)
	assert.NoError(t, err)
}
