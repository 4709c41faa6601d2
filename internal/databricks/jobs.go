package databricks

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dbquery/internal/logging"
	"dbquery/internal/store"
)

// Defaults for the run poll loop
const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 300 * time.Second
)

// readChunk is the number of bytes requested per DBFS read call
const readChunk = 1 << 20

var (
	// ErrRunTimeout is returned when a run does not finish within Timeout
	ErrRunTimeout = errors.New("timed out waiting for job completion")
	// ErrResultNotFound is returned when the run wrote no part-*.csv file
	ErrResultNotFound = errors.New("result CSV not found")
)

// APIError is a non-2xx response from the workspace
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Endpoint, e.StatusCode, logging.Truncate(e.Body, 300))
}

// RunState is the state block of a runs/get response
type RunState struct {
	LifeCycleState string `json:"life_cycle_state"`
	ResultState    string `json:"result_state"`
	StateMessage   string `json:"state_message"`
}

func (s RunState) terminal() bool {
	switch s.LifeCycleState {
	case "TERMINATED", "SKIPPED", "INTERNAL_ERROR":
		return true
	}
	return s.ResultState != ""
}

// Client runs SQL on an interactive cluster through the Jobs and DBFS REST APIs
type Client struct {
	host       string
	token      string
	clusterID  string
	httpClient *http.Client
	logger     *zap.Logger

	PollInterval time.Duration
	Timeout      time.Duration

	now func() time.Time
}

// NewClient creates a Jobs API client. host may omit the scheme.
func NewClient(host, token, clusterID string, logger *zap.Logger) *Client {
	return &Client{
		host:         NormalizeHost(host),
		token:        token,
		clusterID:    clusterID,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logging.OrNop(logger),
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
		now:          time.Now,
	}
}

// NormalizeHost returns an https:// workspace URL without a trailing slash
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host != "" && !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host
}

// Hostname strips the scheme and path from a workspace URL
func Hostname(host string) string {
	u, err := url.Parse(NormalizeHost(host))
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	}
	return u.Hostname()
}

// PythonTask renders the PySpark script that runs query and writes a single CSV to outDir
func PythonTask(query, outDir string) string {
	safe := strings.ReplaceAll(query, "'''", "''")
	return fmt.Sprintf(`from pyspark.sql import SparkSession
spark = SparkSession.builder.getOrCreate()
df = spark.sql('''%s''')
out_path = '%s'
df.coalesce(1).write.mode('overwrite').option('header','true').csv('dbfs:' + out_path)
print('WROTE:' + out_path)
`, safe, outDir)
}

// RunSQL uploads a PySpark task, submits it, waits for it and downloads the CSV it wrote
func (c *Client) RunSQL(ctx context.Context, query string) (*store.Result, error) {
	ts, id := c.now().Unix(), uuid.NewString()
	outDir := fmt.Sprintf("/tmp/dbquery_poc_%d_%s", ts, id)
	taskPath := fmt.Sprintf("/tmp/dbquery_poc_task_%d_%s.py", ts, id)

	if err := c.put(ctx, taskPath, []byte(PythonTask(query, outDir))); err != nil {
		return nil, fmt.Errorf("failed to upload task to DBFS: %w", err)
	}

	runID, err := c.submit(ctx, taskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to submit run: %w", err)
	}
	c.logger.Info("Submitted Databricks run", zap.Int64("run_id", runID), zap.String("out_dir", outDir))

	state, err := c.wait(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.ResultState != "SUCCESS" {
		return nil, fmt.Errorf("jobs API execution failed: run %d ended %s/%s: %s",
			runID, state.LifeCycleState, state.ResultState, state.StateMessage)
	}

	csvPath, err := c.findResultFile(ctx, outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result CSV: %w", err)
	}

	data, err := c.read(ctx, csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch result CSV: %w", err)
	}

	return ParseCSV(bytes.NewReader(data))
}

func (c *Client) put(ctx context.Context, dbfsPath string, contents []byte) error {
	payload := map[string]any{
		"path":      dbfsPath,
		"contents":  base64.StdEncoding.EncodeToString(contents),
		"overwrite": true,
	}
	return c.do(ctx, http.MethodPost, "/api/2.0/dbfs/put", nil, payload, nil)
}

func (c *Client) submit(ctx context.Context, taskPath string) (int64, error) {
	payload := map[string]any{
		"run_name":            "dbquery_poc_run",
		"existing_cluster_id": c.clusterID,
		"spark_python_task": map[string]any{
			"python_file": "dbfs:" + taskPath,
		},
	}

	var resp struct {
		RunID int64 `json:"run_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.1/jobs/runs/submit", nil, payload, &resp); err != nil {
		return 0, err
	}
	if resp.RunID == 0 {
		return 0, fmt.Errorf("no run_id returned")
	}
	return resp.RunID, nil
}

// GetRun returns the current state of a run
func (c *Client) GetRun(ctx context.Context, runID int64) (RunState, error) {
	var resp struct {
		State RunState `json:"state"`
	}
	q := url.Values{"run_id": {strconv.FormatInt(runID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/2.1/jobs/runs/get", q, nil, &resp); err != nil {
		return RunState{}, err
	}
	return resp.State, nil
}

func (c *Client) wait(ctx context.Context, runID int64) (RunState, error) {
	deadline := c.now().Add(c.Timeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		state, err := c.GetRun(ctx, runID)
		if err != nil {
			return RunState{}, fmt.Errorf("error polling run status: %w", err)
		}
		if state.terminal() {
			c.logger.Info("Databricks run finished",
				zap.Int64("run_id", runID),
				zap.String("life_cycle_state", state.LifeCycleState),
				zap.String("result_state", state.ResultState))
			return state, nil
		}
		if c.now().After(deadline) {
			return RunState{}, ErrRunTimeout
		}

		select {
		case <-ctx.Done():
			return RunState{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

type fileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size"`
}

func (c *Client) list(ctx context.Context, dir string) ([]fileInfo, error) {
	var resp struct {
		Files []fileInfo `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/2.0/dbfs/list", url.Values{"path": {dir}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) findResultFile(ctx context.Context, outDir string) (string, error) {
	files, err := c.list(ctx, outDir)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		name := path.Base(f.Path)
		if !f.IsDir && strings.HasPrefix(name, "part-") && strings.HasSuffix(name, ".csv") {
			return f.Path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrResultNotFound, outDir)
}

// read downloads a DBFS file, following offsets until a read returns no bytes.
// DBFS may return fewer bytes than requested before the end of the file.
func (c *Client) read(ctx context.Context, dbfsPath string) ([]byte, error) {
	var out []byte
	offset := 0
	for {
		var resp struct {
			BytesRead int    `json:"bytes_read"`
			Data      string `json:"data"`
		}
		q := url.Values{
			"path":   {dbfsPath},
			"offset": {strconv.Itoa(offset)},
			"length": {strconv.Itoa(readChunk)},
		}
		if err := c.do(ctx, http.MethodGet, "/api/2.0/dbfs/read", q, nil, &resp); err != nil {
			return nil, err
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode DBFS data: %w", err)
		}
		if resp.BytesRead == 0 || len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
		offset += len(chunk)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	u := c.host + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// ParseCSV reads a CSV with a header row. Integer and finite decimal cells become
// numbers, empty cells become NULL. NaN and Inf stay text so results remain JSON encodable.
func ParseCSV(r io.Reader) (*store.Result, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return &store.Result{Columns: []string{}, Rows: [][]any{}}, nil
	}

	result := &store.Result{Columns: records[0], Rows: make([][]any, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = parseCell(cell)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
