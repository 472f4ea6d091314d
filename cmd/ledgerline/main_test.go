package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// datastore answers the CKAN actions a resource_id loader calls.
type datastore struct {
	mu      sync.Mutex
	reject  bool
	records int
	actions []string
}

func (d *datastore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/3/action/")
	var payload struct {
		Records []map[string]any `json:"records"`
	}
	body, _ := io.ReadAll(r.Body)
	_ = gojson.Unmarshal(body, &payload)

	d.mu.Lock()
	d.actions = append(d.actions, action)
	reject := d.reject && action == "datastore_upsert"
	if !reject && action == "datastore_upsert" {
		d.records += len(payload.Records)
	}
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reject {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"success":false,"error":{"message":"conflict"}}`)
		return
	}
	_, _ = io.WriteString(w, `{"success":true,"result":{}}`)
}

func (d *datastore) setReject(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject = v
}

func (d *datastore) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records
}

type cli struct {
	t     *testing.T
	dir   string
	input string
	store *datastore
	cfg   string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	store := &datastore{}
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c := &cli{t: t, dir: dir, store: store, input: filepath.Join(dir, "permits.csv")}
	c.writeInput("Permit ID,Fee\nP-1,10\nP-2,12.5\nP-3,0\n")

	settings := `
default:
  statusdb:
    driver: sqlite
    dsn: ` + filepath.Join(dir, "status.db") + `
  logging:
    level: error
  ckan:
    root_url: ` + srv.URL + `
    api_key: key
  retry:
    max_attempts: 1
  jobs:
    permits:
      display_name: Building Permits
      log_status: true
      chunk_size: 2
      connector: {type: file, target: ` + c.input + `}
      extractor: {type: csv}
      schema:
        fields:
          - {name: permit_id, type: string, required: true}
          - {name: fee, type: number}
      loader: {type: ckan, resource_id: res-1}
`
	c.cfg = filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(c.cfg, []byte(settings), 0o600))
	return c
}

func (c *cli) writeInput(content string) {
	c.t.Helper()
	require.NoError(c.t, os.WriteFile(c.input, []byte(content), 0o600))
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", c.cfg}, args...)
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_ExitCodes(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("run", "permits")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, `Pipeline "permits" finished: 3 rows loaded in 2 chunks`)
	assert.Equal(t, 3, c.store.count())

	code, _, errOut := c.run("run", "permits")
	assert.Equal(t, exitDuplicate, code)
	assert.Contains(t, errOut, `Duplicate input, nothing to do for pipeline "permits"`)

	code, _, errOut = c.run("run", "nope")
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut, `A Pipeline could not be found at "nope"`)

	c.writeInput("Permit ID,Fee\nP-4,1\n")
	c.store.setReject(true)
	code, _, errOut = c.run("run", "permits")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, errOut, `Pipeline "permits" raised an error:`)
}

func TestRun_JSONSummaryAndMetrics(t *testing.T) {
	c := newCLI(t)
	metricsFile := filepath.Join(c.dir, "ledgerline.prom")

	code, out, _ := c.run("--json", "run", "permits", "--chunk-size", "5", "--metrics-file", metricsFile)
	require.Equal(t, exitOK, code)

	var sum map[string]any
	require.NoError(t, gojson.Unmarshal([]byte(out), &sum))
	assert.EqualValues(t, 3, sum["num_lines"])
	assert.EqualValues(t, 1, sum["chunks"])
	assert.Equal(t, "Building Permits", sum["display_name"])

	b, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `ledgerline_rows_loaded_total{pipeline="permits"} 3`)
}

func TestRun_Lenient(t *testing.T) {
	c := newCLI(t)
	c.writeInput("Permit ID,Fee\nP-1,10\n,4\nP-3,abc\nP-4,1\n")

	code, _, _ := c.run("run", "permits")
	assert.Equal(t, exitFailed, code)

	code, _, _ = c.run("run", "permits", "--lenient")
	require.Equal(t, exitOK, code)
	assert.Equal(t, 2, c.store.count())
}

func TestCreateDBAndStatus(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("create-db", "--drop")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Dropping table...\nCreating table...\n", out)

	code, _, _ = c.run("run", "permits")
	require.Equal(t, exitOK, code)

	code, out, _ = c.run("status", "permits")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "DISPLAY NAME")
	assert.Contains(t, out, "Building Permits")
	assert.Contains(t, out, "success")

	code, out, _ = c.run("--json", "status", "Building Permits", "--limit", "1")
	require.Equal(t, exitOK, code)
	var rows []statusRow
	require.NoError(t, gojson.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "success", rows[0].Status)
	assert.Equal(t, 3, rows[0].NumLines)
	assert.NotEmpty(t, rows[0].InputChecksum)
	assert.NotNil(t, rows[0].LastRan)
}

func TestList(t *testing.T) {
	c := newCLI(t)

	code, out, _ := c.run("list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "permits (Building Permits): file")

	code, out, _ = c.run("--json", "list")
	require.Equal(t, exitOK, code)
	var l listing
	require.NoError(t, gojson.Unmarshal([]byte(out), &l))
	require.Len(t, l.Jobs, 1)
	assert.Equal(t, "ckan", l.Jobs[0].Loader)
	assert.Contains(t, l.Connectors, "sftp")
	assert.Contains(t, l.Extractors, "csv")
	assert.Contains(t, l.Loaders, "postgres")
}

func TestUnknownServer(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.run("--server", "production", "list")
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut, "invalid choice: production. (choose from default)")
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "ledgerline v"+version))
}
