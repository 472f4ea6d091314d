package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgerline/internal/pipeline"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/loader"
	"github.com/ajitpratap0/ledgerline/pkg/record"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
	"github.com/ajitpratap0/ledgerline/pkg/testutil"
)

// captured collects rows delivered by the "capture" loader type.
var captured [][]record.Row

type captureLoader struct{}

func (captureLoader) Load(_ context.Context, rows []record.Row) (loader.Result, error) {
	captured = append(captured, append([]record.Row(nil), rows...))
	return loader.Result{WriteStatus: 200, MetadataStatus: 200, Rows: len(rows)}, nil
}

func (captureLoader) Close() error { return nil }

func init() {
	_ = loader.Register("capture", func(loader.Options) (loader.Factory, error) {
		return func(*schema.Schema) (loader.Loader, error) { return captureLoader{}, nil }, nil
	})
}

const settings = `
staging:
  statusdb:
    driver: sqlite
    dsn: ${LEDGERLINE_TEST_DIR}/status.db
  ckan:
    root_url: https://data.example.org
    api_key: ${LEDGERLINE_TEST_KEY}
  retry:
    max_attempts: 5
    initial_delay: 10ms
  jobs:
    permits:
      display_name: Building Permits
      log_status: true
      chunk_size: 2
      connector:
        type: file
        target: ${LEDGERLINE_TEST_DIR}/permits.csv
        timeout: 30s
      extractor:
        type: csv
      schema:
        fields:
          - {name: permit_id, type: string, required: true}
          - {name: fee, type: number, min: 0}
      loader:
        type: capture
    published:
      connector: {type: file, target: /data/published.csv}
      extractor: {type: csv, delimiter: ";"}
      schema:
        fields:
          - {name: id, type: integer}
      loader:
        type: ckan
        package_id: permits
        resource_name: Permits
`

func writeSettings(t *testing.T, content string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEDGERLINE_TEST_DIR", dir)
	t.Setenv("LEDGERLINE_TEST_KEY", "secret")
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dir
}

func TestLoad(t *testing.T) {
	path, dir := writeSettings(t, settings)

	cfg, err := Load(path, "staging")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Name())
	assert.Equal(t, filepath.Join(dir, "status.db"), cfg.StatusDB.DSN)
	assert.Equal(t, "secret", cfg.CKAN.APIKey)
	assert.Equal(t, []string{"permits", "published"}, cfg.JobNames())

	job := cfg.Jobs["permits"]
	assert.Equal(t, 30*time.Second, job.Connector.Timeout)
	assert.True(t, job.strict())
	require.Len(t, job.Schema.Fields, 2)
	assert.Equal(t, schema.TypeNumber, job.Schema.Fields[1].Type)
	require.NotNil(t, job.Schema.Fields[1].Min)
	assert.Equal(t, ";", cfg.Jobs["published"].Extractor.Delimiter)

	assert.Equal(t, "ledgerline", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)

	require.NotNil(t, cfg.Retry)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialDelay)
}

func TestLoad_LoaderDefaults(t *testing.T) {
	path, _ := writeSettings(t, settings)
	cfg, err := Load(path, "staging")
	require.NoError(t, err)

	opts := cfg.loaderOptions(cfg.Jobs["published"].Loader)
	assert.Equal(t, "https://data.example.org", opts.RootURL)
	assert.Equal(t, "secret", opts.APIKey)
	require.NotNil(t, opts.Retry)
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.NotSame(t, cfg.Retry, opts.Retry)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		server   string
		settings string
		path     string
	}{
		{
			name:     "unknown server",
			server:   "production",
			settings: settings,
			path:     "production",
		},
		{
			name:   "status db required for logged jobs",
			server: "staging",
			settings: `
staging:
  jobs:
    a:
      log_status: true
      connector: {type: file, target: a.csv}
      extractor: {type: csv}
      schema: {fields: [{name: x, type: string}]}
      loader: {type: capture}
`,
			path: "staging.statusdb.dsn",
		},
		{
			name:   "connector type",
			server: "staging",
			settings: `
staging:
  jobs:
    a:
      connector: {target: a.csv}
`,
			path: "staging.jobs.a.connector.type",
		},
		{
			name:   "unknown extractor",
			server: "staging",
			settings: `
staging:
  jobs:
    a:
      connector: {type: file, target: a.csv}
      extractor: {type: parquet}
`,
			path: "staging.jobs.a.extractor.type",
		},
		{
			name:   "ckan root url",
			server: "staging",
			settings: `
staging:
  jobs:
    a:
      connector: {type: file, target: a.csv}
      extractor: {type: csv}
      schema: {fields: [{name: x, type: string}]}
      loader: {type: ckan}
`,
			path: "staging.ckan.root_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, _ := writeSettings(t, tt.settings)
			_, err := Load(path, tt.server)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.path, e.Details["path"])
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "staging")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLookup(t *testing.T) {
	path, _ := writeSettings(t, settings)
	cfg, err := Load(path, "staging")
	require.NoError(t, err)

	v, err := cfg.Lookup("ckan.root_url")
	require.NoError(t, err)
	assert.Equal(t, "https://data.example.org", v)

	v, err = cfg.Lookup("jobs.permits.schema.fields.0.name")
	require.NoError(t, err)
	assert.Equal(t, "permit_id", v)

	_, err = cfg.Lookup("ckan.missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging.ckan.missing")
}

func TestServers(t *testing.T) {
	path, _ := writeSettings(t, settings+"\nproduction:\n  jobs: {}\n")
	names, err := Servers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"production", "staging"}, names)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("LEDGERLINE_A", "x")
	assert.Equal(t, "a=x b= c=${open", substituteEnvVars("a=${LEDGERLINE_A} b=${LEDGERLINE_UNSET} c=${open"))
}

func TestPipelines_RunConfiguredJob(t *testing.T) {
	path, dir := writeSettings(t, settings)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "permits.csv"),
		[]byte("Permit ID,Fee\nP-1,10\nP-2,12.5\nP-3,0\n"), 0o600))
	captured = nil

	cfg, err := Load(path, "staging")
	require.NoError(t, err)

	reg, err := cfg.Pipelines(testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"permits", "published"}, reg.Names())

	p, err := reg.Get("permits")
	require.NoError(t, err)
	assert.Equal(t, "Building Permits", p.DisplayName())
	assert.True(t, p.LogStatus())

	sum, err := p.Run(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.NumLines)
	require.Len(t, captured, 2)
	assert.Equal(t, []string{"permit_id", "fee"}, captured[0][0].Keys())

	p, err = reg.Get("permits")
	require.NoError(t, err)
	_, err = p.Run(testutil.TestContext(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicate))

	_, err = reg.Get("nope")
	assert.True(t, pipeline.IsNotFound(err))
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, map[string]any{"staging": map[string]any{"ckan": CKANConfig{RootURL: "u"}}}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "root_url: u"))
}
