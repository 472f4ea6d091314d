package loader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
	"github.com/ajitpratap0/ledgerline/pkg/retry"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

type ckanCall struct {
	Action  string
	Auth    string
	Payload map[string]any
}

// fakeCKAN records action calls and answers from a per-action table.
type fakeCKAN struct {
	mu        sync.Mutex
	calls     []ckanCall
	resources []Resource
	status    map[string]int
}

func (f *fakeCKAN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/3/action/")
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = gojson.Unmarshal(body, &payload)

	f.mu.Lock()
	f.calls = append(f.calls, ckanCall{Action: action, Auth: r.Header.Get("Authorization"), Payload: payload})
	status := f.status[action]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status >= 400 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"success":false,"error":{"message":"nope"}}`)
		return
	}

	var result any
	switch action {
	case "package_show":
		result = map[string]any{"id": payload["id"], "resources": f.resources}
	case "resource_create":
		result = map[string]any{"id": "res-new", "name": payload["name"]}
	case "datastore_create":
		result = map[string]any{"resource_id": payload["resource_id"]}
	default:
		result = map[string]any{}
	}
	_ = gojson.NewEncoder(w).Encode(map[string]any{"success": true, "result": result})
}

func (f *fakeCKAN) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Action
	}
	return out
}

func (f *fakeCKAN) call(action string) ckanCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Action == action {
			return c
		}
	}
	return ckanCall{}
}

func testSchema() *schema.Schema {
	return schema.New("permits",
		schema.Field{Name: "id", Type: schema.TypeString},
		schema.Field{Name: "fee", Type: schema.TypeNumber},
	)
}

func testRows() []record.Row {
	return []record.Row{
		record.FromPairs([]string{"id", "fee"}, []any{"P-1", 20.5}),
		record.FromPairs([]string{"id", "fee"}, []any{"P-2", record.Null}),
	}
}

func newTestCKAN(t *testing.T, fake *fakeCKAN, opts Options) *CKANLoader {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	opts.RootURL = srv.URL + "/"
	opts.APIKey = "secret"
	opts.Logger = zaptest.NewLogger(t)
	opts.Retry = retry.New(2, time.Millisecond)
	opts.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	l, err := NewCKANLoader(testSchema(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestCKANLoader_KnownResource(t *testing.T) {
	fake := &fakeCKAN{}
	l := newTestCKAN(t, fake, Options{ResourceID: "res-1"})

	res, err := l.Load(context.Background(), testRows())
	require.NoError(t, err)
	assert.Equal(t, Result{WriteStatus: 200, MetadataStatus: 200, Rows: 2}, res)
	assert.Equal(t, []string{"datastore_upsert", "resource_patch"}, fake.actions())

	up := fake.call("datastore_upsert")
	assert.Equal(t, "secret", up.Auth)
	assert.Equal(t, "insert", up.Payload["method"])
	assert.Equal(t, true, up.Payload["force"])
	assert.Equal(t, []any{
		map[string]any{"id": "P-1", "fee": 20.5},
		map[string]any{"id": "P-2", "fee": nil},
	}, up.Payload["records"])

	patch := fake.call("resource_patch")
	assert.Equal(t, "res-1", patch.Payload["id"])
	assert.True(t, strings.HasSuffix(patch.Payload["url"].(string), "/datastore/dump/res-1"))
	assert.Equal(t, "2024-03-01T12:00:00.000000", patch.Payload["last_modified"])
}

func TestCKANLoader_CreatesMissingResourceOnce(t *testing.T) {
	fake := &fakeCKAN{resources: []Resource{{ID: "other", Name: "Other"}}}
	l := newTestCKAN(t, fake, Options{PackageID: "pkg", ResourceName: "Permits", Capitalize: true})

	_, err := l.Load(context.Background(), testRows()[:1])
	require.NoError(t, err)
	_, err = l.Load(context.Background(), testRows()[1:])
	require.NoError(t, err)

	assert.Equal(t, []string{
		"package_show", "resource_create", "datastore_create",
		"datastore_upsert", "resource_patch",
		"datastore_upsert", "resource_patch",
	}, fake.actions())

	create := fake.call("datastore_create")
	assert.Equal(t, "res-new", create.Payload["resource_id"])
	assert.Equal(t, []any{
		map[string]any{"id": "ID", "type": "text"},
		map[string]any{"id": "FEE", "type": "numeric"},
	}, create.Payload["fields"])

	up := fake.call("datastore_upsert")
	assert.Equal(t, []any{map[string]any{"ID": "P-1", "FEE": 20.5}}, up.Payload["records"])
}

func TestCKANLoader_ExistingResourceByName(t *testing.T) {
	fake := &fakeCKAN{resources: []Resource{{ID: "res-9", Name: "Permits"}}}
	l := newTestCKAN(t, fake, Options{PackageID: "pkg", ResourceName: "Permits"})

	_, err := l.Load(context.Background(), testRows())
	require.NoError(t, err)
	assert.Equal(t, []string{"package_show", "datastore_upsert", "resource_patch"}, fake.actions())
	assert.Equal(t, "res-9", fake.call("datastore_upsert").Payload["resource_id"])
}

func TestCKANLoader_HTTPErrorIsFatal(t *testing.T) {
	fake := &fakeCKAN{status: map[string]int{"datastore_upsert": http.StatusConflict}}
	l := newTestCKAN(t, fake, Options{ResourceID: "res-1"})

	_, err := l.Load(context.Background(), testRows())
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "datastore_upsert", le.Op)
	assert.Equal(t, http.StatusConflict, le.StatusCode)
	assert.False(t, le.Retryable)
	assert.Contains(t, le.Response, "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.Equal(t, []string{"datastore_upsert"}, fake.actions(), "4xx responses are not retried")
}

func TestCKANLoader_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l, err := NewCKANLoader(testSchema(), Options{
		RootURL: url, APIKey: "k", ResourceID: "r",
		Retry: retry.New(3, time.Millisecond),
	})
	require.NoError(t, err)

	_, err = l.Load(context.Background(), testRows())
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.True(t, le.Retryable)
	assert.Equal(t, int64(3), l.http.GetStats().TotalRequests)
}

func TestCKANLoader_EmptyChunk(t *testing.T) {
	fake := &fakeCKAN{}
	l := newTestCKAN(t, fake, Options{ResourceID: "res-1"})

	res, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, fake.actions())
}

func TestNewCKANLoader_Config(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "no root url", opts: Options{APIKey: "k", ResourceID: "r"}},
		{name: "no target", opts: Options{RootURL: "http://x", APIKey: "k"}},
		{name: "bad method", opts: Options{RootURL: "http://x", APIKey: "k", ResourceID: "r", Method: "merge"}},
		{name: "upsert without key", opts: Options{RootURL: "http://x", APIKey: "k", ResourceID: "r", Method: "upsert"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCKANLoader(testSchema(), tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestCKANClient_HelperOps(t *testing.T) {
	fake := &fakeCKAN{resources: []Resource{{ID: "res-1", Name: "Permits"}}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	l, err := NewCKANLoader(testSchema(), Options{RootURL: srv.URL, APIKey: "k", ResourceID: "res-1"})
	require.NoError(t, err)
	c := l.Client()
	ctx := context.Background()

	ok, err := c.ResourceExists(ctx, "pkg", "Permits")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ResourceExists(ctx, "pkg", "Missing")
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := c.DeleteDatastore(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, fake.call("datastore_delete").Payload["force"])
}
