package loader

import (
	"context"
	"io"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/clients"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

// CKANClient calls the CKAN action API.
type CKANClient struct {
	apiURL  string
	dumpURL string
	apiKey  string
	http    *clients.HTTPClient
}

// NewCKANClient creates a client for the CKAN instance at rootURL.
func NewCKANClient(rootURL, apiKey string, http *clients.HTTPClient) *CKANClient {
	root := strings.TrimRight(rootURL, "/")
	return &CKANClient{
		apiURL:  root + "/api/3/action/",
		dumpURL: root + "/datastore/dump/",
		apiKey:  apiKey,
		http:    http,
	}
}

type ckanResponse struct {
	Success bool              `json:"success"`
	Result  gojson.RawMessage `json:"result"`
	Error   map[string]any    `json:"error"`
}

// call posts payload to an action. It returns the HTTP status code; out, when
// non-nil, receives the decoded result.
func (c *CKANClient) call(ctx context.Context, action string, payload, out any) (int, error) {
	body, err := gojson.Marshal(payload)
	if err != nil {
		return 0, newLoadError(action, 0, "", false, err)
	}

	resp, err := c.http.Post(ctx, c.apiURL+action, body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": c.apiKey,
	})
	if err != nil {
		return 0, newLoadError(action, 0, "", ctx.Err() == nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, newLoadError(action, resp.StatusCode, "", true, err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, newLoadError(action, resp.StatusCode, string(raw), false, nil)
	}

	var r ckanResponse
	if err := gojson.Unmarshal(raw, &r); err != nil {
		return resp.StatusCode, newLoadError(action, resp.StatusCode, string(raw), false, err)
	}
	if !r.Success {
		detail, _ := gojson.Marshal(r.Error)
		return resp.StatusCode, newLoadError(action, resp.StatusCode, string(detail), false, nil)
	}
	if out != nil && len(r.Result) > 0 {
		if err := gojson.Unmarshal(r.Result, out); err != nil {
			return resp.StatusCode, newLoadError(action, resp.StatusCode, string(r.Result), false, err)
		}
	}
	return resp.StatusCode, nil
}

// Resource is a CKAN resource as listed by package_show.
type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Package is a CKAN dataset.
type Package struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Resources []Resource `json:"resources"`
}

// PackageShow fetches a dataset with its resources.
func (c *CKANClient) PackageShow(ctx context.Context, packageID string) (*Package, error) {
	var p Package
	if _, err := c.call(ctx, "package_show", map[string]any{"id": packageID}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindResource returns the id of the named resource in a package, or "".
func (c *CKANClient) FindResource(ctx context.Context, packageID, name string) (string, error) {
	p, err := c.PackageShow(ctx, packageID)
	if err != nil {
		return "", err
	}
	for _, r := range p.Resources {
		if r.Name == name {
			return r.ID, nil
		}
	}
	return "", nil
}

// ResourceExists reports whether the package holds a resource named name.
func (c *CKANClient) ResourceExists(ctx context.Context, packageID, name string) (bool, error) {
	id, err := c.FindResource(ctx, packageID, name)
	return id != "", err
}

// CreateResource adds a datastore-backed resource to a package and returns
// its id.
func (c *CKANClient) CreateResource(ctx context.Context, packageID, name string) (string, error) {
	var r Resource
	_, err := c.call(ctx, "resource_create", map[string]any{
		"package_id": packageID,
		"url":        "#",
		"name":       name,
		"url_type":   "datapusher",
		"format":     "CSV",
	}, &r)
	return r.ID, err
}

// CreateDatastore creates (or extends) the datastore table of a resource.
func (c *CKANClient) CreateDatastore(ctx context.Context, resourceID string, fields []schema.DestinationField, primaryKey []string) (string, error) {
	payload := map[string]any{
		"resource_id": resourceID,
		"force":       true,
		"fields":      fields,
	}
	if len(primaryKey) > 0 {
		payload["primary_key"] = primaryKey
	}

	var out struct {
		ResourceID string `json:"resource_id"`
	}
	_, err := c.call(ctx, "datastore_create", payload, &out)
	return out.ResourceID, err
}

// DeleteDatastore drops the datastore table of a resource.
func (c *CKANClient) DeleteDatastore(ctx context.Context, resourceID string) (int, error) {
	return c.call(ctx, "datastore_delete", map[string]any{
		"resource_id": resourceID,
		"force":       true,
	}, nil)
}

// Upsert writes records with the given method (insert or upsert).
func (c *CKANClient) Upsert(ctx context.Context, resourceID, method string, records []record.Row) (int, error) {
	return c.call(ctx, "datastore_upsert", map[string]any{
		"resource_id": resourceID,
		"method":      method,
		"force":       true,
		"records":     records,
	}, nil)
}

// UpdateMetadata points the resource at its datastore dump and stamps the
// modification time.
func (c *CKANClient) UpdateMetadata(ctx context.Context, resourceID string, modified time.Time) (int, error) {
	return c.call(ctx, "resource_patch", map[string]any{
		"id":            resourceID,
		"url":           c.dumpURL + resourceID,
		"url_type":      "datapusher",
		"last_modified": modified.Format("2006-01-02T15:04:05.000000"),
	}, nil)
}

// CKANLoader loads rows into a CKAN datastore resource.
type CKANLoader struct {
	opts       Options
	client     *CKANClient
	http       *clients.HTTPClient
	fields     []schema.DestinationField
	resourceID string
	logger     *zap.Logger
}

// NewCKANLoader creates a loader for s. Either ResourceID or both PackageID
// and ResourceName must be set; in the latter case the resource and its
// datastore are created on first load when missing.
func NewCKANLoader(s *schema.Schema, opts Options) (*CKANLoader, error) {
	if opts.RootURL == "" || opts.APIKey == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "ckan loader requires root_url and api_key")
	}
	if opts.ResourceID == "" && (opts.PackageID == "" || opts.ResourceName == "") {
		return nil, errors.New(errors.ErrorTypeConfig, "ckan loader requires resource_id, or package_id and resource_name")
	}
	if err := opts.checkMethod(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "ckan loader requires a schema")
	}

	httpCfg := opts.HTTP
	if httpCfg == nil {
		httpCfg = clients.DefaultHTTPConfig()
	}
	cfg := *httpCfg
	// retries happen per action in withRetry
	cfg.Retry = nil
	hc := clients.NewHTTPClient(&cfg, opts.logger())

	log := opts.logger().With(zap.String("loader", "ckan"))
	return &CKANLoader{
		opts:       opts,
		client:     NewCKANClient(opts.RootURL, opts.APIKey, hc),
		http:       hc,
		fields:     s.ToDestinationFields(opts.Capitalize),
		resourceID: opts.ResourceID,
		logger:     log,
	}, nil
}

// Client exposes the underlying action API client.
func (l *CKANLoader) Client() *CKANClient { return l.client }

func (l *CKANLoader) ensureResource(ctx context.Context) error {
	if l.resourceID != "" {
		return nil
	}

	var id string
	err := withRetry(ctx, l.opts.retryPolicy(), l.logger, "package_show", func() error {
		var err error
		id, err = l.client.FindResource(ctx, l.opts.PackageID, l.opts.ResourceName)
		return err
	})
	if err != nil {
		return err
	}
	if id != "" {
		l.resourceID = id
		return nil
	}

	if err := withRetry(ctx, l.opts.retryPolicy(), l.logger, "resource_create", func() error {
		var err error
		id, err = l.client.CreateResource(ctx, l.opts.PackageID, l.opts.ResourceName)
		return err
	}); err != nil {
		return err
	}
	if err := withRetry(ctx, l.opts.retryPolicy(), l.logger, "datastore_create", func() error {
		_, err := l.client.CreateDatastore(ctx, id, l.fields, l.opts.PrimaryKey)
		return err
	}); err != nil {
		return err
	}

	l.logger.Info("created datastore resource",
		zap.String("package_id", l.opts.PackageID),
		zap.String("resource_name", l.opts.ResourceName),
		zap.String("resource_id", id))
	l.resourceID = id
	return nil
}

// Load writes rows, then refreshes the resource metadata.
func (l *CKANLoader) Load(ctx context.Context, rows []record.Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	if err := l.ensureResource(ctx); err != nil {
		return Result{}, err
	}

	records := rows
	if l.opts.Capitalize {
		records = capitalize(rows)
	}

	var res Result
	err := withRetry(ctx, l.opts.retryPolicy(), l.logger, "datastore_upsert", func() error {
		var err error
		res.WriteStatus, err = l.client.Upsert(ctx, l.resourceID, l.opts.method(), records)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Rows = len(rows)

	err = withRetry(ctx, l.opts.retryPolicy(), l.logger, "resource_patch", func() error {
		var err error
		res.MetadataStatus, err = l.client.UpdateMetadata(ctx, l.resourceID, l.opts.now())
		return err
	})
	return res, err
}

// Close releases idle HTTP connections.
func (l *CKANLoader) Close() error { return l.http.Close() }

func capitalize(rows []record.Row) []record.Row {
	out := make([]record.Row, len(rows))
	for i, r := range rows {
		keys := r.Keys()
		upper := make([]string, len(keys))
		for j, k := range keys {
			upper[j] = strings.ToUpper(k)
		}
		out[i] = record.FromPairs(upper, r.Values())
	}
	return out
}
