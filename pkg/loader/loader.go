// Package loader delivers validated rows to a destination datastore and keeps
// the destination's metadata current.
//
// Loaders are called once per chunk and must accept any number of disjoint
// batches during one run. Failures are returned as *LoadError; transport
// failures are marked retryable and retried by the loader's policy before
// they surface, destination rejections never are.
package loader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/clients"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
	"github.com/ajitpratap0/ledgerline/pkg/retry"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

// Write methods.
const (
	MethodInsert = "insert"
	MethodUpsert = "upsert"
)

// Result reports the outcome of one Load call. Status values follow HTTP
// semantics for every destination.
type Result struct {
	WriteStatus    int
	MetadataStatus int
	Rows           int
}

// Loader delivers chunks of validated rows.
type Loader interface {
	Load(ctx context.Context, rows []record.Row) (Result, error)
	Close() error
}

// Factory builds a loader for rows shaped by s.
type Factory func(s *schema.Schema) (Loader, error)

// Options configures the built-in loaders.
type Options struct {
	// CKAN datastore
	RootURL      string `yaml:"root_url"`
	APIKey       string `yaml:"api_key"`
	PackageID    string `yaml:"package_id"`
	ResourceName string `yaml:"resource_name"`
	ResourceID   string `yaml:"resource_id"`
	Capitalize   bool   `yaml:"capitalize"`

	// Postgres
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`

	Method     string   `yaml:"method"`
	PrimaryKey []string `yaml:"primary_key"`

	Retry *retry.Policy       `yaml:"retry"`
	HTTP  *clients.HTTPConfig `yaml:"http"`

	Logger *zap.Logger      `yaml:"-"`
	Now    func() time.Time `yaml:"-"`
}

func (o Options) method() string {
	if o.Method == "" {
		return MethodInsert
	}
	return o.Method
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) retryPolicy() *retry.Policy {
	if o.Retry == nil {
		return retry.Default()
	}
	return o.Retry
}

func (o Options) checkMethod() error {
	switch o.method() {
	case MethodInsert:
		return nil
	case MethodUpsert:
		if len(o.PrimaryKey) == 0 {
			return errors.New(errors.ErrorTypeConfig, "upsert requires primary_key")
		}
		return nil
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown load method %q, expected insert or upsert", o.Method)
	}
}

// LoadError describes a failed destination operation.
type LoadError struct {
	Op         string
	StatusCode int
	Response   string
	Retryable  bool
	Err        error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Response != "" {
		msg += " (response: " + e.Response + ")"
	}
	return msg
}

// Unwrap returns the structured cause, always of type load.
func (e *LoadError) Unwrap() error { return e.Err }

func newLoadError(op string, status int, response string, retryable bool, cause error) *LoadError {
	var err error
	if cause != nil {
		err = errors.Wrap(cause, errors.ErrorTypeLoad, "destination write failed")
	} else {
		err = errors.New(errors.ErrorTypeLoad, "destination rejected the request")
	}
	return &LoadError{Op: op, StatusCode: status, Response: truncate(response, 500), Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is a LoadError marked retryable.
func IsRetryable(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Retryable
}

// withRetry runs fn, retrying retryable load errors under p.
func withRetry(ctx context.Context, p *retry.Policy, log *zap.Logger, op string, fn func() error) error {
	p = p.Clone()
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("retrying destination call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	err := p.ExecuteWithCondition(ctx, fn, IsRetryable)
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return newLoadError(op, 0, "", false, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
