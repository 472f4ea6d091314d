// Package pipeline binds one connector, extractor, schema and loader into a
// runnable job and executes the run protocol: checksum deduplication,
// chunked validation and loading, and status ledger bookkeeping.
//
// # Basic Usage
//
//	p := pipeline.New("permits", "Building Permits",
//	    pipeline.WithStatusDB("sqlite", "status.db"),
//	    pipeline.WithChunkSize(2000),
//	).
//	    Connect(fileFactory, "permits.csv").
//	    Extract(csvFactory).
//	    Schema(permitSchema).
//	    Load(ckanFactory)
//
//	summary, err := p.Run(ctx)
//
// Components are built from their factories once per Run, so a Pipeline can
// be run repeatedly. A single Pipeline must not be run concurrently.
package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/internal/status"
	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/extractor"
	"github.com/ajitpratap0/ledgerline/pkg/loader"
	"github.com/ajitpratap0/ledgerline/pkg/metrics"
	"github.com/ajitpratap0/ledgerline/pkg/observability"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

// DefaultChunkSize is the number of rows handed to the loader per call.
const DefaultChunkSize = 5000

// Pipeline is a configured job. Build it with New and the binding methods.
type Pipeline struct {
	name        string
	displayName string

	connector connector.Factory
	target    string
	extractor extractor.Factory
	headers   []string
	schema    *schema.Schema
	loader    loader.Factory

	logStatus    bool
	ledger       *status.Ledger // caller-owned
	statusDriver string
	statusDSN    string

	chunkSize      int
	startFromChunk int
	strict         bool

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  *observability.Tracer
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogStatus turns status logging, and with it deduplication, on or off.
func WithLogStatus(on bool) Option {
	return func(p *Pipeline) { p.logStatus = on }
}

// WithStatusDB enables status logging against a database the pipeline opens
// and closes within each run.
func WithStatusDB(driver, dsn string) Option {
	return func(p *Pipeline) {
		p.logStatus = true
		p.statusDriver = driver
		p.statusDSN = dsn
	}
}

// WithLedger enables status logging against a caller-owned ledger. The
// pipeline never closes it.
func WithLedger(l *status.Ledger) Option {
	return func(p *Pipeline) {
		p.logStatus = true
		p.ledger = l
	}
}

// WithChunkSize sets the number of rows per Load call.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithStartFromChunk resumes at the 1-based chunk n. Rows of earlier chunks
// are read but neither validated nor loaded.
func WithStartFromChunk(n int) Option {
	return func(p *Pipeline) { p.startFromChunk = n }
}

// WithStrict controls whether a row failing validation aborts the run
// (true, the default) or is logged and skipped.
func WithStrict(strict bool) Option {
	return func(p *Pipeline) { p.strict = strict }
}

// WithHeaders passes explicit headers to the extractor.
func WithHeaders(headers ...string) Option {
	return func(p *Pipeline) { p.headers = headers }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records run metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// WithTracer emits run and chunk spans on t.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates an unbound pipeline.
func New(name, displayName string, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:        name,
		displayName: displayName,
		chunkSize:   DefaultChunkSize,
		strict:      true,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect binds the connector and the target it opens.
func (p *Pipeline) Connect(f connector.Factory, target string) *Pipeline {
	p.connector = f
	p.target = target
	return p
}

// Extract binds the extractor.
func (p *Pipeline) Extract(f extractor.Factory) *Pipeline {
	p.extractor = f
	return p
}

// Schema binds the schema rows are validated against.
func (p *Pipeline) Schema(s *schema.Schema) *Pipeline {
	p.schema = s
	return p
}

// Load binds the loader.
func (p *Pipeline) Load(f loader.Factory) *Pipeline {
	p.loader = f
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// DisplayName returns the name status rows are keyed by.
func (p *Pipeline) DisplayName() string { return p.displayName }

// Target returns the bound connector target.
func (p *Pipeline) Target() string { return p.target }

// LogStatus reports whether runs are recorded in the status ledger.
func (p *Pipeline) LogStatus() bool { return p.logStatus }

// enforceFullPipeline fails unless every component is bound.
func (p *Pipeline) enforceFullPipeline() error {
	if p.connector == nil || p.extractor == nil || p.schema == nil || p.loader == nil {
		return errors.New(errors.ErrorTypeConfig, "You must specify connect, extract, schema, and load steps")
	}
	return nil
}
