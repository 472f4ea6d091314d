package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/internal/status"
	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/extractor"
	"github.com/ajitpratap0/ledgerline/pkg/loader"
	"github.com/ajitpratap0/ledgerline/pkg/logger"
	"github.com/ajitpratap0/ledgerline/pkg/metrics"
	"github.com/ajitpratap0/ledgerline/pkg/observability"
	"github.com/ajitpratap0/ledgerline/pkg/record"
)

// Summary reports the outcome of one run.
type Summary struct {
	RunID         string    `json:"run_id"`
	Name          string    `json:"name"`
	DisplayName   string    `json:"display_name"`
	Status        string    `json:"status"`
	NumLines      int       `json:"num_lines"`
	Chunks        int       `json:"chunks"`
	SkippedChunks int       `json:"skipped_chunks"`
	HeaderRows    int       `json:"header_rows"`
	Rejected      int       `json:"rejected"`
	Checksum      string    `json:"input_checksum,omitempty"`
	StartTime     time.Time `json:"start_time"`
	LastRan       time.Time `json:"last_ran"`
}

// outcome classifies one extracted row.
type outcome int

const (
	rowSkip outcome = iota
	rowOK
	rowInvalid
)

// run holds the state of a single Run call.
type run struct {
	p      *Pipeline
	log    *zap.Logger
	ledger *status.Ledger
	record *status.Record // set once the "new" row is written
	span   *observability.Span
	sum    Summary
}

// Run executes the pipeline once. Errors are recorded in the status ledger
// when a status row exists and are returned unchanged.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.now()
	if err := p.enforceFullPipeline(); err != nil {
		return Summary{}, err
	}

	r := &run{
		p: p,
		sum: Summary{
			RunID:       uuid.NewString(),
			Name:        p.name,
			DisplayName: p.displayName,
			StartTime:   start,
		},
	}
	ctx = logger.ContextWithRun(ctx, r.sum.RunID, p.name)
	r.log = logger.FromContext(ctx, p.logger).With(zap.String("display_name", p.displayName))

	ctx, span := p.tracer.StartRun(ctx, p.name, p.displayName, r.sum.RunID)
	r.span = span
	r.log.Info("starting pipeline run",
		zap.String("target", p.target),
		zap.Int("chunk_size", p.chunkSize),
		zap.Int("start_from_chunk", p.startFromChunk),
		zap.Bool("log_status", p.logStatus),
		zap.Bool("strict", p.strict))

	err := r.execute(ctx)
	if r.sum.LastRan.IsZero() {
		r.sum.LastRan = p.now()
	}

	span.SetAttribute("pipeline.num_lines", r.sum.NumLines)
	span.End(err)

	result := metrics.OutcomeSuccess
	switch {
	case errors.IsType(err, errors.ErrorTypeDuplicate):
		result = metrics.OutcomeDuplicate
		r.log.Info("input unchanged since last run, skipping", zap.String("input_checksum", r.sum.Checksum))
	case err != nil:
		result = metrics.OutcomeError
		r.log.Error("pipeline run failed", zap.Error(err), zap.Int("num_lines", r.sum.NumLines))
	default:
		r.log.Info("pipeline run completed",
			zap.Int("num_lines", r.sum.NumLines),
			zap.Int("chunks", r.sum.Chunks),
			zap.Int("rejected", r.sum.Rejected),
			zap.Duration("duration", r.sum.LastRan.Sub(start)))
	}
	p.metrics.RunFinished(p.name, result)
	p.metrics.ObserveRun(p.name, result, r.sum.LastRan.Sub(start))

	return r.sum, err
}

func (r *run) execute(ctx context.Context) (err error) {
	if err := r.openLedger(ctx); err != nil {
		return err
	}
	defer r.closeLedger()
	defer func() { err = r.finish(ctx, err) }()

	conn, err := r.p.connector()
	if err != nil {
		return err
	}
	defer r.closeQuietly("connector", conn.Close)

	handle, err := conn.Connect(ctx, r.p.target)
	if err != nil {
		return err
	}

	if r.ledger != nil {
		if err := r.checkDuplicate(ctx, conn); err != nil {
			return err
		}
		if err := r.begin(ctx); err != nil {
			return err
		}
	}

	ex, err := r.p.extractor(handle)
	if err != nil {
		return err
	}
	defer r.closeQuietly("extractor", ex.Close)

	if err := ex.ResolveHeaders(r.p.headers); err != nil {
		return err
	}
	r.log.Debug("resolved headers",
		zap.Strings("headers", ex.Headers()),
		zap.Strings("schema_headers", ex.SchemaHeaders()))

	ld, err := r.p.loader(r.p.schema)
	if err != nil {
		return err
	}
	defer r.closeQuietly("loader", ld.Close)

	return r.stream(ctx, ex, ld)
}

func (r *run) openLedger(ctx context.Context) error {
	if !r.p.logStatus {
		return nil
	}
	if r.p.ledger != nil {
		r.ledger = r.p.ledger
	} else {
		l, err := status.Open(ctx, r.p.statusDriver, r.p.statusDSN)
		if err != nil {
			return err
		}
		r.ledger = l
	}
	if err := r.ledger.EnsureTable(ctx, false); err != nil {
		r.closeLedger()
		return err
	}
	return nil
}

// closeLedger releases a ledger opened by this run. Caller-owned ledgers are
// left open.
func (r *run) closeLedger() {
	if r.ledger == nil || r.ledger == r.p.ledger {
		return
	}
	r.closeQuietly("status database", r.ledger.Close)
	r.ledger = nil
}

func (r *run) checkDuplicate(ctx context.Context, conn connector.Connector) error {
	sum, err := conn.Checksum(ctx, r.p.target)
	if err != nil {
		return err
	}
	r.sum.Checksum = sum

	last, err := r.ledger.LastChecksum(ctx, r.p.name, r.p.displayName)
	if err != nil {
		return err
	}
	if last != "" && last == sum {
		return errors.Newf(errors.ErrorTypeDuplicate, "input for %s is unchanged since the last run", r.p.displayName).
			WithDetail("input_checksum", sum)
	}
	return nil
}

// begin writes the run's "new" status row.
func (r *run) begin(ctx context.Context) error {
	rec := status.Record{
		Name:        r.p.name,
		DisplayName: r.p.displayName,
		StartTime:   r.sum.StartTime,
		Status:      status.StatusNew,
	}
	if err := r.ledger.Write(ctx, rec); err != nil {
		return err
	}
	r.record = &rec
	r.sum.Status = status.StatusNew
	return nil
}

// finish records the final status, line count and completion time. A
// failure to record a failed run is logged and the run error returned.
func (r *run) finish(ctx context.Context, runErr error) error {
	r.sum.LastRan = r.p.now()
	switch {
	case runErr == nil:
		r.sum.Status = status.StatusSuccess
	case errors.IsType(runErr, errors.ErrorTypeDuplicate):
		r.sum.Status = status.StatusDuplicate
	default:
		r.sum.Status = status.ErrorStatus(runErr)
	}
	if r.record == nil {
		return runErr
	}

	rec := *r.record
	rec.Status = r.sum.Status
	rec.NumLines = r.sum.NumLines
	rec.LastRan = r.sum.LastRan
	if runErr == nil {
		rec.InputChecksum = r.sum.Checksum
	}

	if err := r.ledger.Write(context.WithoutCancel(ctx), rec); err != nil {
		if runErr != nil {
			r.log.Error("failed to record run failure", zap.Error(err))
			return runErr
		}
		return err
	}
	return runErr
}

// stream reads rows and loads them in chunks. A chunk is chunkSize data rows
// as read from the source, so chunk numbering does not depend on how many
// rows fail validation.
func (r *run) stream(ctx context.Context, ex extractor.Extractor, ld loader.Loader) error {
	size := r.p.chunkSize
	chunk := make([]record.Row, 0, size)
	index, read := 1, 0

	flush := func() error {
		defer func() {
			chunk = chunk[:0]
			read = 0
			index++
		}()
		if index < r.p.startFromChunk {
			r.sum.SkippedChunks++
			r.span.AddEvent("chunk.skipped", attribute.Int("chunk.index", index), attribute.Int("chunk.rows", read))
			r.log.Debug("skipped chunk", zap.Int("chunk", index), zap.Int("rows", read))
			return nil
		}
		if len(chunk) == 0 {
			return nil
		}
		return r.load(ctx, ld, index, chunk)
	}

	for raw, err := range ex.Process(ctx) {
		if err != nil {
			return err
		}
		res := ex.HandleRow(raw)

		if index < r.p.startFromChunk && !res.Header {
			read++
		} else {
			row, out, err := r.classify(res)
			switch out {
			case rowSkip:
				continue
			case rowInvalid:
				if r.p.strict {
					return err
				}
			case rowOK:
				chunk = append(chunk, row)
			}
			read++
		}

		if read == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if read > 0 {
		return flush()
	}
	return nil
}

func (r *run) classify(res extractor.Result) (record.Row, outcome, error) {
	if res.Header {
		r.sum.HeaderRows++
		r.p.metrics.HeaderSkipped(r.p.name)
		r.log.Debug("skipped repeated header row")
		return record.Row{}, rowSkip, nil
	}

	out, errs := r.p.schema.Validate(res.Row)
	if len(errs) == 0 {
		return out, rowOK, nil
	}

	err := errs.Err(res.Row)
	if !r.p.strict {
		r.sum.Rejected++
		r.p.metrics.RowRejected(r.p.name)
		r.log.Warn("skipping invalid row", zap.Error(err))
	}
	return record.Row{}, rowInvalid, err
}

func (r *run) load(ctx context.Context, ld loader.Loader, index int, rows []record.Row) error {
	ctx, span := r.p.tracer.StartChunk(ctx, index, len(rows))
	timer := metrics.NewTimer()

	res, err := ld.Load(ctx, rows)
	span.End(err)
	if err != nil {
		r.log.Error("chunk load failed", zap.Int("chunk", index), zap.Int("rows", len(rows)), zap.Error(err))
		return err
	}

	r.sum.Chunks++
	r.sum.NumLines += len(rows)
	r.p.metrics.ChunkLoaded(r.p.name, strconv.Itoa(res.WriteStatus), timer.Elapsed())
	r.p.metrics.RowsLoaded(r.p.name, len(rows))
	r.log.Info("loaded chunk",
		zap.Int("chunk", index),
		zap.Int("rows", len(rows)),
		zap.Int("write_status", res.WriteStatus),
		zap.Int("metadata_status", res.MetadataStatus))
	return nil
}

func (r *run) closeQuietly(what string, fn func() error) {
	if err := fn(); err != nil {
		r.log.Warn("failed to close "+what, zap.Error(err))
	}
}
