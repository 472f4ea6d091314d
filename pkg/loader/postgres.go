package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

// pgPool is the part of *pgxpool.Pool the loader uses.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresLoader loads rows into a Postgres table. Inserts use COPY; upserts
// use a batch of INSERT ... ON CONFLICT statements. The table comment is the
// metadata record.
type PostgresLoader struct {
	opts    Options
	table   pgx.Identifier
	fields  []schema.DestinationField
	columns []string
	connect func(ctx context.Context, dsn string) (pgPool, error)
	pool    pgPool
	ready   bool
	logger  *zap.Logger
}

// NewPostgresLoader creates a loader for s. The pool is opened on first load.
func NewPostgresLoader(s *schema.Schema, opts Options) (*PostgresLoader, error) {
	if opts.DSN == "" || opts.Table == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres loader requires dsn and table")
	}
	if err := opts.checkMethod(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres loader requires a schema")
	}

	fields := s.ToPostgresFields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.ID
	}

	return &PostgresLoader{
		opts:    opts,
		table:   pgx.Identifier(strings.Split(opts.Table, ".")),
		fields:  fields,
		columns: columns,
		connect: func(ctx context.Context, dsn string) (pgPool, error) {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return pool, nil
		},
		logger: opts.logger().With(zap.String("loader", "postgres"), zap.String("table", opts.Table)),
	}, nil
}

// classify converts a database error into a LoadError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return newLoadError(op, http.StatusBadRequest, pgErr.Code+" "+pgErr.Message, false, err)
	}
	return newLoadError(op, 0, "", pgconn.SafeToRetry(err) || pgconn.Timeout(err), err)
}

func (l *PostgresLoader) open(ctx context.Context) error {
	if l.pool == nil {
		pool, err := l.connect(ctx, l.opts.DSN)
		if err != nil {
			return newLoadError("connect", 0, "", true, err)
		}
		l.pool = pool
	}
	if l.ready {
		return nil
	}

	err := withRetry(ctx, l.opts.retryPolicy(), l.logger, "create_table", func() error {
		_, err := l.pool.Exec(ctx, createTableSQL(l.table, l.fields, l.opts.PrimaryKey))
		return classify("create_table", err)
	})
	if err != nil {
		return err
	}
	l.ready = true
	return nil
}

// Load writes rows, then stamps the table comment.
func (l *PostgresLoader) Load(ctx context.Context, rows []record.Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	if err := l.open(ctx); err != nil {
		return Result{}, err
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(l.columns))
		for j, f := range l.fields {
			raw, _ := r.Get(f.ID)
			v, err := pgValue(f.Type, raw)
			if err != nil {
				return Result{}, newLoadError("encode", 0, fmt.Sprintf("row %d column %s", i, f.ID), false, err)
			}
			vals[j] = v
		}
		values[i] = vals
	}

	var res Result
	var err error
	if l.opts.method() == MethodUpsert {
		err = withRetry(ctx, l.opts.retryPolicy(), l.logger, "upsert", func() error {
			return classify("upsert", l.upsert(ctx, values))
		})
	} else {
		err = withRetry(ctx, l.opts.retryPolicy(), l.logger, "copy", func() error {
			_, err := l.pool.CopyFrom(ctx, l.table, l.columns, pgx.CopyFromRows(values))
			return classify("copy", err)
		})
	}
	if err != nil {
		return res, err
	}
	res.WriteStatus, res.Rows = http.StatusOK, len(rows)

	err = withRetry(ctx, l.opts.retryPolicy(), l.logger, "comment", func() error {
		_, err := l.pool.Exec(ctx, commentSQL(l.table, l.opts.now().UTC().Format("2006-01-02T15:04:05Z")))
		return classify("comment", err)
	})
	if err != nil {
		return res, err
	}
	res.MetadataStatus = http.StatusOK
	return res, nil
}

// pgValue converts a validated value into one pgx can send in binary format
// for a column of pgType. Validated temporal values are strings in the schema
// output layouts; JSON values are marshaled so scalars stay valid jsonb.
func pgValue(pgType string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch pgType {
	case "date":
		if s, ok := v.(string); ok {
			return time.Parse(schema.DateLayout, s)
		}
	case "timestamptz":
		if s, ok := v.(string); ok {
			return time.Parse(schema.DateTimeLayout, s)
		}
	case "time":
		if s, ok := v.(string); ok {
			t, err := time.Parse(schema.TimeLayout, s)
			if err != nil {
				return nil, err
			}
			us := int64(t.Hour())*int64(time.Hour/time.Microsecond) +
				int64(t.Minute())*int64(time.Minute/time.Microsecond) +
				int64(t.Second())*int64(time.Second/time.Microsecond) +
				int64(t.Nanosecond())/int64(time.Microsecond)
			return pgtype.Time{Microseconds: us, Valid: true}, nil
		}
	case "jsonb":
		return gojson.Marshal(v)
	}
	return v, nil
}

func (l *PostgresLoader) upsert(ctx context.Context, values [][]any) error {
	stmt := upsertSQL(l.table, l.columns, l.opts.PrimaryKey)
	b := &pgx.Batch{}
	for _, v := range values {
		b.Queue(stmt, v...)
	}

	br := l.pool.SendBatch(ctx, b)
	for range values {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

// Close closes the pool.
func (l *PostgresLoader) Close() error {
	if l.pool != nil {
		l.pool.Close()
		l.pool = nil
	}
	return nil
}

func quoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return out
}

func createTableSQL(table pgx.Identifier, fields []schema.DestinationField, primaryKey []string) string {
	defs := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		defs = append(defs, pgx.Identifier{f.ID}.Sanitize()+" "+f.Type)
	}
	if len(primaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(quoteColumns(primaryKey), ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
}

func upsertSQL(table pgx.Identifier, columns, primaryKey []string) string {
	params := make([]string, len(columns))
	for i := range columns {
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	pk := make(map[string]bool, len(primaryKey))
	for _, k := range primaryKey {
		pk[k] = true
	}
	var sets []string
	for _, c := range columns {
		if !pk[c] {
			q := pgx.Identifier{c}.Sanitize()
			sets = append(sets, q+" = EXCLUDED."+q)
		}
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table.Sanitize(),
		strings.Join(quoteColumns(columns), ", "),
		strings.Join(params, ", "),
		strings.Join(quoteColumns(primaryKey), ", "),
		action)
}

func commentSQL(table pgx.Identifier, modified string) string {
	comment := "ledgerline: last loaded " + modified
	return fmt.Sprintf("COMMENT ON TABLE %s IS '%s'", table.Sanitize(), strings.ReplaceAll(comment, "'", "''"))
}
