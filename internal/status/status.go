// Package status persists one ledger row per pipeline run. The ledger backs
// checksum deduplication and reports the outcome of every run.
//
// Rows are keyed by (display_name, start_time) and written with
// insert-or-replace semantics, so a run's row is created as "new" and then
// rewritten as it progresses. Times are stored as unix seconds with
// microsecond precision.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// Status values. Failures are recorded as ErrorPrefix followed by the
// error message. StatusDuplicate only appears in run summaries; a skipped
// duplicate run writes no row.
const (
	StatusNew       = "new"
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
	ErrorPrefix     = "error: "
)

// MaxMessageLen bounds the error message stored in a status value.
const MaxMessageLen = 500

// Record is one ledger row.
type Record struct {
	Name          string
	DisplayName   string
	StartTime     time.Time
	LastRan       time.Time // zero until the run finishes
	Status        string
	NumLines      int
	InputChecksum string // empty until the run succeeds
}

// Failed reports whether the record holds an error status.
func (r Record) Failed() bool { return strings.HasPrefix(r.Status, ErrorPrefix) }

// ErrorStatus formats err as a status value, truncating the message.
func ErrorStatus(err error) string {
	msg := err.Error()
	if len(msg) > MaxMessageLen {
		msg = msg[:MaxMessageLen]
	}
	return ErrorPrefix + msg
}

type dialect struct {
	driver string
	float  string
	upsert string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		float:  "REAL",
		upsert: `INSERT OR REPLACE INTO status (
			name, display_name, last_ran, start_time, input_checksum, status, num_lines
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	}
	postgresDialect = dialect{
		driver: "pgx",
		float:  "DOUBLE PRECISION",
		upsert: `INSERT INTO status (
			name, display_name, last_ran, start_time, input_checksum, status, num_lines
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (display_name, start_time) DO UPDATE SET
			name = EXCLUDED.name,
			last_ran = EXCLUDED.last_ran,
			input_checksum = EXCLUDED.input_checksum,
			status = EXCLUDED.status,
			num_lines = EXCLUDED.num_lines`,
	}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, errors.Newf(errors.ErrorTypeConfig, "unsupported status database driver %q", driver)
	}
}

// rebind rewrites ? markers for dialects that number their parameters.
func (d dialect) rebind(query string) string {
	if d.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const createTable = `CREATE TABLE IF NOT EXISTS status (
	name TEXT NOT NULL,
	display_name TEXT,
	last_ran %[1]s,
	start_time %[1]s NOT NULL,
	input_checksum TEXT,
	status TEXT,
	num_lines INTEGER,
	PRIMARY KEY (display_name, start_time)
)`

// Ledger reads and writes status rows.
type Ledger struct {
	db      *sql.DB
	dialect dialect
	owned   bool
}

// Open connects to a status database. driver is "sqlite" or "postgres"; for
// sqlite the dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeMissingStatusDB, "no status database configured")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open status database")
	}
	if d == sqliteDialect {
		// single writer
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "status database ping failed")
	}
	return &Ledger{db: db, dialect: d, owned: true}, nil
}

// New wraps a caller-owned connection. Close leaves db open.
func New(db *sql.DB, driver string) (*Ledger, error) {
	if db == nil {
		return nil, errors.New(errors.ErrorTypeMissingStatusDB, "nil status database connection")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db, dialect: d}, nil
}

// EnsureTable creates the status table, dropping it first when drop is set.
func (l *Ledger) EnsureTable(ctx context.Context, drop bool) error {
	if drop {
		if _, err := l.db.ExecContext(ctx, `DROP TABLE IF EXISTS status`); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to drop status table")
		}
	}
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(createTable, l.dialect.float)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create status table")
	}
	return nil
}

// Write inserts or replaces the row for (DisplayName, StartTime).
func (l *Ledger) Write(ctx context.Context, r Record) error {
	_, err := l.db.ExecContext(ctx, l.dialect.upsert,
		r.Name,
		r.DisplayName,
		nullTime(r.LastRan),
		toUnix(r.StartTime),
		nullString(r.InputChecksum),
		r.Status,
		r.NumLines,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write status row").
			WithDetail("display_name", r.DisplayName)
	}
	return nil
}

// LastChecksum returns the input checksum of the most recent run of the
// pipeline that recorded one, or "" when there is none.
func (l *Ledger) LastChecksum(ctx context.Context, name, displayName string) (string, error) {
	var sum string
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(`
		SELECT input_checksum FROM status
		WHERE name = ? AND display_name = ?
			AND input_checksum IS NOT NULL AND input_checksum <> ''
		ORDER BY start_time DESC
		LIMIT 1`), name, displayName).Scan(&sum)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to read last checksum")
	}
	return sum, nil
}

// List returns recent rows, newest first. An empty displayName lists every
// pipeline; limit <= 0 means no limit.
func (l *Ledger) List(ctx context.Context, displayName string, limit int) ([]Record, error) {
	query := `SELECT name, display_name, last_ran, start_time, input_checksum, status, num_lines FROM status`
	var args []any
	if displayName != "" {
		query += ` WHERE display_name = ?`
		args = append(args, displayName)
	}
	query += ` ORDER BY start_time DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list status rows")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			display  sql.NullString
			lastRan  sql.NullFloat64
			start    float64
			checksum sql.NullString
			status   sql.NullString
			numLines sql.NullInt64
		)
		if err := rows.Scan(&r.Name, &display, &lastRan, &start, &checksum, &status, &numLines); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to scan status row")
		}
		r.DisplayName = display.String
		if lastRan.Valid {
			r.LastRan = fromUnix(lastRan.Float64)
		}
		r.StartTime = fromUnix(start)
		r.InputChecksum = checksum.String
		r.Status = status.String
		r.NumLines = int(numLines.Int64)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read status rows")
	}
	return out, nil
}

// Owned reports whether Close will close the underlying connection.
func (l *Ledger) Owned() bool { return l.owned }

// Close closes a connection opened by Open. Caller-owned connections are
// left open.
func (l *Ledger) Close() error {
	if !l.owned || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func toUnix(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnix(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}

func nullTime(t time.Time) sql.NullFloat64 {
	if t.IsZero() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: toUnix(t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
