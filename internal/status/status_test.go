package status

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	require.NoError(t, l.EnsureTable(context.Background(), false))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_WriteReplacesByKey(t *testing.T) {
	l := openTemp(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)

	rec := Record{Name: "permits", DisplayName: "Permits", StartTime: start, Status: StatusNew}
	require.NoError(t, l.Write(ctx, rec))

	rec.Status = StatusSuccess
	rec.InputChecksum = "abc"
	rec.NumLines = 5
	rec.LastRan = start.Add(time.Minute)
	require.NoError(t, l.Write(ctx, rec))

	rows, err := l.List(ctx, "Permits", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, 5, got.NumLines)
	assert.Equal(t, "abc", got.InputChecksum)
	assert.True(t, start.Equal(got.StartTime), "microsecond precision survives: %v", got.StartTime)
	assert.True(t, rec.LastRan.Equal(got.LastRan))
}

func TestLedger_LastChecksum(t *testing.T) {
	l := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sum, err := l.LastChecksum(ctx, "permits", "Permits")
	require.NoError(t, err)
	assert.Empty(t, sum)

	records := []Record{
		{Name: "permits", DisplayName: "Permits", StartTime: base, Status: StatusSuccess, InputChecksum: "first"},
		{Name: "permits", DisplayName: "Permits", StartTime: base.Add(time.Hour), Status: StatusSuccess, InputChecksum: "second"},
		{Name: "permits", DisplayName: "Permits", StartTime: base.Add(2 * time.Hour), Status: ErrorPrefix + "boom"},
		{Name: "other", DisplayName: "Permits", StartTime: base.Add(3 * time.Hour), Status: StatusSuccess, InputChecksum: "other"},
	}
	for _, r := range records {
		require.NoError(t, l.Write(ctx, r))
	}

	sum, err = l.LastChecksum(ctx, "permits", "Permits")
	require.NoError(t, err)
	assert.Equal(t, "second", sum, "failed runs without a checksum are ignored")
}

func TestLedger_ListNewestFirst(t *testing.T) {
	l := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Write(ctx, Record{
			Name: "p", DisplayName: fmt.Sprintf("P%d", i%2), StartTime: base.Add(time.Duration(i) * time.Hour), Status: StatusNew,
		}))
	}

	all, err := l.List(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].StartTime.After(all[1].StartTime))
	assert.True(t, all[0].LastRan.IsZero())

	p0, err := l.List(ctx, "P0", 0)
	require.NoError(t, err)
	assert.Len(t, p0, 2)
}

func TestLedger_EnsureTableDrop(t *testing.T) {
	l := openTemp(t)
	ctx := context.Background()
	require.NoError(t, l.Write(ctx, Record{Name: "p", DisplayName: "P", StartTime: time.Now(), Status: StatusNew}))

	require.NoError(t, l.EnsureTable(ctx, false))
	rows, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, l.EnsureTable(ctx, true))
	rows, err = l.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLedger_CallerOwnedConnectionStaysOpen(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	defer db.Close()

	l, err := New(db, "sqlite")
	require.NoError(t, err)
	assert.False(t, l.Owned())
	require.NoError(t, l.EnsureTable(context.Background(), false))
	require.NoError(t, l.Close())

	assert.NoError(t, db.PingContext(context.Background()))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "sqlite", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingStatusDB))

	_, err = Open(context.Background(), "oracle", "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(nil, "sqlite")
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingStatusDB))
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, "error: boom", ErrorStatus(fmt.Errorf("boom")))

	long := ErrorStatus(fmt.Errorf("%s", strings.Repeat("x", 900)))
	assert.Len(t, long, len(ErrorPrefix)+MaxMessageLen)
	assert.True(t, Record{Status: long}.Failed())
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", postgresDialect.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", sqliteDialect.rebind("a = ?"))
}

func TestUnixRoundTrip(t *testing.T) {
	ts := time.Date(2030, 6, 1, 23, 59, 59, 999999000, time.UTC)
	assert.True(t, ts.Equal(fromUnix(toUnix(ts))))
}
