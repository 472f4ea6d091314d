package extractor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
)

func handle(content string) *connector.Handle {
	return &connector.Handle{Target: "test", Reader: strings.NewReader(content)}
}

// collect runs the extractor end to end and returns the non-header rows.
func collect(t *testing.T, ex Extractor) (rows []record.Row, headers int) {
	t.Helper()
	for raw, err := range ex.Process(context.Background()) {
		require.NoError(t, err)
		res := ex.HandleRow(raw)
		if res.Header {
			headers++
			continue
		}
		rows = append(rows, res.Row)
	}
	return rows, headers
}

func TestDeriveHeader(t *testing.T) {
	tests := map[string]string{
		"One":            "one",
		"Two Words":      "two_words",
		"Two  \t Spaces": "two_spaces",
		"(Fee) Total":    "fee_total",
		"Amount ($)":     "amount_",
		"already_snake":  "already_snake",
		"Permit-ID":      "permit_id",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, DeriveHeader(in))
		})
	}
}

func TestCSV_HeaderRoundTrip(t *testing.T) {
	ex, err := NewCSV(handle("One,Two Words\n1,a\nOne,Two Words\n2,\n"), Options{})
	require.NoError(t, err)
	defer ex.Close()

	require.NoError(t, ex.ResolveHeaders(nil))
	assert.Equal(t, []string{"One", "Two Words"}, ex.Headers())
	assert.Equal(t, []string{"one", "two_words"}, ex.SchemaHeaders())

	rows, headers := collect(t, ex)
	assert.Equal(t, 2, headers, "leading and repeated header rows are both flagged")
	require.Len(t, rows, 2)

	assert.Equal(t, []string{"one", "two_words"}, rows[0].Keys())
	assert.Equal(t, []any{"1", "a"}, rows[0].Values())
	assert.True(t, rows[1].IsNull("two_words"), "empty strings become null")
}

func TestCSV_ExplicitHeaders(t *testing.T) {
	ex, err := NewCSV(handle("1;Main St\n2;Elm St\n"), Options{Delimiter: ";"})
	require.NoError(t, err)

	require.NoError(t, ex.ResolveHeaders([]string{"ID", "Street Name"}))
	assert.Equal(t, []string{"ID", "Street Name"}, ex.SchemaHeaders(), "explicit headers are used unchanged")

	rows, headers := collect(t, ex)
	assert.Zero(t, headers)
	require.Len(t, rows, 2)
	v, _ := rows[1].Get("Street Name")
	assert.Equal(t, "Elm St", v)
}

func TestCSV_ConfiguredHeaders(t *testing.T) {
	ex, err := NewCSV(handle("1,2\n"), Options{Headers: []string{"a", "b"}})
	require.NoError(t, err)
	require.NoError(t, ex.ResolveHeaders(nil))
	assert.Equal(t, []string{"a", "b"}, ex.Headers())
}

func TestCSV_NoHeaders(t *testing.T) {
	off := false
	ex, err := NewCSV(handle("1,2\n"), Options{FirstlineHeaders: &off})
	require.NoError(t, err)

	err = ex.ResolveHeaders(nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "No headers were passed or detected.")
}

func TestCSV_ShortRowsAndBOM(t *testing.T) {
	ex, err := NewCSV(handle("\ufeffID,Name,Note\n7,Ann\n"), Options{})
	require.NoError(t, err)
	require.NoError(t, ex.ResolveHeaders(nil))
	assert.Equal(t, []string{"id", "name", "note"}, ex.SchemaHeaders())

	rows, _ := collect(t, ex)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsNull("note"))
}

func TestCSV_InvalidDelimiter(t *testing.T) {
	_, err := NewCSV(handle(""), Options{Delimiter: "||"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestStream_StateMachine(t *testing.T) {
	ex, err := NewCSV(handle("a\n1\n"), Options{})
	require.NoError(t, err)

	var streamErr error
	for _, err := range ex.Process(context.Background()) {
		streamErr = err
	}
	require.Error(t, streamErr, "streaming before headers are resolved")

	require.NoError(t, ex.ResolveHeaders(nil))
	assert.Error(t, ex.ResolveHeaders(nil))

	_, _ = collect(t, ex)

	streamErr = nil
	for _, err := range ex.Process(context.Background()) {
		streamErr = err
	}
	assert.Error(t, streamErr, "a stream is consumed once")

	require.NoError(t, ex.Close())
	require.NoError(t, ex.Close())
}

func TestStream_ContextCancelled(t *testing.T) {
	ex, err := NewCSV(handle("a\n1\n2\n"), Options{})
	require.NoError(t, err)
	require.NoError(t, ex.ResolveHeaders(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	for _, err := range ex.Process(ctx) {
		got = err
	}
	assert.ErrorIs(t, got, context.Canceled)
}

func TestStream_EmptySource(t *testing.T) {
	ex, err := NewCSV(handle(""), Options{})
	require.NoError(t, err)
	err = ex.ResolveHeaders(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestJSON_Formats(t *testing.T) {
	tests := []struct {
		name string
		h    *connector.Handle
		opts Options
	}{
		{name: "array", h: handle(`[{"b":"x","a":1},{"a":2,"b":""}]`)},
		{name: "ndjson", h: handle("{\"b\":\"x\",\"a\":1}\n{\"a\":2,\"b\":\"\"}\n")},
		{name: "records path", h: handle(`{"result":{"records":[{"b":"x","a":1},{"a":2,"b":""}]}}`), opts: Options{RecordsPath: "result.records"}},
		{name: "decoded payload", h: &connector.Handle{Value: []any{
			map[string]any{"b": "x", "a": float64(1)},
			map[string]any{"a": float64(2), "b": ""},
		}}},
		{name: "text payload", h: &connector.Handle{Value: `[{"b":"x","a":1},{"a":2,"b":""}]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := NewJSON(tt.h, tt.opts)
			require.NoError(t, err)
			require.NoError(t, ex.ResolveHeaders(nil))
			assert.Equal(t, []string{"a", "b"}, ex.Headers(), "sorted keys of the first object")

			rows, headers := collect(t, ex)
			assert.Zero(t, headers)
			require.Len(t, rows, 2)
			assert.Equal(t, []any{float64(1), "x"}, rows[0].Values())
			assert.True(t, rows[1].IsNull("b"))
		})
	}
}

func TestJSON_NotObjects(t *testing.T) {
	ex, err := NewJSON(handle(`[1,2]`), Options{Headers: []string{"a"}})
	require.NoError(t, err)
	require.NoError(t, ex.ResolveHeaders(nil))

	var got error
	for _, err := range ex.Process(context.Background()) {
		got = err
	}
	assert.True(t, errors.IsType(got, errors.ErrorTypeFile))
}

func TestJSON_BadRecordsPath(t *testing.T) {
	_, err := NewJSON(handle(`{"result":[]}`), Options{RecordsPath: "result.records"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExcel(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Permit ID", "Fee Amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"P-1", 20}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"P-2"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	ex, err := NewExcel(&connector.Handle{Reader: &buf}, Options{})
	require.NoError(t, err)
	defer ex.Close()

	require.NoError(t, ex.ResolveHeaders(nil))
	assert.Equal(t, []string{"permit_id", "fee_amount"}, ex.SchemaHeaders())

	rows, headers := collect(t, ex)
	assert.Equal(t, 1, headers)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"P-1", "20"}, rows[0].Values())
	assert.True(t, rows[1].IsNull("fee_amount"))
}

func TestExcel_MissingSheet(t *testing.T) {
	f := excelize.NewFile()
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	_, err := NewExcel(&connector.Handle{Reader: &buf}, Options{Sheet: "Nope"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"csv", "excel", "json"}, Types())

	factory, err := Lookup("csv", Options{})
	require.NoError(t, err)
	ex, err := factory(handle("a\n1\n"))
	require.NoError(t, err)
	require.NoError(t, ex.ResolveHeaders(nil))

	_, err = factory(&connector.Handle{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Lookup("parquet", Options{})
	assert.Error(t, err)
}
