package extractor

import (
	"encoding/csv"
	"strings"
	"unicode/utf8"

	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

const utf8BOM = "\ufeff"

type csvSource struct {
	r       *csv.Reader
	pending []string
	peeked  bool
	first   bool
}

// NewCSV creates an extractor for delimited text. The delimiter defaults to
// a comma.
func NewCSV(h *connector.Handle, opts Options) (*Stream, error) {
	if err := requireReader("csv", h); err != nil {
		return nil, err
	}

	r := csv.NewReader(h.Reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = opts.LazyQuotes
	if opts.Delimiter != "" {
		d, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) || d == '"' || d == '\r' || d == '\n' {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid csv delimiter %q", opts.Delimiter)
		}
		r.Comma = d
	}

	return newStream("csv", opts, &csvSource{r: r, first: true}), nil
}

func (c *csvSource) next() ([]string, error) {
	rec, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	if c.first {
		c.first = false
		if len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
		}
	}
	return rec, nil
}

func (c *csvSource) peekHeaders() ([]string, error) {
	rec, err := c.next()
	if err != nil {
		return nil, err
	}
	c.pending, c.peeked = rec, true
	return append([]string(nil), rec...), nil
}

func (c *csvSource) bind([]string) {}

func (c *csvSource) read() (RawRow, error) {
	rec := c.pending
	if c.peeked {
		c.pending, c.peeked = nil, false
	} else {
		var err error
		if rec, err = c.next(); err != nil {
			return nil, err
		}
	}
	return toRaw(rec), nil
}

func (c *csvSource) close() error { return nil }

func toRaw(values []string) RawRow {
	row := make(RawRow, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
