// Package extractor turns a connector handle into a lazy stream of raw rows
// and zips them with resolved headers into canonical rows.
//
// An extractor moves through four states: new, headers resolved, streaming
// and closed. Headers are either given explicitly or read from the start of
// the stream; in the latter case the schema headers are derived from the raw
// ones:
//
//	"Permit ID"   -> "permit_id"
//	"Two  Words"  -> "two_words"
//	"(Fee) Total" -> "fee_total"
//
// A row equal to the raw header row is reported through Result.Header so the
// caller can skip it wherever it appears in the stream.
package extractor

import (
	"context"
	"io"
	"iter"
	"regexp"
	"strings"

	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
)

// RawRow is one positional row as read from the source.
type RawRow []any

// Result is the outcome of handling a raw row. When Header is set the row
// repeated the header row and Row is empty.
type Result struct {
	Row    record.Row
	Header bool
}

// Extractor streams rows from an open handle.
type Extractor interface {
	// ResolveHeaders fixes the raw and schema headers. Explicit headers win
	// over configured ones; with neither, headers come from the stream.
	ResolveHeaders(explicit []string) error
	Headers() []string
	SchemaHeaders() []string
	// Process yields raw rows lazily. It may be consumed once.
	Process(ctx context.Context) iter.Seq2[RawRow, error]
	HandleRow(raw RawRow) Result
	Close() error
}

// Factory builds an extractor over a connected handle.
type Factory func(h *connector.Handle) (Extractor, error)

// Options configures the built-in extractors.
type Options struct {
	Headers []string `yaml:"headers"`
	// FirstlineHeaders reads headers from the stream when none are given.
	// Defaults to true.
	FirstlineHeaders *bool  `yaml:"firstline_headers"`
	Delimiter        string `yaml:"delimiter"`
	LazyQuotes       bool   `yaml:"lazy_quotes"`
	Sheet            string `yaml:"sheet"`
	// RecordsPath is a dotted path to the record array inside a JSON document.
	RecordsPath string `yaml:"records_path"`
}

func (o Options) firstlineHeaders() bool {
	return o.FirstlineHeaders == nil || *o.FirstlineHeaders
}

var separators = regexp.MustCompile(`[\s\p{P}\p{S}]+`)

// DeriveHeader normalizes a raw header into a schema field name.
func DeriveHeader(raw string) string {
	h := separators.ReplaceAllString(strings.ToLower(raw), "_")
	return strings.TrimLeft(h, "_")
}

// source reads positional rows for a Stream.
type source interface {
	// peekHeaders reads the header names at the start of the stream without
	// dropping anything that read must still return.
	peekHeaders() ([]string, error)
	// bind fixes the column order used by read.
	bind(headers []string)
	// read returns the next row or io.EOF.
	read() (RawRow, error)
	close() error
}

type state int

const (
	stateNew state = iota
	stateHeaders
	stateStreaming
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateHeaders:
		return "headers resolved"
	case stateStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// Stream is the extractor shared by the built-in formats.
type Stream struct {
	kind string
	opts Options
	src  source

	state         state
	headers       []string
	schemaHeaders []string
}

func newStream(kind string, opts Options, src source) *Stream {
	return &Stream{kind: kind, opts: opts, src: src}
}

// ResolveHeaders implements Extractor.
func (s *Stream) ResolveHeaders(explicit []string) error {
	if s.state != stateNew {
		return errors.Newf(errors.ErrorTypeInternal, "%s extractor: headers resolved while %s", s.kind, s.state)
	}

	headers := explicit
	if len(headers) == 0 {
		headers = s.opts.Headers
	}

	if len(headers) > 0 {
		s.headers = append([]string(nil), headers...)
		s.schemaHeaders = append([]string(nil), headers...)
	} else {
		if !s.opts.firstlineHeaders() {
			return errors.New(errors.ErrorTypeConfig, "No headers were passed or detected.")
		}
		raw, err := s.src.peekHeaders()
		if err != nil {
			if err == io.EOF {
				return errors.Newf(errors.ErrorTypeFile, "%s extractor: no header row found, source is empty", s.kind)
			}
			return errors.Wrap(err, errors.ErrorTypeFile, s.kind+" extractor: failed to read headers")
		}
		s.headers = raw
		s.schemaHeaders = make([]string, len(raw))
		for i, h := range raw {
			s.schemaHeaders[i] = DeriveHeader(h)
		}
	}

	s.src.bind(s.headers)
	s.state = stateHeaders
	return nil
}

// Headers returns the raw headers.
func (s *Stream) Headers() []string { return s.headers }

// SchemaHeaders returns the headers used as row keys.
func (s *Stream) SchemaHeaders() []string { return s.schemaHeaders }

// Process implements Extractor.
func (s *Stream) Process(ctx context.Context) iter.Seq2[RawRow, error] {
	return func(yield func(RawRow, error) bool) {
		if s.state != stateHeaders {
			yield(nil, errors.Newf(errors.ErrorTypeInternal, "%s extractor: cannot stream while %s", s.kind, s.state))
			return
		}
		s.state = stateStreaming

		for line := 1; ; line++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			row, err := s.src.read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, errors.Wrap(err, errors.ErrorTypeFile, s.kind+" extractor: failed to read row").
					WithDetail("row", line))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// HandleRow implements Extractor.
func (s *Stream) HandleRow(raw RawRow) Result {
	if s.isHeader(raw) {
		return Result{Header: true}
	}

	row := record.New(len(s.schemaHeaders))
	for i, h := range s.schemaHeaders {
		var v any
		if i < len(raw) {
			v = raw[i]
		}
		if str, ok := v.(string); ok && str == "" {
			v = record.Null
		}
		row.Set(h, v)
	}
	return Result{Row: row}
}

func (s *Stream) isHeader(raw RawRow) bool {
	if len(raw) != len(s.headers) {
		return false
	}
	for i, h := range s.headers {
		if str, ok := raw[i].(string); !ok || str != h {
			return false
		}
	}
	return true
}

// Close releases the source. Safe to call more than once.
func (s *Stream) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	return s.src.close()
}

func requireReader(kind string, h *connector.Handle) error {
	if h == nil || h.Reader == nil {
		return errors.Newf(errors.ErrorTypeConfig, "%s extractor needs a readable handle", kind)
	}
	return nil
}
