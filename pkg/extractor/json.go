package extractor

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// jsonSource yields objects from a decoded document, or from an NDJSON
// stream one line at a time.
type jsonSource struct {
	items   []any
	pos     int
	dec     *gojson.Decoder
	headers []string
	pending map[string]any
	peeked  bool
	n       int
}

// NewJSON creates an extractor for JSON records. The input may be an array
// of objects, newline-delimited objects, or a document holding an array at
// Options.RecordsPath. A payload already decoded by the connector is used as
// is.
func NewJSON(h *connector.Handle, opts Options) (*Stream, error) {
	if h == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "json extractor needs a handle")
	}

	src := &jsonSource{}
	if v, ok := h.Value.(string); ok || h.Value == nil {
		var r io.Reader = strings.NewReader(v)
		if !ok {
			if err := requireReader("json", h); err != nil {
				return nil, err
			}
			r = h.Reader
		}
		if err := src.open(r, opts.RecordsPath); err != nil {
			return nil, err
		}
	} else if err := src.setDocument(h.Value, opts.RecordsPath); err != nil {
		return nil, err
	}

	return newStream("json", opts, src), nil
}

func (j *jsonSource) open(r io.Reader, path string) error {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read json input")
	}

	if first == '{' && path == "" {
		j.dec = gojson.NewDecoder(br)
		return nil
	}

	var doc any
	if err := gojson.NewDecoder(br).Decode(&doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "invalid json document")
	}
	return j.setDocument(doc, path)
}

func (j *jsonSource) setDocument(doc any, path string) error {
	if path != "" {
		for _, key := range strings.Split(path, ".") {
			m, ok := doc.(map[string]any)
			if !ok {
				return errors.Newf(errors.ErrorTypeConfig, "records path %q does not resolve to an object at %q", path, key)
			}
			if doc, ok = m[key]; !ok {
				return errors.Newf(errors.ErrorTypeConfig, "records path %q not found in document", path)
			}
		}
	}

	switch v := doc.(type) {
	case []any:
		j.items = v
	case map[string]any:
		j.items = []any{v}
	default:
		return errors.Newf(errors.ErrorTypeFile, "json input must hold objects, got %T", doc)
	}
	return nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xef, 0xbb, 0xbf: // whitespace and UTF-8 BOM
			continue
		}
		return b, br.UnreadByte()
	}
}

func (j *jsonSource) nextObject() (map[string]any, error) {
	j.n++
	var v any
	if j.dec != nil {
		if err := j.dec.Decode(&v); err != nil {
			return nil, err
		}
	} else {
		if j.pos >= len(j.items) {
			return nil, io.EOF
		}
		v = j.items[j.pos]
		j.pos++
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record %d is %T, not an object", j.n, v)
	}
	return obj, nil
}

func (j *jsonSource) peekHeaders() ([]string, error) {
	obj, err := j.nextObject()
	if err != nil {
		return nil, err
	}
	j.pending, j.peeked = obj, true

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (j *jsonSource) bind(headers []string) { j.headers = headers }

func (j *jsonSource) read() (RawRow, error) {
	obj := j.pending
	if j.peeked {
		j.pending, j.peeked = nil, false
	} else {
		var err error
		if obj, err = j.nextObject(); err != nil {
			return nil, err
		}
	}

	row := make(RawRow, len(j.headers))
	for i, h := range j.headers {
		row[i] = obj[h]
	}
	return row, nil
}

func (j *jsonSource) close() error {
	j.items, j.dec = nil, nil
	return nil
}
