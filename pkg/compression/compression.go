// Package compression provides transparent decompression of source content.
//
// Connectors detect the algorithm from the target's extension and wrap the
// raw stream before handing it to an extractor:
//
//	alg := compression.Detect("permits.csv.zst")
//	rc, err := compression.NewReader(raw, alg)
//
// Checksums are always computed over the raw, still-compressed bytes.
package compression

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents uncompressed content
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 stream compression
	S2 Algorithm = "s2"
)

var extensions = map[string]Algorithm{
	".gz":   Gzip,
	".gzip": Gzip,
	".sz":   Snappy,
	".lz4":  LZ4,
	".zst":  Zstd,
	".zstd": Zstd,
	".s2":   S2,
}

// Detect returns the algorithm implied by the target's extension. URLs are
// matched on their path without query string.
func Detect(target string) Algorithm {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	if alg, ok := extensions[strings.ToLower(path.Ext(target))]; ok {
		return alg
	}
	return None
}

// Parse maps a configured algorithm name onto an Algorithm.
func Parse(name string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToLower(name)); alg {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2:
		return alg, nil
	default:
		return None, fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// NewReader wraps r with a decompressor for alg. Closing the returned reader
// releases decoder resources but does not close r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case "", None:
		return io.NopCloser(r), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}
