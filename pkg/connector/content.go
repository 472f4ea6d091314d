package connector

import (
	"io"

	"github.com/ajitpratap0/ledgerline/pkg/compression"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// wrapContent layers decompression and text decoding over a raw stream.
// Decompressor close functions are registered on cl.
func wrapContent(raw io.Reader, target string, opts Options, cl *closers) (io.Reader, error) {
	alg := compression.Detect(target)
	if opts.Compression != "" {
		parsed, err := compression.Parse(opts.Compression)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression option")
		}
		alg = parsed
	}

	rc, err := compression.NewReader(raw, alg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to decompress source").
			WithDetail("target", target)
	}
	cl.push(rc.Close)

	return decode(rc, opts.Encoding)
}
