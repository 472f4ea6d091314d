package connector

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// FileConnector reads local files.
type FileConnector struct {
	opts    Options
	closers closers
}

// NewFileConnector creates a connector for local files. RootDir, when set,
// is joined in front of relative targets.
func NewFileConnector(opts Options) *FileConnector {
	return &FileConnector{opts: opts}
}

func (c *FileConnector) path(target string) string {
	if c.opts.RootDir != "" && !filepath.IsAbs(target) {
		return filepath.Join(c.opts.RootDir, target)
	}
	return target
}

// Connect opens the file, decompressing and decoding as configured.
func (c *FileConnector) Connect(_ context.Context, target string) (*Handle, error) {
	f, err := os.Open(c.path(target)) //nolint:gosec // target comes from pipeline configuration
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open file").
			WithDetail("target", target)
	}
	c.closers.push(f.Close)

	r, err := wrapContent(f, target, c.opts, &c.closers)
	if err != nil {
		_ = c.closers.close()
		return nil, err
	}
	return &Handle{Target: target, Reader: r}, nil
}

// Checksum hashes the raw file bytes through a separate descriptor.
func (c *FileConnector) Checksum(_ context.Context, target string) (string, error) {
	f, err := os.Open(c.path(target)) //nolint:gosec
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to open file for checksum").
			WithDetail("target", target)
	}
	defer f.Close()

	sum, err := Checksum(f)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to read file for checksum")
	}
	return sum, nil
}

// Close closes every file opened by Connect.
func (c *FileConnector) Close() error {
	return c.closers.close()
}
