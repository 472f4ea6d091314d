package connector

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// remoteFS is the subset of a remote file system session the staging
// connector needs.
type remoteFS interface {
	Size(name string) (int64, error)
	Open(name string) (io.ReadCloser, error)
	Close() error
}

type dialFunc func(ctx context.Context, opts Options) (remoteFS, error)

// staged holds a fully downloaded remote file, in memory or on disk.
type staged struct {
	mem  []byte
	file *os.File
	size int64
}

// stage copies r to memory when size is within threshold, otherwise to a
// temporary file. A negative size is treated as unknown and staged to disk.
func stage(r io.Reader, size, threshold int64) (*staged, error) {
	if size >= 0 && size <= threshold {
		var buf bytes.Buffer
		buf.Grow(int(size))
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, err
		}
		return &staged{mem: buf.Bytes(), size: int64(buf.Len())}, nil
	}

	f, err := os.CreateTemp("", "ledgerline-stage-*")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &staged{file: f, size: n}, nil
}

// onDisk reports whether the content was staged to a temporary file.
func (s *staged) onDisk() bool { return s.file != nil }

// reader returns a fresh reader positioned at the start of the content.
func (s *staged) reader() io.Reader {
	if s.file != nil {
		return io.NewSectionReader(s.file, 0, s.size)
	}
	return bytes.NewReader(s.mem)
}

func (s *staged) cleanup() error {
	if s.file == nil {
		s.mem = nil
		return nil
	}
	err := s.file.Close()
	if rmErr := os.Remove(s.file.Name()); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}

// StagingConnector downloads remote files through a file system session and
// stages them locally. The staged copy serves both extraction and checksum.
type StagingConnector struct {
	opts  Options
	proto string
	dial  dialFunc

	fs      remoteFS
	target  string
	content *staged
	closers closers
}

func newStagingConnector(proto string, opts Options, dial dialFunc) *StagingConnector {
	return &StagingConnector{opts: opts, proto: proto, dial: dial}
}

func (c *StagingConnector) remotePath(target string) string {
	if c.opts.RootDir != "" && !path.IsAbs(target) {
		return path.Join(c.opts.RootDir, target)
	}
	return target
}

func (c *StagingConnector) session(ctx context.Context) (remoteFS, error) {
	if c.fs != nil {
		return c.fs, nil
	}
	fs, err := c.dial(ctx, c.opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to "+c.proto+" server").
			WithDetail("host", c.opts.Host)
	}
	c.fs = fs
	return fs, nil
}

func (c *StagingConnector) fetch(ctx context.Context, target string) (*staged, error) {
	if c.content != nil && c.target == target {
		return c.content, nil
	}

	fs, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	name := c.remotePath(target)
	size, err := fs.Size(name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to stat remote file").
			WithDetail("target", name)
	}
	rc, err := fs.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open remote file").
			WithDetail("target", name)
	}
	defer rc.Close()

	content, err := stage(rc, size, c.opts.stageThreshold())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to download remote file").
			WithDetail("target", name)
	}

	if c.content != nil {
		_ = c.content.cleanup()
	}
	c.target, c.content = target, content

	c.opts.logger().Debug("staged remote file",
		zap.String("protocol", c.proto),
		zap.String("target", name),
		zap.Int64("bytes", content.size),
		zap.Bool("on_disk", content.onDisk()))
	return content, nil
}

// Connect downloads target and returns a reader over the staged copy.
func (c *StagingConnector) Connect(ctx context.Context, target string) (*Handle, error) {
	content, err := c.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	r, err := wrapContent(content.reader(), target, c.opts, &c.closers)
	if err != nil {
		return nil, err
	}
	return &Handle{Target: target, Reader: r}, nil
}

// Checksum hashes the staged copy of target, downloading it if needed.
func (c *StagingConnector) Checksum(ctx context.Context, target string) (string, error) {
	content, err := c.fetch(ctx, target)
	if err != nil {
		return "", err
	}
	return Checksum(content.reader())
}

// Close removes the staged copy and ends the remote session.
func (c *StagingConnector) Close() error {
	err := c.closers.close()
	if c.content != nil {
		if cerr := c.content.cleanup(); err == nil {
			err = cerr
		}
		c.content, c.target = nil, ""
	}
	if c.fs != nil {
		if cerr := c.fs.Close(); err == nil {
			err = cerr
		}
		c.fs = nil
	}
	return err
}
