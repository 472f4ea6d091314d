package connector

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

type fakeFS struct {
	files  map[string]string
	opens  int
	closed bool
}

func (f *fakeFS) Size(name string) (int64, error) {
	c, ok := f.files[name]
	if !ok {
		return 0, fmt.Errorf("%s: no such file", name)
	}
	return int64(len(c)), nil
}

func (f *fakeFS) Open(name string) (io.ReadCloser, error) {
	c, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", name)
	}
	f.opens++
	return io.NopCloser(strings.NewReader(c)), nil
}

func (f *fakeFS) Close() error {
	f.closed = true
	return nil
}

func newFakeStaging(fs *fakeFS, opts Options) *StagingConnector {
	return newStagingConnector("fake", opts, func(context.Context, Options) (remoteFS, error) {
		return fs, nil
	})
}

func TestStagingConnector_Thresholds(t *testing.T) {
	content := "id,name\n1,alpha\n2,beta\n"

	tests := []struct {
		name      string
		threshold int64
		onDisk    bool
	}{
		{name: "memory", threshold: 1024, onDisk: false},
		{name: "temp file", threshold: 4, onDisk: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeFS{files: map[string]string{"/in/data.csv": content}}
			c := newFakeStaging(fs, Options{RootDir: "/in", StageThreshold: tt.threshold})
			ctx := context.Background()

			h, err := c.Connect(ctx, "data.csv")
			require.NoError(t, err)
			assert.Equal(t, tt.onDisk, c.content.onDisk())

			sum, err := c.Checksum(ctx, "data.csv")
			require.NoError(t, err)
			want, _ := Checksum(strings.NewReader(content))
			assert.Equal(t, want, sum)

			assert.Equal(t, content, readAll(t, h))
			assert.Equal(t, 1, fs.opens, "checksum reuses the staged copy")

			var tmp string
			if c.content.file != nil {
				tmp = c.content.file.Name()
			}
			require.NoError(t, c.Close())
			require.NoError(t, c.Close())
			assert.True(t, fs.closed)
			if tmp != "" {
				_, err := os.Stat(tmp)
				assert.True(t, os.IsNotExist(err))
			}
		})
	}
}

func TestStagingConnector_Errors(t *testing.T) {
	fs := &fakeFS{files: map[string]string{}}
	c := newFakeStaging(fs, Options{})

	_, err := c.Connect(context.Background(), "missing.csv")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	failing := newStagingConnector("fake", Options{Host: "h"}, func(context.Context, Options) (remoteFS, error) {
		return nil, fmt.Errorf("auth failed")
	})
	_, err = failing.Checksum(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "auth failed")
}

func TestStage_UnknownSizeGoesToDisk(t *testing.T) {
	s, err := stage(strings.NewReader("abc"), -1, 1024)
	require.NoError(t, err)
	defer s.cleanup()

	assert.True(t, s.onDisk())
	b, err := io.ReadAll(s.reader())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}
