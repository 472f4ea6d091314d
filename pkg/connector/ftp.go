package connector

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/jlaffaye/ftp"
)

const defaultFTPPort = 21

// NewFTPConnector creates a connector that downloads files over FTP.
func NewFTPConnector(opts Options) *StagingConnector {
	return newStagingConnector("ftp", opts, dialFTP)
}

type ftpFS struct {
	conn *ftp.ServerConn
}

func dialFTP(ctx context.Context, opts Options) (remoteFS, error) {
	port := opts.Port
	if port == 0 {
		port = defaultFTPPort
	}

	conn, err := ftp.Dial(net.JoinHostPort(opts.Host, strconv.Itoa(port)),
		ftp.DialWithTimeout(opts.timeout()),
		ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}

	user := opts.Username
	if user == "" {
		user = "anonymous"
	}
	if err := conn.Login(user, opts.Password); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return &ftpFS{conn: conn}, nil
}

func (f *ftpFS) Size(name string) (int64, error) {
	return f.conn.FileSize(name)
}

func (f *ftpFS) Open(name string) (io.ReadCloser, error) {
	return f.conn.Retr(name)
}

func (f *ftpFS) Close() error {
	return f.conn.Quit()
}
