package connector

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

const defaultSFTPPort = 22

// NewSFTPConnector creates a connector that downloads files over SFTP using
// password authentication. Host keys are checked against Options.KnownHosts
// when it is set.
func NewSFTPConnector(opts Options) *StagingConnector {
	return newStagingConnector("sftp", opts, dialSFTP)
}

type sftpFS struct {
	conn   *ssh.Client
	client *sftp.Client
}

func dialSFTP(_ context.Context, opts Options) (remoteFS, error) {
	port := opts.Port
	if port == 0 {
		port = defaultSFTPPort
	}

	hostKey, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(opts.Password)},
		HostKeyCallback: hostKey,
		Timeout:         opts.timeout(),
	}
	conn, err := ssh.Dial("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(port)), cfg)
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sftpFS{conn: conn, client: client}, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // unpinned unless known_hosts is configured
	}
	cb, err := knownhosts.New(opts.KnownHosts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read known_hosts").
			WithDetail("path", opts.KnownHosts)
	}
	return cb, nil
}

func (s *sftpFS) Size(name string) (int64, error) {
	fi, err := s.client.Stat(name)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *sftpFS) Open(name string) (io.ReadCloser, error) {
	return s.client.Open(name)
}

func (s *sftpFS) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
