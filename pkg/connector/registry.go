package connector

import "github.com/ajitpratap0/ledgerline/pkg/registry"

var connectors = registry.New[Options, Connector]("connector")

func init() {
	connectors.MustRegister("file", func(o Options) (Connector, error) { return NewFileConnector(o), nil })
	connectors.MustRegister("remote_file", func(o Options) (Connector, error) { return NewRemoteFileConnector(o), nil })
	connectors.MustRegister("http", func(o Options) (Connector, error) { return NewHTTPConnector(o), nil })
	connectors.MustRegister("sftp", func(o Options) (Connector, error) { return NewSFTPConnector(o), nil })
	connectors.MustRegister("ftp", func(o Options) (Connector, error) { return NewFTPConnector(o), nil })
	connectors.MustRegister("s3", func(o Options) (Connector, error) { return NewS3Connector(o), nil })
	connectors.MustRegister("gcs", func(o Options) (Connector, error) { return NewGCSConnector(o), nil })
}

// Register adds a connector type. Names must be unique.
func Register(name string, b registry.Builder[Options, Connector]) error {
	return connectors.Register(name, b)
}

// Lookup returns a factory for the named connector type bound to opts.
func Lookup(name string, opts Options) (Factory, error) {
	return connectors.Lookup(name, opts)
}

// Types lists the registered connector types.
func Types() []string { return connectors.List() }
