package extractor

import (
	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/registry"
)

var extractors = registry.New[Options, Factory]("extractor")

func bind(newFn func(*connector.Handle, Options) (*Stream, error)) registry.Builder[Options, Factory] {
	return func(opts Options) (Factory, error) {
		return func(h *connector.Handle) (Extractor, error) {
			s, err := newFn(h, opts)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	}
}

func init() {
	extractors.MustRegister("csv", bind(NewCSV))
	extractors.MustRegister("excel", bind(NewExcel))
	extractors.MustRegister("json", bind(NewJSON))
}

// Register adds an extractor type. Names must be unique.
func Register(name string, b registry.Builder[Options, Factory]) error {
	return extractors.Register(name, b)
}

// Lookup returns a factory for the named extractor type bound to opts.
func Lookup(name string, opts Options) (Factory, error) {
	build, err := extractors.Lookup(name, opts)
	if err != nil {
		return nil, err
	}
	return build()
}

// Types lists the registered extractor types.
func Types() []string { return extractors.List() }
