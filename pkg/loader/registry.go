package loader

import (
	"github.com/ajitpratap0/ledgerline/pkg/registry"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

var loaders = registry.New[Options, Factory]("loader")

func init() {
	loaders.MustRegister("ckan", func(opts Options) (Factory, error) {
		return func(s *schema.Schema) (Loader, error) {
			l, err := NewCKANLoader(s, opts)
			if err != nil {
				return nil, err
			}
			return l, nil
		}, nil
	})
	loaders.MustRegister("postgres", func(opts Options) (Factory, error) {
		return func(s *schema.Schema) (Loader, error) {
			l, err := NewPostgresLoader(s, opts)
			if err != nil {
				return nil, err
			}
			return l, nil
		}, nil
	})
}

// Register adds a loader type. Names must be unique.
func Register(name string, b registry.Builder[Options, Factory]) error {
	return loaders.Register(name, b)
}

// Lookup returns a factory for the named loader type bound to opts.
func Lookup(name string, opts Options) (Factory, error) {
	build, err := loaders.Lookup(name, opts)
	if err != nil {
		return nil, err
	}
	return build()
}

// Types lists the registered loader types.
func Types() []string { return loaders.List() }
