package pipeline

import (
	"fmt"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/registry"
)

// Builder assembles a named pipeline. Options passed at lookup time are
// applied after the job's own, so callers can override chunking or logging.
type Builder = registry.Builder[[]Option, *Pipeline]

// Registry maps job names to pipeline builders.
type Registry struct {
	jobs *registry.Registry[[]Option, *Pipeline]
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: registry.New[[]Option, *Pipeline]("pipeline")}
}

// Register adds a job. Names must be unique.
func (r *Registry) Register(name string, b Builder) error {
	return r.jobs.Register(name, b)
}

// Get builds the named pipeline with overrides applied.
func (r *Registry) Get(name string, overrides ...Option) (*Pipeline, error) {
	if !r.jobs.Has(name) {
		return nil, &NotFoundError{Name: name}
	}
	build, err := r.jobs.Lookup(name, overrides)
	if err != nil {
		return nil, err
	}
	return build()
}

// Has reports whether a job is registered under name.
func (r *Registry) Has(name string) bool { return r.jobs.Has(name) }

// Names lists the registered jobs, sorted.
func (r *Registry) Names() []string { return r.jobs.List() }

// NotFoundError is returned by Get for an unknown job.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("A Pipeline could not be found at %q", e.Name)
}

// IsNotFound reports whether err came from Get for an unknown job.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// Static wraps an already built pipeline as a Builder.
func Static(p *Pipeline) Builder {
	return func(overrides []Option) (*Pipeline, error) {
		cp := *p
		for _, opt := range overrides {
			opt(&cp)
		}
		return &cp, nil
	}
}
