package model

import (
	"github.com/artpar/cmsodm/core/registry"
	"github.com/artpar/cmsodm/core/schema"
)

// Registry holds the models of one database and resolves references between them.
type Registry struct {
	models *registry.Registry[*Model]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: registry.New[*Model]()}
}

// Register adds m. Its documents resolve references through r from now on.
func (r *Registry) Register(m *Model) error {
	if err := r.models.Register(m.Name(), m); err != nil {
		return err
	}
	m.attach(r)
	return nil
}

// Get returns the model for a collection.
func (r *Registry) Get(name string) (*Model, bool) {
	return r.models.Get(name)
}

// Models returns every model in registration order.
func (r *Registry) Models() []*Model {
	return r.models.Ordered()
}

// Names returns the sorted collection names.
func (r *Registry) Names() []string {
	return r.models.Names()
}

// Target implements schema.Resolver.
func (r *Registry) Target(collection string) (schema.Target, bool) {
	m, ok := r.Get(collection)
	if !ok {
		return nil, false
	}
	return m, true
}

var _ schema.Resolver = (*Registry)(nil)
