package model

import (
	"fmt"
	"sort"
)

// Registry maps client-facing model names ("openai", "anthropic") to Model
// implementations. It is built once at startup and read-only afterwards, so
// concurrent queries resolve models without locking.
type Registry struct {
	models      map[string]Model
	defaultName string
}

// NewRegistry builds a registry from the given named models. defaultName
// must be one of the registered names; it serves requests that do not pick
// a model and requests that name an unknown one.
func NewRegistry(defaultName string, models map[string]Model) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("model registry requires at least one model")
	}
	if _, ok := models[defaultName]; !ok {
		return nil, fmt.Errorf("default model %q is not registered", defaultName)
	}
	copied := make(map[string]Model, len(models))
	for name, m := range models {
		if m == nil {
			return nil, fmt.Errorf("model %q is nil", name)
		}
		copied[name] = m
	}
	return &Registry{models: copied, defaultName: defaultName}, nil
}

// Resolve returns the model for name, falling back to the default for an
// empty or unknown name. The returned name is the one actually used, so the
// response can report which model answered.
func (r *Registry) Resolve(name string) (Model, string) {
	if m, ok := r.models[name]; ok {
		return m, name
	}
	return r.models[r.defaultName], r.defaultName
}

// Default returns the fallback model.
func (r *Registry) Default() Model { return r.models[r.defaultName] }

// Names lists registered model names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
