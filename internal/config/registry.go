package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gpericol/BurberOste/internal/capture"
)

// ErrRecorderNotRegistered is returned by [Registry.CreateRecorder] when no
// factory has been registered under the requested recorder name.
var ErrRecorderNotRegistered = errors.New("config: recorder not registered")

// RecorderFactory builds a microphone from its configuration entry.
type RecorderFactory func(RecorderEntry) (capture.Microphone, error)

// Registry maps recorder names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	recorders map[string]RecorderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{recorders: make(map[string]RecorderFactory)}
}

// RegisterRecorder registers a recorder factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecorder(name string, factory RecorderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorders[name] = factory
}

// CreateRecorder instantiates the microphone registered under entry.Name.
// Returns [ErrRecorderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateRecorder(entry RecorderEntry) (capture.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.recorders[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecorderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// RecorderNames returns the registered names in sorted order.
func (r *Registry) RecorderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recorders))
	for name := range r.recorders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
