// Package backend provides generation backend factory registration and the
// decorators applied to every backend.
//
// # Adding a New Backend
//
// Each backend package exposes a RegisterFactory function that is called from
// registration.RegisterBuiltins:
//
//	func RegisterFactory() {
//	    backend.RegisterFactory(backend.Factory{
//	        Type:        BackendType,
//	        Description: "Google Gemini API",
//	        Create:      CreateFromConfig,
//	    })
//	}
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// Factory defines how to create a backend of a specific type.
type Factory struct {
	// Type is the identifier used in configuration (backend.type)
	Type string

	// Description provides a human-readable description of the backend
	Description string

	// Create instantiates a backend from configuration.
	Create func(cfg config.BackendConfig) (ports.Backend, error)

	// ValidateConfig performs backend-specific configuration validation.
	// Optional: if nil, no additional validation is performed.
	ValidateConfig func(cfg config.BackendConfig) error
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

// RegisterFactory registers a backend factory. Registering the same type
// twice replaces the earlier factory so registration is idempotent.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("backend factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("backend factory %q must have a Create function", f.Type))
	}
	factoryMap[f.Type] = f
}

// GetFactory returns the factory for a backend type, if registered.
func GetFactory(backendType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[backendType]
	return f, ok
}

// ListTypes returns all registered backend type names, sorted.
func ListTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factoryMap))
	for t := range factoryMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CreateFromFactory creates a backend using the registered factory.
func CreateFromFactory(cfg config.BackendConfig) (ports.Backend, error) {
	f, ok := GetFactory(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s (registered types: %v)", cfg.Type, ListTypes())
	}

	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration for backend type %s: %w", cfg.Type, err)
		}
	}

	return f.Create(cfg)
}

// New creates the configured backend wrapped with instrumentation and the
// configured call timeout.
func New(cfg config.BackendConfig) (ports.Backend, error) {
	b, err := CreateFromFactory(cfg)
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return WithTimeout(Instrument(b), timeout), nil
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]Factory)
}
