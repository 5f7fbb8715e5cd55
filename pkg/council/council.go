// Package council is the public API for embedding the Theory Council
// service.
package council

import (
	"github.com/tjfontaine/theory-council/internal/registration"
	"github.com/tjfontaine/theory-council/internal/runtime"
)

// Council is the configured service. See internal/runtime.Council.
type Council = runtime.Council

// Option is a functional option for configuring a Council.
type Option = runtime.Option

// New creates a Council with the given options, registering the built-in
// backends first.
//
//	c, err := council.New(council.WithFileConfig("config.yaml"))
func New(opts ...Option) (*Council, error) {
	registration.RegisterBuiltins()
	return runtime.New(opts...)
}

// Configuration options
var (
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider
	WithLogger         = runtime.WithLogger
	WithBackend        = runtime.WithBackend
	WithStores         = runtime.WithStores
	WithTokenCounter   = runtime.WithTokenCounter
)
