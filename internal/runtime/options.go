package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/theory-council/internal/adapters/config/file"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/storage"
)

// Option is a functional option for configuring a Council.
type Option func(*Council) error

// WithFileConfig reads configuration from a YAML file plus environment
// overrides, and reloads it when the file changes.
func WithFileConfig(path string) Option {
	return func(c *Council) error {
		provider, err := file.NewProvider(path, c.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		c.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(c *Council) error {
		c.config = provider
		return nil
	}
}

// WithLogger sets a custom logger. Place it before WithFileConfig so the
// provider logs through it too.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Council) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithBackend uses backend instead of the one named by backend.type.
func WithBackend(backend ports.Backend) Option {
	return func(c *Council) error {
		c.backend = backend
		return nil
	}
}

// WithStores uses stores instead of the ones named by storage.type. The
// council closes them on shutdown.
func WithStores(stores *storage.Stores) Option {
	return func(c *Council) error {
		c.stores = stores
		return nil
	}
}

// WithTokenCounter sets the counter used for per-stage token metadata.
func WithTokenCounter(counter ports.TokenCounter) Option {
	return func(c *Council) error {
		c.tokens = counter
		return nil
	}
}
