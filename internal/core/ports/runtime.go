package ports

import (
	"context"

	"github.com/tjfontaine/theory-council/internal/config"
)

// ConfigProvider loads and manages configuration.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}
