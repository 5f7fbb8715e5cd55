package mock

import (
	"github.com/tjfontaine/theory-council/internal/backend"
	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// RegisterFactory registers the mock backend. It needs no credentials and
// answers with Echo, which makes it suitable for local runs.
func RegisterFactory() {
	backend.RegisterFactory(backend.Factory{
		Type:        BackendType,
		Description: "Deterministic in-process backend",
		Create: func(config.BackendConfig) (ports.Backend, error) {
			return New(), nil
		},
	})
}
