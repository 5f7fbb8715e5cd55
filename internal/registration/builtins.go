// Package registration wires the built-in generation backends into the
// backend factory registry.
package registration

import (
	"github.com/tjfontaine/theory-council/internal/backend/gemini"
	"github.com/tjfontaine/theory-council/internal/backend/mock"
	"github.com/tjfontaine/theory-council/internal/backend/openai"
)

// RegisterBuiltins registers built-in backends explicitly. This replaces
// init-based side effects and is intended to be called from cmd/council and
// tests before backends are created.
func RegisterBuiltins() {
	openai.RegisterFactory()
	gemini.RegisterFactory()
	mock.RegisterFactory()
}
