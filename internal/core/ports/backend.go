package ports

import (
	"context"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// GenerateRequest is a single text-generation call.
type GenerateRequest struct {
	// Model is the backend-specific model identifier
	Model string

	// Temperature is the sampling temperature
	Temperature float64

	// Messages is the full prompt, system instruction first when present
	Messages []domain.ChatMessage
}

// StreamChunk is one increment of a streamed generation. A chunk with a
// non-nil Err is always the last one sent.
type StreamChunk struct {
	Text string
	Err  error
}

// Backend is the external text-generation capability. Implementations must
// be safe for concurrent use.
type Backend interface {
	// Name returns the backend identifier (e.g. "openai", "gemini").
	Name() string

	// Generate returns the complete generated text.
	Generate(ctx context.Context, req *GenerateRequest) (string, error)

	// GenerateStream returns generated text incrementally. The channel is
	// closed when generation finishes, fails, or ctx is done.
	GenerateStream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error)
}
