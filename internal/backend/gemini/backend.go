// Package gemini implements the generation backend for the Google Gemini
// generateContent API.
package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tjfontaine/theory-council/internal/backend"
	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// BackendType is the configuration identifier for this backend.
const BackendType = "gemini"

// emptyHistoryPrompt stands in for a conversation with no user or assistant
// turns; the API rejects requests without contents.
const emptyHistoryPrompt = "Hello"

// Backend adapts Client to ports.Backend.
type Backend struct {
	client *Client
}

// New creates a Gemini backend.
func New(apiKey string, opts ...ClientOption) *Backend {
	return &Backend{client: NewClient(apiKey, opts...)}
}

// CreateFromConfig creates a backend from configuration.
func CreateFromConfig(cfg config.BackendConfig) (ports.Backend, error) {
	return New(cfg.APIKey, WithBaseURL(cfg.BaseURL), WithHTTPClient(&http.Client{})), nil
}

// RegisterFactory registers the Gemini backend factory.
func RegisterFactory() {
	backend.RegisterFactory(backend.Factory{
		Type:        BackendType,
		Description: "Google Gemini API",
		Create:      CreateFromConfig,
		ValidateConfig: func(cfg config.BackendConfig) error {
			if cfg.APIKey == "" {
				return errors.New("api_key is required (set GOOGLE_API_KEY or GEMINI_API_KEY)")
			}
			return nil
		},
	})
}

func (b *Backend) Name() string {
	return BackendType
}

// Generate returns the text of the first candidate.
func (b *Backend) Generate(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	resp, err := b.client.GenerateContent(ctx, req.Model, toRequest(req))
	if err != nil {
		return "", err
	}
	text, ok := resp.Text()
	if !ok {
		return "", domain.ErrBackend("gemini backend returned no candidates").
			WithCode(domain.ErrorCodeBackendMalformed)
	}
	return text, nil
}

// GenerateStream emits the text of each streamed candidate.
func (b *Backend) GenerateStream(ctx context.Context, req *ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	in, err := b.client.StreamGenerateContent(ctx, req.Model, toRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan ports.StreamChunk)
	go func() {
		defer close(out)
		for res := range in {
			var chunk ports.StreamChunk
			if res.Err != nil {
				chunk.Err = res.Err
			} else if text, ok := res.Chunk.Text(); ok && text != "" {
				chunk.Text = text
			} else {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// toRequest moves system messages into the system instruction and maps the
// assistant role to "model".
func toRequest(req *ports.GenerateRequest) *GenerateContentRequest {
	temperature := req.Temperature
	out := &GenerateContentRequest{
		GenerationConfig: &GenerationConfig{Temperature: &temperature},
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			out.Contents = append(out.Contents, Content{Role: "model", Parts: []Part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, Content{Role: "user", Parts: []Part{{Text: m.Content}}})
		}
	}

	if len(system) > 0 {
		out.SystemInstruction = &Content{Parts: []Part{{Text: strings.Join(system, "\n\n")}}}
	}
	if len(out.Contents) == 0 {
		out.Contents = []Content{{Role: "user", Parts: []Part{{Text: emptyHistoryPrompt}}}}
	}
	return out
}

var _ ports.Backend = (*Backend)(nil)
