// Package openai implements the generation backend for the OpenAI chat
// completions API and compatible servers.
package openai

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
const BackendType = "openai"

// Backend adapts Client to ports.Backend.
type Backend struct {
	client *Client
}

// New creates an OpenAI backend.
func New(apiKey string, opts ...ClientOption) *Backend {
	return &Backend{client: NewClient(apiKey, opts...)}
}

// CreateFromConfig creates a backend from configuration. The timeout is
// enforced by the backend decorators, not the HTTP client.
func CreateFromConfig(cfg config.BackendConfig) (ports.Backend, error) {
	return New(cfg.APIKey, WithBaseURL(cfg.BaseURL), WithHTTPClient(&http.Client{})), nil
}

// RegisterFactory registers the OpenAI backend factory.
func RegisterFactory() {
	backend.RegisterFactory(backend.Factory{
		Type:        BackendType,
		Description: "OpenAI chat completions API",
		Create:      CreateFromConfig,
		ValidateConfig: func(cfg config.BackendConfig) error {
			if cfg.APIKey == "" && cfg.BaseURL == "" {
				return errors.New("api_key is required (set OPENAI_API_KEY)")
			}
			return nil
		},
	})
}

func (b *Backend) Name() string {
	return BackendType
}

// Generate returns the first choice's message content.
func (b *Backend) Generate(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, toRequest(req))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrBackend("openai backend returned no choices").
			WithCode(domain.ErrorCodeBackendMalformed)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream emits the content deltas of the first choice.
func (b *Backend) GenerateStream(ctx context.Context, req *ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	in, err := b.client.StreamChatCompletion(ctx, toRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan ports.StreamChunk)
	go func() {
		defer close(out)
		for res := range in {
			var chunk ports.StreamChunk
			switch {
			case res.Err != nil:
				chunk.Err = res.Err
			case len(res.Chunk.Choices) > 0:
				chunk.Text = res.Chunk.Choices[0].Delta.Content
			}
			if chunk.Err == nil && chunk.Text == "" {
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

func toRequest(req *ports.GenerateRequest) *ChatCompletionRequest {
	temperature := req.Temperature
	out := &ChatCompletionRequest{
		Model:       req.Model,
		Temperature: &temperature,
		Messages:    make([]ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, ChatCompletionMessage{
			Role:    strings.ToLower(string(m.Role)),
			Content: m.Content,
		})
	}
	return out
}

var _ ports.Backend = (*Backend)(nil)
