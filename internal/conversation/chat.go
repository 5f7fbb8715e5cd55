package conversation

import (
	"context"
	"sync"

	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// ChatSystemPrompt frames the simple chat path.
const ChatSystemPrompt = `You are an expert assistant on psychological and behavioral theory, helping
practitioners design social and health-promotion interventions. Help them
apply theories such as SCT, SDT and the Reasoned Action approach in
practical terms.

When the user brings a vague or new problem, do not solve it right away. Ask
three or four clarifying questions about the target audience, the behaviors
they need to perform, and the barriers or context that stand in the way.

When the user has described the problem in detail, acknowledge it and
recommend switching on Agent mode to run the full Theory Council analysis.

Be practical, warm and professional.`

// ChatService answers a conversation with a single backend call.
type ChatService struct {
	backend ports.Backend

	mu    sync.RWMutex
	model config.ModelConfig
}

// NewChatService creates a chat service using model for every reply.
func NewChatService(backend ports.Backend, model config.ModelConfig) *ChatService {
	return &ChatService{backend: backend, model: model}
}

// SetModel replaces the model used by later calls.
func (c *ChatService) SetModel(model config.ModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Reply returns the assistant's reply to history.
func (c *ChatService) Reply(ctx context.Context, history []domain.ChatMessage) (string, error) {
	return c.backend.Generate(ctx, c.request(history))
}

// Stream returns the assistant's reply to history incrementally.
func (c *ChatService) Stream(ctx context.Context, history []domain.ChatMessage) (<-chan ports.StreamChunk, error) {
	return c.backend.GenerateStream(ctx, c.request(history))
}

// request prepends the chat system prompt. Client-supplied system messages
// are kept after it.
func (c *ChatService) request(history []domain.ChatMessage) *ports.GenerateRequest {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()

	messages := make([]domain.ChatMessage, 0, len(history)+1)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: ChatSystemPrompt})
	messages = append(messages, history...)

	return &ports.GenerateRequest{
		Model:       model.Model,
		Temperature: model.Temperature,
		Messages:    messages,
	}
}
