package pipeline

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// ContextBuilder derives the user message for a stage from prior fields.
type ContextBuilder func(state domain.PipelineState) string

// OutputBinder turns the generated text into the stage's state update.
type OutputBinder func(text string) domain.StateUpdate

// LLMStage sends a fixed system prompt plus a derived context to the backend
// once and binds the trimmed reply into the state.
type LLMStage struct {
	ID           string
	Label        string
	SystemPrompt string
	Context      ContextBuilder
	Bind         OutputBinder
	Model        string
	Temperature  float64
	Metadata     map[string]any

	Backend ports.Backend

	// Tokens, when set, adds an output_tokens entry to the trace metadata.
	Tokens ports.TokenCounter

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Name returns the stage id.
func (s *LLMStage) Name() string {
	return s.ID
}

// Run executes the stage. Backend errors are returned unchanged.
func (s *LLMStage) Run(ctx context.Context, state domain.PipelineState) (domain.StateUpdate, domain.TraceRecord, error) {
	now := s.Now
	if now == nil {
		now = time.Now
	}

	startedAt := now()
	text, err := s.Backend.Generate(ctx, &ports.GenerateRequest{
		Model:       s.Model,
		Temperature: s.Temperature,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: s.SystemPrompt},
			{Role: domain.RoleUser, Content: s.Context(state)},
		},
	})
	if err != nil {
		return domain.StateUpdate{}, domain.TraceRecord{}, err
	}
	text = strings.TrimSpace(text)
	completedAt := now()

	meta := make(map[string]any, len(s.Metadata)+2)
	maps.Copy(meta, s.Metadata)
	if s.Model != "" {
		meta["model"] = s.Model
	}
	if s.Tokens != nil {
		meta["output_tokens"] = s.Tokens.CountText(s.Model, text)
	}

	return s.Bind(text), NewTraceRecord(s.ID, s.Label, text, startedAt, completedAt, meta), nil
}

var _ ports.Stage = (*LLMStage)(nil)
