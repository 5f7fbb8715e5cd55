package conversation

import (
	"fmt"
	"testing"

	"github.com/tjfontaine/theory-council/internal/backend/mock"
	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/pipeline"
	"github.com/tjfontaine/theory-council/internal/storage/memory"
	"github.com/tjfontaine/theory-council/internal/testutil"
)

type fixture struct {
	backend  *mock.Backend
	sessions *memory.SessionStore
	runs     *memory.RunLog
	engine   *pipeline.Engine
	runner   *Runner
	router   *Router
}

// newFixture wires a router over n stages. Stage i stores its output as
// lens "stage_i"; the last stage also sets the final text.
func newFixture(t *testing.T, n int, backend *mock.Backend, opts ...Option) *fixture {
	t.Helper()

	logger := testutil.DiscardLogger()
	stages := make([]ports.Stage, 0, n)
	for i := 1; i <= n; i++ {
		key := fmt.Sprintf("stage_%d", i)
		last := i == n
		stages = append(stages, &pipeline.LLMStage{
			ID:           key,
			Label:        fmt.Sprintf("Stage %d", i),
			SystemPrompt: "system " + key,
			Model:        "test-model",
			Backend:      backend,
			Context: func(s domain.PipelineState) string {
				return s.RawInput
			},
			Bind: func(text string) domain.StateUpdate {
				u := domain.StateUpdate{Lenses: map[string]string{key: text}}
				if last {
					u.FinalText = &text
				}
				return u
			},
		})
	}

	f := &fixture{
		backend:  backend,
		sessions: memory.NewSessionStore(),
		runs:     memory.NewRunLog(),
		engine:   pipeline.NewEngine(stages, pipeline.WithLogger(logger)),
	}
	f.runner = NewRunner(f.engine, f.runs, f.sessions, logger)
	chat := NewChatService(backend, config.ModelConfig{Model: "chat-model", Temperature: 0.3})
	f.router = NewRouter(f.sessions, chat, f.runner, append([]Option{WithLogger(logger)}, opts...)...)
	return f
}

func user(content string) domain.ChatMessage {
	return domain.ChatMessage{Role: domain.RoleUser, Content: content}
}

func assistant(content string) domain.ChatMessage {
	return domain.ChatMessage{Role: domain.RoleAssistant, Content: content}
}

func drain(t *testing.T, stream *TurnStream) []TurnEvent {
	t.Helper()
	var events []TurnEvent
	for ev := range stream.Events {
		events = append(events, ev)
	}
	return events
}

func countKind(events []TurnEvent, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

var errBackendDown = domain.ErrBackend("backend unavailable")

// failOn returns a responder that fails on the given call.
func failOn(call int) mock.Responder {
	return mock.FailOn(call, errBackendDown, mock.Echo)
}

