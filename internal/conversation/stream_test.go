package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/theory-council/internal/backend/mock"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

func TestStreamTurn_Chat(t *testing.T) {
	f := newFixture(t, 3, mock.New(mock.WithResponder(mock.Sequence("Who is the target audience?"))))

	stream, err := f.router.StreamTurn(context.Background(), Turn{
		SessionID: "chat-stream",
		Messages:  []domain.ChatMessage{user("I want to improve school lunches")},
	})
	require.NoError(t, err)
	assert.Equal(t, "chat-stream", stream.SessionID)
	assert.Equal(t, domain.ModeChat, stream.Mode)

	events := drain(t, stream)
	require.NotEmpty(t, events)

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, EventToken, ev.Kind)
		text.WriteString(ev.Chunk)
	}
	assert.Equal(t, "Who is the target audience?", text.String())

	final := events[len(events)-1]
	require.Equal(t, EventComplete, final.Kind)
	assert.Equal(t, "Who is the target audience?", final.Outcome.AssistantMessage.Content)
	assert.Len(t, final.Outcome.Messages, 2)
	assert.Zero(t, countKind(events, EventTrace))
}

func TestStreamTurn_ValidationIsSynchronous(t *testing.T) {
	f := newFixture(t, 3, mock.New())

	_, err := f.router.StreamTurn(context.Background(), Turn{AgentEnabled: true, Messages: []domain.ChatMessage{assistant("hi")}})
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err))
	assert.Zero(t, f.backend.CallCount())
}

func TestStreamTurn_Agent(t *testing.T) {
	f := newFixture(t, 3, mock.New())

	stream, err := f.router.StreamTurn(context.Background(), Turn{
		SessionID:    "agent-stream",
		AgentEnabled: true,
		Messages:     []domain.ChatMessage{user("Reduce teen vaping")},
	})
	require.NoError(t, err)

	events := drain(t, stream)
	require.Len(t, events, 4)
	for i, ev := range events[:3] {
		require.Equal(t, EventTrace, ev.Kind)
		assert.Equal(t, "stage_"+string(rune('1'+i)), ev.Trace.StageID)
	}

	final := events[3]
	require.Equal(t, EventComplete, final.Kind)
	assert.Equal(t, domain.ModeAgent, final.Outcome.Mode)
	assert.True(t, final.Outcome.AutoDisableAgent)
	assert.NotEmpty(t, final.Outcome.RunID)
	assert.Equal(t, 1, f.runs.Len())
}

// Streaming a five-stage run whose backend fails on stage three yields two
// traces, then an error, and nothing is stored.
func TestStreamTurn_AgentFailsAtStageThree(t *testing.T) {
	f := newFixture(t, 5, mock.New(mock.WithResponder(failOn(3))))

	stream, err := f.router.StreamTurn(context.Background(), Turn{
		SessionID:    "failing",
		AgentEnabled: true,
		Messages:     []domain.ChatMessage{user("problem")},
	})
	require.NoError(t, err)

	events := drain(t, stream)
	require.Len(t, events, 3)
	assert.Equal(t, EventTrace, events[0].Kind)
	assert.Equal(t, EventTrace, events[1].Kind)
	require.Equal(t, EventError, events[2].Kind)
	assert.ErrorIs(t, events[2].Err, errBackendDown)

	assert.Zero(t, f.runs.Len())
	session, err := f.sessions.Get(context.Background(), "failing")
	require.NoError(t, err)
	assert.False(t, session.HasRun())
	assert.Len(t, session.Messages, 1)
}

func TestStreamTurn_AgentCancelled(t *testing.T) {
	blocked := make(chan struct{})
	backend := mock.New(mock.WithResponder(func(ctx context.Context, call int, req *ports.GenerateRequest) (string, error) {
		if call == 2 {
			close(blocked)
			return mock.Block(ctx, call, req)
		}
		return mock.Echo(ctx, call, req)
	}))
	f := newFixture(t, 4, backend)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.router.StreamTurn(ctx, Turn{
		SessionID:    "cancelled",
		AgentEnabled: true,
		Messages:     []domain.ChatMessage{user("problem")},
	})
	require.NoError(t, err)

	first := <-stream.Events
	require.Equal(t, EventTrace, first.Kind)

	<-blocked
	cancel()

	var rest []TurnEvent
	for ev := range stream.Events {
		rest = append(rest, ev)
	}
	assert.Empty(t, rest, "cancellation ends the stream without a final event")

	// Give the producer a moment in case it tried to persist after closing.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.runs.Len())
	session, err := f.sessions.Get(context.Background(), "cancelled")
	require.NoError(t, err)
	assert.False(t, session.HasRun())
	assert.Len(t, session.Messages, 1)
	assert.Equal(t, 2, backend.CallCount(), "no stage starts after cancellation")
}

func TestStreamTurn_ChatCancelled(t *testing.T) {
	f := newFixture(t, 1, mock.New(mock.WithResponder(mock.Sequence("one two three four"))))

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.router.StreamTurn(ctx, Turn{SessionID: "chat-cancel", Messages: []domain.ChatMessage{user("hi")}})
	require.NoError(t, err)

	first := <-stream.Events
	require.Equal(t, EventToken, first.Kind)
	cancel()

	for ev := range stream.Events {
		assert.NotEqual(t, EventComplete, ev.Kind)
		assert.NotEqual(t, EventError, ev.Kind)
	}

	session, err := f.sessions.Get(context.Background(), "chat-cancel")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 1, "partial replies are not stored")
}

func TestStreamTurn_DeadlineEndsQuietly(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, 3, mock.New(mock.WithResponder(mock.Block)))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		stream, err := f.router.StreamTurn(ctx, Turn{
			SessionID:    "deadline",
			AgentEnabled: true,
			Messages:     []domain.ChatMessage{user("problem")},
		})
		require.NoError(t, err)

		// Read continuously so a pending send is always ready alongside ctx.Done.
		events := drain(t, stream)
		cancel()

		require.Empty(t, events, "iteration %d: a timed-out turn ends without a final event", i)
		assert.Zero(t, f.runs.Len())
	}
}

func TestStreamTurn_ChatDeadlineEndsQuietly(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, 1, mock.New(mock.WithResponder(mock.Block)))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		stream, err := f.router.StreamTurn(ctx, Turn{SessionID: "chat-deadline", Messages: []domain.ChatMessage{user("hi")}})
		require.NoError(t, err)

		events := drain(t, stream)
		cancel()

		assert.Zero(t, countKind(events, EventError), "iteration %d", i)
		assert.Zero(t, countKind(events, EventComplete), "iteration %d", i)
	}
}
