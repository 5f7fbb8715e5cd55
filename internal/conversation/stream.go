package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// EventKind names a streamed turn event.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventTrace    EventKind = "trace"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// TurnEvent is one element of a streamed turn.
type TurnEvent struct {
	Kind    EventKind
	Chunk   string
	Trace   *domain.TraceRecord
	Outcome *domain.ConversationOutcome
	Err     error
}

// TurnStream is a turn in progress. Events is closed after a complete or
// error event, or without a final event when the context is cancelled.
type TurnStream struct {
	SessionID string
	Mode      domain.ConversationMode
	Events    <-chan TurnEvent
}

// StreamTurn starts a turn and streams its progress: token events in chat
// mode, trace events in agent mode. Validation errors are returned before
// any event is produced. A cancelled or timed-out turn stores no assistant
// message and no run, and ends without an error event.
func (r *Router) StreamTurn(ctx context.Context, turn Turn) (*TurnStream, error) {
	rt, err := r.prepare(ctx, turn)
	if err != nil {
		return nil, err
	}

	out := make(chan TurnEvent)
	go func() {
		defer close(out)

		send := func(ev TurnEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var err error
		if rt.mode == domain.ModeAgent {
			err = r.streamAgent(ctx, rt, send)
		} else {
			err = r.streamChat(ctx, rt, send)
		}
		// Once the turn's context has ended, by disconnect or by the
		// request deadline, the stream closes without a final event.
		stopped := err != nil && (isCancelled(err) || ctx.Err() != nil)
		r.recordTurn(rt, err, stopped)
		if err != nil && !stopped {
			send(TurnEvent{Kind: EventError, Err: err})
		}
	}()

	return &TurnStream{SessionID: rt.turn.SessionID, Mode: rt.mode, Events: out}, nil
}

func (r *Router) streamChat(ctx context.Context, rt *route, send func(TurnEvent) bool) error {
	chunks, err := r.chat.Stream(ctx, rt.turn.Messages)
	if err != nil {
		return err
	}

	var reply strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return chunk.Err
		}
		reply.WriteString(chunk.Text)
		if !send(TurnEvent{Kind: EventToken, Chunk: chunk.Text}) {
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	outcome, err := r.completeChat(ctx, rt, reply.String())
	if err != nil {
		return err
	}
	send(TurnEvent{Kind: EventComplete, Outcome: outcome})
	return nil
}

func (r *Router) streamAgent(ctx context.Context, rt *route, send func(TurnEvent) bool) error {
	for ev := range r.runner.Stream(ctx, rt.problem, rt.turn.SessionID, rt.turn.Metadata) {
		switch {
		case ev.Err != nil:
			return ev.Err
		case ev.Trace != nil:
			if !send(TurnEvent{Kind: EventTrace, Trace: ev.Trace}) {
				return ctx.Err()
			}
		case ev.Record != nil:
			outcome, err := r.completeAgent(ctx, rt, ev.Record)
			if err != nil {
				return err
			}
			send(TurnEvent{Kind: EventComplete, Outcome: outcome})
			return nil
		}
	}
	return ctx.Err()
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
