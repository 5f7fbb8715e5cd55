// Package api exposes council runs and conversation turns over HTTP, as JSON
// for blocking calls and as server-sent events for streaming calls.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/theory-council/internal/conversation"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/server"
)

// RunRequest is the body of the council run endpoints.
type RunRequest struct {
	Problem   string         `json:"problem"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// ConversationRequest is the body of the conversation endpoints.
type ConversationRequest struct {
	Messages     []domain.ChatMessage `json:"messages"`
	AgentEnabled bool                 `json:"agent_enabled,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
	SessionID    string               `json:"session_id,omitempty"`
}

// Handler serves the council and conversation endpoints.
type Handler struct {
	runner *conversation.Runner
	router *conversation.Router
	logger *slog.Logger
	newID  func() string
}

// NewHandler creates a handler.
func NewHandler(runner *conversation.Runner, router *conversation.Router, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, router: router, logger: logger, newID: uuid.NewString}
}

// Mount registers the endpoints on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/council/run", h.HandleRun)
	r.Get("/council/run/{run_id}", h.HandleGetRun)
	r.Post("/council/run/stream", h.HandleRunStream)
	r.Post("/conversation/send", h.HandleSend)
	r.Post("/conversation/send/stream", h.HandleSendStream)
}

// HandleRun runs the council to completion.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRun(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", req.SessionID)

	record, err := h.runner.Run(r.Context(), req.Problem, req.SessionID, req.Metadata)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			server.AddError(r.Context(), err)
			return
		}
		writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "run_id", record.RunID)
	writeJSON(w, http.StatusOK, record)
}

// HandleGetRun returns a stored run.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	record, err := h.runner.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			err = domain.ErrNotFound("run " + runID + " not found").
				WithCode(domain.ErrorCodeRunNotFound).
				WithCause(err)
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// HandleRunStream runs the council and streams one trace event per stage.
// A client disconnect cancels the run and ends the stream without a final
// event.
func (h *Handler) HandleRunStream(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRun(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", req.SessionID)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := sse.send(eventStarted, startedEvent{SessionID: req.SessionID}); err != nil {
		server.AddError(r.Context(), err)
		return
	}

	for ev := range h.runner.Stream(r.Context(), req.Problem, req.SessionID, req.Metadata) {
		var err error
		switch {
		case ev.Err != nil:
			server.AddError(r.Context(), ev.Err)
			err = sse.send(eventError, errorEvent{Detail: ev.Err.Error()})
		case ev.Trace != nil:
			err = sse.send(eventTrace, traceEvent{Trace: ev.Trace, RunID: pendingRunID})
		case ev.Record != nil:
			server.AddLogField(r.Context(), "run_id", ev.Record.RunID)
			err = sse.send(eventComplete, runCompleteEvent{Run: ev.Record})
		}
		if err != nil {
			h.logger.Warn("failed to write stream event", slog.String("error", err.Error()))
			return
		}
	}
}

// HandleSend processes one conversation turn.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeRequest(r, conversationRequestSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := h.router.ProcessTurn(r.Context(), turnFromRequest(req))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			server.AddError(r.Context(), err)
			return
		}
		writeError(w, r, err)
		return
	}

	server.AddLogField(r.Context(), "session_id", outcome.SessionID)
	server.AddLogField(r.Context(), "mode", string(outcome.Mode))
	writeJSON(w, http.StatusOK, outcome)
}

// HandleSendStream processes one conversation turn, streaming tokens in chat
// mode and traces in agent mode.
func (h *Handler) HandleSendStream(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := decodeRequest(r, conversationRequestSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	stream, err := h.router.StreamTurn(r.Context(), turnFromRequest(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", stream.SessionID)
	server.AddLogField(r.Context(), "mode", string(stream.Mode))

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := sse.send(eventStarted, startedEvent{SessionID: stream.SessionID}); err != nil {
		server.AddError(r.Context(), err)
		return
	}

	for ev := range stream.Events {
		var err error
		switch ev.Kind {
		case conversation.EventToken:
			err = sse.send(eventToken, tokenEvent{Chunk: ev.Chunk})
		case conversation.EventTrace:
			err = sse.send(eventTrace, traceEvent{Trace: ev.Trace, RunID: pendingRunID})
		case conversation.EventComplete:
			o := ev.Outcome
			err = sse.send(eventComplete, turnCompleteEvent{
				SessionID:        o.SessionID,
				Message:          o.AssistantMessage,
				Mode:             o.Mode,
				AgentResult:      o.AgentResult,
				RunID:            o.RunID,
				AutoDisableAgent: o.AutoDisableAgent,
			})
		case conversation.EventError:
			server.AddError(r.Context(), ev.Err)
			err = sse.send(eventError, errorEvent{Detail: ev.Err.Error()})
		}
		if err != nil {
			h.logger.Warn("failed to write stream event", slog.String("error", err.Error()))
			return
		}
	}
}

func (h *Handler) decodeRun(r *http.Request) (*RunRequest, error) {
	var req RunRequest
	if err := decodeRequest(r, runRequestSchema, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Problem) == "" {
		return nil, domain.ErrInvalidRequest("problem must not be empty").
			WithCode(domain.ErrorCodeMissingProblem).
			WithParam("problem")
	}
	if req.SessionID == "" {
		req.SessionID = h.newID()
	}
	return &req, nil
}

func turnFromRequest(req ConversationRequest) conversation.Turn {
	return conversation.Turn{
		SessionID:    req.SessionID,
		Messages:     req.Messages,
		AgentEnabled: req.AgentEnabled,
		Metadata:     req.Metadata,
	}
}
