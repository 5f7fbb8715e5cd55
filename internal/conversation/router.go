// Package conversation routes conversational turns to either a single chat
// reply or a full council run, and keeps per-session history.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/pipeline"
	"github.com/tjfontaine/theory-council/internal/telemetry"
)

// Turn is one incoming conversational turn. Messages is the client's full
// view of the history and replaces whatever the session held.
type Turn struct {
	SessionID    string
	Messages     []domain.ChatMessage
	AgentEnabled bool
	Metadata     map[string]any
}

// Router decides between chat and agent mode for each turn.
type Router struct {
	sessions ports.SessionStore
	chat     *ChatService
	runner   *Runner
	logger   *slog.Logger
	newID    func() string

	mu           sync.RWMutex
	policy       EscalationPolicy
	autoEscalate bool
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEscalation sets the escalation policy. When auto is true the policy's
// decision switches a chat turn to agent mode; otherwise it is only
// reported on the outcome.
func WithEscalation(policy EscalationPolicy, auto bool) Option {
	return func(r *Router) {
		r.policy = policy
		r.autoEscalate = auto
	}
}

// WithSessionIDGenerator overrides how missing session ids are generated.
func WithSessionIDGenerator(fn func() string) Option {
	return func(r *Router) {
		r.newID = fn
	}
}

// NewRouter creates a router.
func NewRouter(sessions ports.SessionStore, chat *ChatService, runner *Runner, opts ...Option) *Router {
	r := &Router{
		sessions: sessions,
		chat:     chat,
		runner:   runner,
		logger:   slog.Default(),
		newID:    uuid.NewString,
		policy:   DefaultEscalationPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetEscalation replaces the escalation settings for later turns.
func (r *Router) SetEscalation(policy EscalationPolicy, auto bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
	r.autoEscalate = auto
}

// route is the validated, mode-resolved form of a Turn.
type route struct {
	turn      Turn
	mode      domain.ConversationMode
	problem   string
	suggested bool
}

// prepare validates the turn, replaces the stored history and picks the
// mode. Empty turns are rejected before anything is written.
func (r *Router) prepare(ctx context.Context, turn Turn) (*route, error) {
	if len(turn.Messages) == 0 {
		return nil, domain.ErrInvalidRequest("messages must contain at least one message").
			WithCode(domain.ErrorCodeEmptyMessages).
			WithParam("messages")
	}
	for i, m := range turn.Messages {
		if !m.Role.Valid() {
			return nil, domain.ErrInvalidRequest(fmt.Sprintf("messages[%d].role %q is not one of system, user, assistant", i, m.Role)).
				WithParam("messages")
		}
	}

	if turn.SessionID == "" {
		turn.SessionID = r.newID()
	}

	prior, err := r.sessions.GetOrCreate(ctx, turn.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if _, err := r.sessions.ReplaceMessages(ctx, turn.SessionID, turn.Messages); err != nil {
		return nil, fmt.Errorf("replace session messages: %w", err)
	}

	r.mu.RLock()
	policy, auto := r.policy, r.autoEscalate
	r.mu.RUnlock()

	rt := &route{
		turn:      turn,
		mode:      domain.ModeChat,
		suggested: ShouldEscalate(turn.Messages, prior, turn.Metadata, policy),
	}
	if turn.AgentEnabled || (auto && rt.suggested) {
		rt.mode = domain.ModeAgent
	}

	if rt.mode == domain.ModeAgent {
		msg, ok := domain.LatestUserMessage(turn.Messages)
		if !ok || strings.TrimSpace(msg.Content) == "" {
			return nil, domain.ErrInvalidRequest("agent mode requires a user problem statement").
				WithCode(domain.ErrorCodeMissingProblem).
				WithParam("messages")
		}
		rt.problem = msg.Content
	}
	return rt, nil
}

// ProcessTurn handles one turn to completion.
func (r *Router) ProcessTurn(ctx context.Context, turn Turn) (*domain.ConversationOutcome, error) {
	rt, err := r.prepare(ctx, turn)
	if err != nil {
		return nil, err
	}

	var outcome *domain.ConversationOutcome
	if rt.mode == domain.ModeAgent {
		outcome, err = r.agentTurn(ctx, rt)
	} else {
		outcome, err = r.chatTurn(ctx, rt)
	}
	r.recordTurn(rt, err, isCancelled(err))
	return outcome, err
}

func (r *Router) chatTurn(ctx context.Context, rt *route) (*domain.ConversationOutcome, error) {
	reply, err := r.chat.Reply(ctx, rt.turn.Messages)
	if err != nil {
		return nil, err
	}
	return r.completeChat(ctx, rt, reply)
}

func (r *Router) completeChat(ctx context.Context, rt *route, reply string) (*domain.ConversationOutcome, error) {
	assistant := domain.ChatMessage{Role: domain.RoleAssistant, Content: reply}
	session, err := r.sessions.AppendMessage(ctx, rt.turn.SessionID, assistant)
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	return &domain.ConversationOutcome{
		Mode:                domain.ModeChat,
		SessionID:           rt.turn.SessionID,
		Messages:            session.Messages,
		AssistantMessage:    assistant,
		EscalationSuggested: rt.suggested,
	}, nil
}

func (r *Router) agentTurn(ctx context.Context, rt *route) (*domain.ConversationOutcome, error) {
	record, err := r.runner.Run(ctx, rt.problem, rt.turn.SessionID, rt.turn.Metadata)
	if err != nil {
		return nil, err
	}
	return r.completeAgent(ctx, rt, record)
}

func (r *Router) completeAgent(ctx context.Context, rt *route, record *domain.RunRecord) (*domain.ConversationOutcome, error) {
	assistant := domain.ChatMessage{Role: domain.RoleAssistant, Content: record.Result.FinalText}
	session, err := r.sessions.AppendMessage(context.WithoutCancel(ctx), rt.turn.SessionID, assistant)
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	return &domain.ConversationOutcome{
		Mode:                domain.ModeAgent,
		SessionID:           rt.turn.SessionID,
		Messages:            session.Messages,
		AssistantMessage:    assistant,
		AgentResult:         record.Result,
		RunID:               record.RunID,
		AutoDisableAgent:    true,
		EscalationSuggested: rt.suggested,
	}, nil
}

func (r *Router) recordTurn(rt *route, err error, cancelled bool) {
	status := telemetry.StatusSuccess
	switch {
	case err == nil:
	case cancelled:
		status = telemetry.StatusCancelled
	default:
		status = telemetry.StatusError
	}
	telemetry.RecordConversationTurn(string(rt.mode), status)

	attrs := []any{
		slog.String("session_id", rt.turn.SessionID),
		slog.String("mode", string(rt.mode)),
		slog.Bool("escalation_suggested", rt.suggested),
		slog.String("status", status),
	}
	if err != nil && status == telemetry.StatusError {
		if stageErr, ok := pipeline.IsStageError(err); ok {
			attrs = append(attrs, slog.String("stage", stageErr.Stage), slog.Int("stage_index", stageErr.Index))
		}
		r.logger.Error("conversation turn failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	r.logger.Info("conversation turn", attrs...)
}
