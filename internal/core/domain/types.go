package domain

import (
	"maps"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is a single conversational turn.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LatestUserMessage returns the most recent user message, scanning from the
// end. The boolean is false when no user message exists.
func LatestUserMessage(messages []ChatMessage) (ChatMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return ChatMessage{}, false
}

// TraceRecord describes one stage execution. Records are never modified after
// they are appended to a PipelineState.
type TraceRecord struct {
	StageID     string         `json:"agent_key"`
	Label       string         `json:"agent_label"`
	Output      string         `json:"output"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  float64        `json:"duration_ms"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StateUpdate is the partial update a stage returns. Nil pointers and an
// empty lens map leave the corresponding state untouched.
type StateUpdate struct {
	FramedProblem *string
	AnchorSummary *string
	Lenses        map[string]string
	DebateSummary *string
	Ranking       *string
	FinalText     *string
}

// PipelineState is threaded through the stages of one run. It is replaced,
// never mutated: Apply and WithTrace return new values that share nothing
// mutable with the receiver.
type PipelineState struct {
	RawInput      string            `json:"raw_problem"`
	FramedProblem *string           `json:"framed_problem,omitempty"`
	AnchorSummary *string           `json:"im_summary,omitempty"`
	Lenses        map[string]string `json:"theory_outputs"`
	DebateSummary *string           `json:"debate_summary,omitempty"`
	Ranking       *string           `json:"theory_ranking,omitempty"`
	FinalText     *string           `json:"final_synthesis,omitempty"`
	Trace         []TraceRecord     `json:"agent_traces"`
}

// NewPipelineState returns the initial state for a run.
func NewPipelineState(input string) PipelineState {
	return PipelineState{
		RawInput: input,
		Lenses:   map[string]string{},
		Trace:    []TraceRecord{},
	}
}

// Apply returns a copy of s with u applied. Fields already present are only
// replaced by newer values, never cleared.
func (s PipelineState) Apply(u StateUpdate) PipelineState {
	next := s.clone()
	next.FramedProblem = pick(s.FramedProblem, u.FramedProblem)
	next.AnchorSummary = pick(s.AnchorSummary, u.AnchorSummary)
	next.DebateSummary = pick(s.DebateSummary, u.DebateSummary)
	next.Ranking = pick(s.Ranking, u.Ranking)
	next.FinalText = pick(s.FinalText, u.FinalText)
	for k, v := range u.Lenses {
		next.Lenses[k] = v
	}
	return next
}

// WithTrace returns a copy of s with rec appended to the trace.
func (s PipelineState) WithTrace(rec TraceRecord) PipelineState {
	next := s.clone()
	next.Trace = append(next.Trace, rec)
	return next
}

func (s PipelineState) clone() PipelineState {
	next := s
	next.Lenses = make(map[string]string, len(s.Lenses))
	maps.Copy(next.Lenses, s.Lenses)
	next.Trace = make([]TraceRecord, len(s.Trace), len(s.Trace)+1)
	copy(next.Trace, s.Trace)
	return next
}

func pick(cur, upd *string) *string {
	if upd == nil {
		return cur
	}
	v := *upd
	return &v
}

// Text dereferences an optional field, returning "" when absent.
func Text(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// PipelineResult is the immutable projection of a completed run.
type PipelineResult struct {
	RawInput      string            `json:"raw_problem"`
	FramedProblem string            `json:"framed_problem"`
	AnchorSummary string            `json:"im_summary"`
	Lenses        map[string]string `json:"theory_outputs"`
	DebateSummary string            `json:"debate_summary"`
	Ranking       string            `json:"theory_ranking"`
	FinalText     string            `json:"final_synthesis"`
	Sections      map[string]string `json:"sections"`
	Trace         []TraceRecord     `json:"agent_traces"`
}

// RunStatus is the lifecycle state reported for a stored run.
type RunStatus string

const RunStatusCompleted RunStatus = "completed"

// RunRecord is a completed run held by the run log.
type RunRecord struct {
	RunID     string          `json:"run_id"`
	Status    RunStatus       `json:"status"`
	Result    *PipelineResult `json:"result"`
	SessionID string          `json:"session_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SessionState is the process-lifetime record for one conversation.
type SessionState struct {
	SessionID  string          `json:"session_id"`
	Messages   []ChatMessage   `json:"messages"`
	LastRunID  string          `json:"last_run_id,omitempty"`
	LastResult *PipelineResult `json:"last_result,omitempty"`
}

// HasRun reports whether a pipeline run has been recorded for the session.
func (s *SessionState) HasRun() bool {
	return s != nil && s.LastRunID != ""
}

// ConversationMode is the processing path chosen for a turn.
type ConversationMode string

const (
	ModeChat  ConversationMode = "chat"
	ModeAgent ConversationMode = "agent"
)

// ConversationOutcome is the normalized result of a conversational turn.
type ConversationOutcome struct {
	Mode                ConversationMode `json:"mode"`
	SessionID           string           `json:"session_id"`
	Messages            []ChatMessage    `json:"messages"`
	AssistantMessage    ChatMessage      `json:"assistant_message"`
	AgentResult         *PipelineResult  `json:"agent_result,omitempty"`
	RunID               string           `json:"run_id,omitempty"`
	AutoDisableAgent    bool             `json:"auto_disable_agent"`
	EscalationSuggested bool             `json:"escalation_suggested"`
}
