package ports

import (
	"context"
	"errors"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// ErrNotFound is returned by store lookups for unknown keys.
var ErrNotFound = errors.New("not found")

// SessionStore holds conversation state for the lifetime of the process.
// Writers to the same session are not serialized across calls: the last
// write wins.
type SessionStore interface {
	// GetOrCreate returns the session, creating an empty one on first use.
	GetOrCreate(ctx context.Context, sessionID string) (*domain.SessionState, error)

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*domain.SessionState, error)

	// ReplaceMessages overwrites the stored history.
	ReplaceMessages(ctx context.Context, sessionID string, messages []domain.ChatMessage) (*domain.SessionState, error)

	// AppendMessage adds one message to the stored history.
	AppendMessage(ctx context.Context, sessionID string, message domain.ChatMessage) (*domain.SessionState, error)

	// RecordRun sets the last run id and result, replacing previous values.
	RecordRun(ctx context.Context, sessionID, runID string, result *domain.PipelineResult) (*domain.SessionState, error)

	// Close releases resources held by the store.
	Close() error
}

// RunLog stores completed pipeline runs.
type RunLog interface {
	// Store saves result under a newly generated run id.
	Store(ctx context.Context, result *domain.PipelineResult, sessionID string) (string, error)

	// Get returns the run or an error wrapping ErrNotFound.
	Get(ctx context.Context, runID string) (*domain.RunRecord, error)

	// Close releases resources held by the log.
	Close() error
}
