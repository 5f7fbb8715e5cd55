package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// RunLog is an in-memory implementation of ports.RunLog. Entries are never
// evicted.
type RunLog struct {
	mu   sync.RWMutex
	runs map[string]*domain.RunRecord

	newID func() string
	now   func() time.Time
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{
		runs:  make(map[string]*domain.RunRecord),
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Store saves a completed run under a fresh id. An id is never handed out
// twice, even if the generator repeats.
func (l *RunLog) Store(ctx context.Context, result *domain.PipelineResult, sessionID string) (string, error) {
	if result == nil {
		return "", fmt.Errorf("cannot store nil result")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	runID := l.newID()
	for l.runs[runID] != nil {
		runID = l.newID()
	}

	l.runs[runID] = &domain.RunRecord{
		RunID:     runID,
		Status:    domain.RunStatusCompleted,
		Result:    result,
		SessionID: sessionID,
		CreatedAt: l.now().UTC(),
	}
	return runID, nil
}

func (l *RunLog) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, exists := l.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, ports.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

// Len returns the number of stored runs.
func (l *RunLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.runs)
}

func (l *RunLog) Close() error {
	return nil
}

var _ ports.RunLog = (*RunLog)(nil)
