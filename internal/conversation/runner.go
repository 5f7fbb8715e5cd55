package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/telemetry"
)

// persistTimeout bounds storing a completed run once the request that
// produced it has finished.
const persistTimeout = 5 * time.Second

// RunEvent is one element of a streamed council run. Exactly one field is
// set.
type RunEvent struct {
	Trace  *domain.TraceRecord
	Record *domain.RunRecord
	Err    error
}

// Runner executes the council pipeline and records completed runs.
type Runner struct {
	pipeline ports.Pipeline
	runs     ports.RunLog
	sessions ports.SessionStore
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(pipeline ports.Pipeline, runs ports.RunLog, sessions ports.SessionStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pipeline: pipeline, runs: runs, sessions: sessions, logger: logger}
}

// Run executes the pipeline to completion and stores the result.
func (r *Runner) Run(ctx context.Context, problem, sessionID string, metadata map[string]any) (*domain.RunRecord, error) {
	result, err := r.pipeline.Execute(ctx, problem, runMetadata(metadata, sessionID))
	if err != nil {
		return nil, err
	}
	return r.persist(ctx, result, sessionID)
}

// Stream executes the pipeline and emits one trace event per completed
// stage, then the stored record. A failed run ends with an error event. A
// cancelled run ends without a final event and is not stored.
func (r *Runner) Stream(ctx context.Context, problem, sessionID string, metadata map[string]any) <-chan RunEvent {
	out := make(chan RunEvent)

	go func() {
		defer close(out)

		send := func(ev RunEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		last := domain.NewPipelineState(problem)
		for snap := range r.pipeline.Stream(ctx, problem, runMetadata(metadata, sessionID)) {
			if snap.Err != nil {
				send(RunEvent{Err: snap.Err})
				return
			}
			for i := len(last.Trace); i < len(snap.State.Trace); i++ {
				rec := snap.State.Trace[i]
				if !send(RunEvent{Trace: &rec}) {
					return
				}
			}
			last = snap.State
		}

		if ctx.Err() != nil {
			r.logger.Info("council run cancelled, not stored",
				slog.String("session_id", sessionID),
				slog.Int("completed_stages", len(last.Trace)))
			return
		}

		record, err := r.persist(ctx, r.pipeline.Finalize(last), sessionID)
		if err != nil {
			send(RunEvent{Err: err})
			return
		}
		send(RunEvent{Record: record})
	}()

	return out
}

// Get returns a stored run.
func (r *Runner) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return r.runs.Get(ctx, runID)
}

// persist stores a completed run and links it to its session. Storage uses
// a context detached from the request so a client disconnecting after
// completion does not lose the run.
func (r *Runner) persist(ctx context.Context, result *domain.PipelineResult, sessionID string) (*domain.RunRecord, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	runID, err := r.runs.Store(persistCtx, result, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	telemetry.RecordRunStored()

	if sessionID != "" {
		if _, err := r.sessions.RecordRun(persistCtx, sessionID, runID, result); err != nil {
			return nil, fmt.Errorf("record run on session: %w", err)
		}
	}

	record, err := r.runs.Get(persistCtx, runID)
	if err != nil {
		return nil, fmt.Errorf("load stored run: %w", err)
	}

	r.logger.Info("council run stored",
		slog.String("run_id", runID),
		slog.String("session_id", sessionID),
		slog.Int("stages", len(result.Trace)))
	return record, nil
}

func runMetadata(metadata map[string]any, sessionID string) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	maps.Copy(out, metadata)
	if sessionID != "" {
		out["session_id"] = sessionID
	}
	return out
}
