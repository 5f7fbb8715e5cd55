package ports

import (
	"context"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// Stage is one ordered unit of the pipeline.
type Stage interface {
	// Name returns the stage identifier recorded in traces.
	Name() string

	// Run computes the stage's update from the current state. It must not
	// modify state.
	Run(ctx context.Context, state domain.PipelineState) (domain.StateUpdate, domain.TraceRecord, error)
}

// Snapshot is one element of a pipeline stream. Exactly one of State or Err
// is meaningful: Err is set only on the final element of a failed run.
type Snapshot struct {
	State domain.PipelineState
	Err   error
}

// Pipeline runs the ordered stage list over an input problem.
type Pipeline interface {
	// Execute runs every stage and returns the completed result.
	Execute(ctx context.Context, input string, metadata map[string]any) (*domain.PipelineResult, error)

	// Stream emits a snapshot after each completed stage. The channel is
	// closed after the last stage, after a failure snapshot, or when ctx is
	// cancelled.
	Stream(ctx context.Context, input string, metadata map[string]any) <-chan Snapshot

	// Finalize projects a final state into a result.
	Finalize(state domain.PipelineState) *domain.PipelineResult
}
