package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/telemetry"
)

const tracerName = "github.com/tjfontaine/theory-council/internal/pipeline"

// Engine runs an ordered list of stages.
type Engine struct {
	mu       sync.RWMutex
	stages   []ports.Stage
	sections []SectionHeader
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSections sets the headers used to split the final text.
func WithSections(headers []SectionHeader) Option {
	return func(e *Engine) {
		e.sections = slices.Clone(headers)
	}
}

// NewEngine creates an engine over the given stages.
func NewEngine(stages []ports.Stage, opts ...Option) *Engine {
	e := &Engine{
		stages: slices.Clone(stages),
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stages returns a copy of the current stage list.
func (e *Engine) Stages() []ports.Stage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.stages)
}

// SetStages replaces the stage list. Runs already in progress keep the list
// they started with.
func (e *Engine) SetStages(stages []ports.Stage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = slices.Clone(stages)
}

// Execute runs every stage to completion and returns the result. No partial
// result is returned on failure.
func (e *Engine) Execute(ctx context.Context, input string, metadata map[string]any) (*domain.PipelineResult, error) {
	state, err := e.run(ctx, input, metadata, nil)
	if err != nil {
		return nil, err
	}
	return e.Finalize(state), nil
}

// Stream runs the stages in a goroutine and sends the state after each
// completed stage. The channel is unbuffered; the next stage starts only once
// the previous snapshot has been received.
func (e *Engine) Stream(ctx context.Context, input string, metadata map[string]any) <-chan ports.Snapshot {
	out := make(chan ports.Snapshot)

	go func() {
		defer close(out)

		_, err := e.run(ctx, input, metadata, func(state domain.PipelineState) bool {
			select {
			case out <- ports.Snapshot{State: state}:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err == nil || ctx.Err() != nil {
			return
		}

		select {
		case out <- ports.Snapshot{Err: err}:
		case <-ctx.Done():
		}
	}()

	return out
}

// Finalize projects a completed state into a result.
func (e *Engine) Finalize(state domain.PipelineState) *domain.PipelineResult {
	final := domain.Text(state.FinalText)

	lenses := make(map[string]string, len(state.Lenses))
	maps.Copy(lenses, state.Lenses)

	return &domain.PipelineResult{
		RawInput:      state.RawInput,
		FramedProblem: domain.Text(state.FramedProblem),
		AnchorSummary: domain.Text(state.AnchorSummary),
		Lenses:        lenses,
		DebateSummary: domain.Text(state.DebateSummary),
		Ranking:       domain.Text(state.Ranking),
		FinalText:     final,
		Sections:      ParseSections(final, e.sections),
		Trace:         slices.Clone(state.Trace),
	}
}

// run is the loop shared by Execute and Stream. emit is called after each
// stage; returning false stops the run as cancelled.
func (e *Engine) run(ctx context.Context, input string, metadata map[string]any, emit func(domain.PipelineState) bool) (domain.PipelineState, error) {
	stages := e.Stages()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("pipeline.stages", len(stages)),
		attribute.Bool("pipeline.streaming", emit != nil),
	))
	defer span.End()

	logger := e.logger.With(slog.Int("stages", len(stages)))
	if id, ok := metadata["session_id"].(string); ok && id != "" {
		logger = logger.With(slog.String("session_id", id))
	}
	logger.Debug("pipeline started", slog.Bool("streaming", emit != nil))

	state := domain.NewPipelineState(input)

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			e.cancelled(logger, span, stage.Name(), i, start)
			return state, err
		}

		next, err := e.runStage(ctx, stage, state)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelled(logger, span, stage.Name(), i, start)
				return state, ctx.Err()
			}
			logger.Error("pipeline stage failed",
				slog.String("stage", stage.Name()),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			telemetry.RecordPipelineRun(telemetry.StatusError, time.Since(start))
			return state, &StageError{Stage: stage.Name(), Index: i, Err: err}
		}
		state = next

		if emit != nil && !emit(state) {
			e.cancelled(logger, span, stage.Name(), i+1, start)
			return state, ctx.Err()
		}
	}

	telemetry.RecordPipelineRun(telemetry.StatusSuccess, time.Since(start))
	logger.Info("pipeline completed", slog.Duration("duration", time.Since(start)))
	return state, nil
}

func (e *Engine) runStage(ctx context.Context, stage ports.Stage, state domain.PipelineState) (domain.PipelineState, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("pipeline.stage", stage.Name()),
	))
	defer span.End()

	start := time.Now()
	update, rec, err := stage.Run(ctx, state)
	if err != nil {
		telemetry.RecordStage(stage.Name(), telemetry.StatusError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	telemetry.RecordStage(stage.Name(), telemetry.StatusSuccess, time.Since(start))

	return state.Apply(update).WithTrace(rec), nil
}

func (e *Engine) cancelled(logger *slog.Logger, span trace.Span, stage string, completed int, start time.Time) {
	logger.Info("pipeline cancelled",
		slog.String("stage", stage),
		slog.Int("completed_stages", completed),
	)
	span.SetAttributes(attribute.Bool("pipeline.cancelled", true))
	telemetry.RecordPipelineRun(telemetry.StatusCancelled, time.Since(start))
}

var _ ports.Pipeline = (*Engine)(nil)
