package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/telemetry"
)

// WithTimeout bounds every call to next. An expired call fails with a
// backend_timeout error rather than blocking its run indefinitely. A zero
// timeout returns next unchanged.
func WithTimeout(next ports.Backend, timeout time.Duration) ports.Backend {
	if timeout <= 0 {
		return next
	}
	return &timeoutBackend{next: next, timeout: timeout}
}

type timeoutBackend struct {
	next    ports.Backend
	timeout time.Duration
}

func (b *timeoutBackend) Name() string {
	return b.next.Name()
}

func (b *timeoutBackend) Generate(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	text, err := b.next.Generate(callCtx, req)
	if err != nil {
		return "", b.timeoutError(ctx, callCtx, err)
	}
	return text, nil
}

// GenerateStream applies the timeout to the whole stream, not each chunk.
func (b *timeoutBackend) GenerateStream(ctx context.Context, req *ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)

	in, err := b.next.GenerateStream(callCtx, req)
	if err != nil {
		cancel()
		return nil, b.timeoutError(ctx, callCtx, err)
	}

	out := make(chan ports.StreamChunk)
	go func() {
		defer cancel()
		defer close(out)

		for chunk := range in {
			if chunk.Err != nil {
				chunk.Err = b.timeoutError(ctx, callCtx, chunk.Err)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		// The inner stream may close quietly on its own context; surface
		// an expired deadline as an error so callers never mistake it for
		// a complete response.
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			select {
			case out <- ports.StreamChunk{Err: b.timeoutError(ctx, callCtx, callCtx.Err())}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// timeoutError converts errors caused by our own deadline; the caller's
// cancellation passes through untouched.
func (b *timeoutBackend) timeoutError(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return domain.ErrBackend(fmt.Sprintf("%s backend did not respond within %s", b.next.Name(), b.timeout)).
			WithCode(domain.ErrorCodeBackendTimeout).
			WithCause(err)
	}
	return err
}

const tracerName = "github.com/tjfontaine/theory-council/internal/backend"

// Instrument records metrics and spans for every call to next.
func Instrument(next ports.Backend) ports.Backend {
	return &instrumentedBackend{next: next, tracer: otel.Tracer(tracerName)}
}

type instrumentedBackend struct {
	next   ports.Backend
	tracer trace.Tracer
}

func (b *instrumentedBackend) Name() string {
	return b.next.Name()
}

func (b *instrumentedBackend) Generate(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	ctx, span := b.start(ctx, "backend.generate", req)
	defer span.End()

	start := time.Now()
	text, err := b.next.Generate(ctx, req)
	b.finish(span, req, "generate", start, err)
	return text, err
}

func (b *instrumentedBackend) GenerateStream(ctx context.Context, req *ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	ctx, span := b.start(ctx, "backend.generate_stream", req)
	start := time.Now()

	in, err := b.next.GenerateStream(ctx, req)
	if err != nil {
		b.finish(span, req, "stream", start, err)
		span.End()
		return nil, err
	}

	out := make(chan ports.StreamChunk)
	go func() {
		defer span.End()
		defer close(out)

		var streamErr error
		for chunk := range in {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				b.finish(span, req, "stream", start, ctx.Err())
				return
			}
		}
		b.finish(span, req, "stream", start, streamErr)
	}()
	return out, nil
}

func (b *instrumentedBackend) start(ctx context.Context, name string, req *ports.GenerateRequest) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("backend.name", b.next.Name()),
		attribute.String("backend.model", req.Model),
		attribute.Int("backend.messages", len(req.Messages)),
	))
}

func (b *instrumentedBackend) finish(span trace.Span, req *ports.GenerateRequest, mode string, start time.Time, err error) {
	status := telemetry.StatusSuccess
	switch {
	case errors.Is(err, context.Canceled):
		status = telemetry.StatusCancelled
	case err != nil:
		status = telemetry.StatusError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.RecordBackendCall(b.next.Name(), req.Model, mode, status, time.Since(start))
}
