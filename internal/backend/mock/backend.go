// Package mock provides a deterministic in-process generation backend for
// local runs and tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// BackendType is the configuration identifier for this backend.
const BackendType = "mock"

// Responder produces the text for one call. call is 1-based.
type Responder func(ctx context.Context, call int, req *ports.GenerateRequest) (string, error)

// Backend is a scripted ports.Backend.
type Backend struct {
	name      string
	responder Responder
	chunkSize int

	count atomic.Int64
	mu    sync.Mutex
	calls []ports.GenerateRequest
}

// Option configures a Backend.
type Option func(*Backend)

// WithResponder replaces the default echo responder.
func WithResponder(r Responder) Option {
	return func(b *Backend) {
		b.responder = r
	}
}

// WithName sets the name reported by Name.
func WithName(name string) Option {
	return func(b *Backend) {
		b.name = name
	}
}

// WithChunkSize sets the number of words per streamed chunk.
func WithChunkSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// New creates a mock backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		name:      BackendType,
		responder: Echo,
		chunkSize: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string {
	return b.name
}

// Generate returns the responder's text.
func (b *Backend) Generate(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.respond(ctx, req)
}

// GenerateStream splits the responder's text into word chunks. Whitespace
// is preserved so the concatenated chunks equal the Generate result.
func (b *Backend) GenerateStream(ctx context.Context, req *ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := b.respond(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan ports.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range splitChunks(text, b.chunkSize) {
			select {
			case out <- ports.StreamChunk{Text: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CallCount returns the number of Generate and GenerateStream calls.
func (b *Backend) CallCount() int {
	return int(b.count.Load())
}

// Calls returns a copy of every request received.
func (b *Backend) Calls() []ports.GenerateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ports.GenerateRequest, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) respond(ctx context.Context, req *ports.GenerateRequest) (string, error) {
	n := int(b.count.Add(1))
	b.mu.Lock()
	b.calls = append(b.calls, *req)
	b.mu.Unlock()
	return b.responder(ctx, n, req)
}

// Echo answers with the model name and the first line of the latest user
// message.
func Echo(_ context.Context, _ int, req *ports.GenerateRequest) (string, error) {
	msg, ok := domain.LatestUserMessage(req.Messages)
	if !ok {
		return fmt.Sprintf("[%s] Hello!", modelName(req.Model)), nil
	}
	line, _, _ := strings.Cut(strings.TrimSpace(msg.Content), "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return fmt.Sprintf("[%s] %s", modelName(req.Model), line), nil
}

// Sequence returns responses in order, repeating the last one once
// exhausted.
func Sequence(responses ...string) Responder {
	return func(_ context.Context, call int, _ *ports.GenerateRequest) (string, error) {
		if len(responses) == 0 {
			return "", nil
		}
		if call > len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[call-1], nil
	}
}

// FailOn returns err on the given call and delegates to next otherwise.
func FailOn(call int, err error, next Responder) Responder {
	return func(ctx context.Context, n int, req *ports.GenerateRequest) (string, error) {
		if n == call {
			return "", err
		}
		return next(ctx, n, req)
	}
}

// Block waits for ctx to be done and returns its error.
func Block(ctx context.Context, _ int, _ *ports.GenerateRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func modelName(model string) string {
	if model == "" {
		return BackendType
	}
	return model
}

func splitChunks(text string, wordsPerChunk int) []string {
	if text == "" {
		return nil
	}
	var (
		chunks []string
		words  int
		start  int
	)
	inWord := false
	for i, r := range text {
		space := r == ' ' || r == '\n' || r == '\t'
		if !space && !inWord {
			if words == wordsPerChunk {
				chunks = append(chunks, text[start:i])
				start = i
				words = 0
			}
			words++
		}
		inWord = !space
	}
	return append(chunks, text[start:])
}

var _ ports.Backend = (*Backend)(nil)
