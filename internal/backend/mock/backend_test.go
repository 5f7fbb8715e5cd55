package mock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

func request(content string) *ports.GenerateRequest {
	return &ports.GenerateRequest{
		Model: "test-model",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "system"},
			{Role: domain.RoleUser, Content: content},
		},
	}
}

func TestBackend_EchoIsDeterministic(t *testing.T) {
	b := New()
	first, err := b.Generate(context.Background(), request("improve school lunches\nmore detail"))
	require.NoError(t, err)
	second, err := b.Generate(context.Background(), request("improve school lunches\nmore detail"))
	require.NoError(t, err)

	assert.Equal(t, "[test-model] improve school lunches", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, b.CallCount())
}

func TestBackend_StreamConcatenatesToGenerate(t *testing.T) {
	b := New(WithResponder(Sequence("hello there  general\nkenobi")), WithChunkSize(1))

	ch, err := b.GenerateStream(context.Background(), request("x"))
	require.NoError(t, err)

	var parts []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		parts = append(parts, chunk.Text)
	}

	assert.Equal(t, []string{"hello ", "there  ", "general\n", "kenobi"}, parts)
	assert.Equal(t, "hello there  general\nkenobi", strings.Join(parts, ""))
}

func TestBackend_FailOn(t *testing.T) {
	boom := errors.New("boom")
	b := New(WithResponder(FailOn(2, boom, Sequence("ok"))))

	_, err := b.Generate(context.Background(), request("a"))
	require.NoError(t, err)
	_, err = b.Generate(context.Background(), request("b"))
	assert.ErrorIs(t, err, boom)
	_, err = b.Generate(context.Background(), request("c"))
	assert.NoError(t, err)
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Generate(ctx, request("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackend_RecordsCalls(t *testing.T) {
	b := New()
	_, _ = b.Generate(context.Background(), request("first"))

	calls := b.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "test-model", calls[0].Model)
}
