package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/testutil"
)

func TestBackend_Generate(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "openai_generate")
	defer cleanup()

	b := New("test-key", WithHTTPClient(testutil.VCRHTTPClient(r)))

	text, err := b.Generate(context.Background(), &ports.GenerateRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.35,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are the Problem Framer."},
			{Role: domain.RoleUser, Content: "RAW PROBLEM:\nImprove school lunch participation."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Students skip lunch because lines are long and menus feel unfamiliar.", text)
}

func TestBackend_GenerateStream(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "openai_stream")
	defer cleanup()

	b := New("test-key", WithHTTPClient(testutil.VCRHTTPClient(r)))

	ch, err := b.GenerateStream(context.Background(), &ports.GenerateRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		Messages:    []domain.ChatMessage{{Role: domain.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	var parts []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		parts = append(parts, chunk.Text)
	}
	assert.Equal(t, []string{"Hi", " there!"}, parts)
}

func TestBackend_RequestShape(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	b := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	_, err := b.Generate(context.Background(), &ports.GenerateRequest{
		Model:       "gpt-4.1",
		Temperature: 0,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", got.Model)
	require.NotNil(t, got.Temperature, "zero temperature must still be sent")
	assert.Equal(t, 0.0, *got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.False(t, got.Stream)
}

func TestBackend_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode domain.ErrorCode
		wantMsg  string
	}{
		{
			name:     "structured upstream error",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`,
			wantCode: domain.ErrorCodeBackendRejected,
			wantMsg:  "Incorrect API key provided",
		},
		{
			name:     "plain text error",
			status:   http.StatusServiceUnavailable,
			body:     "upstream unavailable",
			wantCode: domain.ErrorCodeBackendRejected,
			wantMsg:  "upstream unavailable",
		},
		{
			name:     "malformed success body",
			status:   http.StatusOK,
			body:     `{"choices":`,
			wantCode: domain.ErrorCodeBackendMalformed,
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			body:     `{"choices":[]}`,
			wantCode: domain.ErrorCodeBackendMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b := New("k", WithBaseURL(srv.URL))
			_, err := b.Generate(context.Background(), &ports.GenerateRequest{Model: "m"})
			require.Error(t, err)

			apiErr := domain.AsAPIError(err)
			assert.Equal(t, domain.ErrorTypeBackend, apiErr.Type)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatusCode())
			if tt.wantMsg != "" {
				assert.True(t, strings.Contains(err.Error(), tt.wantMsg), err.Error())
			}
		})
	}
}

func TestBackend_StreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"one\"}}]}\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	b := New("k", WithBaseURL(srv.URL))
	ch, err := b.GenerateStream(ctx, &ports.GenerateRequest{Model: "m"})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "one", first.Text)
	cancel()

	for range ch {
	}
}
