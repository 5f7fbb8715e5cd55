package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/theory-council/internal/backend/mock"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/pipeline"
	"github.com/tjfontaine/theory-council/internal/registration"
	"github.com/tjfontaine/theory-council/internal/testutil"
)

func init() {
	registration.RegisterBuiltins()
}

const baseConfig = `
server:
  port: 18080
backend:
  type: mock
models:
  default:
    model: council-model
  integrator:
    model: integrator-model
  chat:
    model: chat-model
storage:
  type: memory
telemetry:
  metrics: true
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startCouncil(t *testing.T, content string, opts ...Option) (*Council, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, content)

	opts = append([]Option{WithLogger(testutil.DiscardLogger()), WithFileConfig(path)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, path
}

func TestCouncil_New_RequiresConfig(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config provider required")
}

func TestCouncil_StartTwice(t *testing.T) {
	c, _ := startCouncil(t, baseConfig)
	assert.Error(t, c.Start(context.Background()))
}

func TestCouncil_ServeBeforeStart(t *testing.T) {
	c, err := New(WithFileConfig(filepath.Join(t.TempDir(), "config.yaml")))
	require.NoError(t, err)
	assert.Error(t, c.Serve())
	assert.Nil(t, c.Handler())
}

func TestCouncil_UnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "backend:\n  type: carrier-pigeon\n")

	c, err := New(WithLogger(testutil.DiscardLogger()), WithFileConfig(path))
	require.NoError(t, err)
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestCouncil_HandlesRequests(t *testing.T) {
	c, _ := startCouncil(t, baseConfig)
	h := c.Handler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/council/run", strings.NewReader(`{"problem":"Improve school lunch participation"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.NotNil(t, record.Result)
	assert.Len(t, record.Result.Trace, 10)
	assert.True(t, strings.HasPrefix(record.Result.FinalText, "[integrator-model]"), record.Result.FinalText)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/council/run/"+record.RunID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "council_pipeline_runs_total")
}

func TestCouncil_RunnerDirect(t *testing.T) {
	backend := mock.New()
	c, _ := startCouncil(t, baseConfig, WithBackend(backend))

	record, err := c.Runner().Run(context.Background(), "Reduce screen time", "cli", nil)
	require.NoError(t, err)
	assert.Equal(t, "cli", record.SessionID)
	assert.Equal(t, 10, backend.CallCount())
}

func TestCouncil_SQLiteStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "council.db")
	content := strings.Replace(baseConfig, "type: memory", "type: sqlite\n  sqlite:\n    path: "+dbPath, 1)

	c, _ := startCouncil(t, content)

	record, err := c.Runner().Run(context.Background(), "Improve sleep", "s1", nil)
	require.NoError(t, err)

	fetched, err := c.Runner().Get(context.Background(), record.RunID)
	require.NoError(t, err)
	assert.Equal(t, record.Result.FinalText, fetched.Result.FinalText)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestCouncil_ReloadsModels(t *testing.T) {
	backend := mock.New()
	c, path := startCouncil(t, baseConfig, WithBackend(backend))

	writeConfig(t, path, strings.Replace(baseConfig, "model: council-model", "model: reloaded-model", 1))

	assert.Eventually(t, func() bool {
		stages := c.engine.Stages()
		first, ok := stages[0].(*pipeline.LLMStage)
		return ok && first.Model == "reloaded-model"
	}, 2*time.Second, 20*time.Millisecond)

	_, err := c.Runner().Run(context.Background(), "Improve sleep", "s1", nil)
	require.NoError(t, err)
	calls := backend.Calls()
	require.Len(t, calls, 10)
	assert.Equal(t, "reloaded-model", calls[0].Model)
	assert.Equal(t, "integrator-model", calls[9].Model)
}

func TestCouncil_ShutdownWithoutStart(t *testing.T) {
	c, err := New(WithFileConfig(filepath.Join(t.TempDir(), "config.yaml")))
	require.NoError(t, err)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestCouncil_ServeAndShutdown(t *testing.T) {
	content := strings.Replace(baseConfig, "port: 18080", "port: 18471", 1)
	c, _ := startCouncil(t, content)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18471/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestCouncil_RunStopsOnCancel(t *testing.T) {
	content := strings.Replace(baseConfig, "port: 18080", "port: 18472", 1)
	c, _ := startCouncil(t, content)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18472/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
