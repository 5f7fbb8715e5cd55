package sqlite

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(MemoryDSN)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult() *domain.PipelineResult {
	now := time.Now().UTC()
	return &domain.PipelineResult{
		RawInput:  "teen vaping",
		Lenses:    map[string]string{"sct": "self-efficacy"},
		FinalText: "1. Problem Framing\nx",
		Sections:  map[string]string{"problem_framing": "x"},
		Trace: []domain.TraceRecord{
			{StageID: "problem_framer", Label: "Problem Framer", StartedAt: now, CompletedAt: now},
		},
	}
}

func TestSQLiteRunLog_StoreAndGet(t *testing.T) {
	runs := newMemoryStore(t).Runs()
	ctx := context.Background()

	runID, err := runs.Store(ctx, sampleResult(), "session-1")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	rec, err := runs.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if rec.RunID != runID {
		t.Errorf("RunID = %v, want %v", rec.RunID, runID)
	}
	if rec.SessionID != "session-1" {
		t.Errorf("SessionID = %v, want session-1", rec.SessionID)
	}
	if rec.Status != domain.RunStatusCompleted {
		t.Errorf("Status = %v, want completed", rec.Status)
	}
	if rec.Result.Lenses["sct"] != "self-efficacy" {
		t.Errorf("Lenses = %v", rec.Result.Lenses)
	}
	if len(rec.Result.Trace) != 1 || rec.Result.Trace[0].StageID != "problem_framer" {
		t.Errorf("Trace = %+v", rec.Result.Trace)
	}
}

func TestSQLiteRunLog_GetUnknown(t *testing.T) {
	_, err := newMemoryStore(t).Runs().Get(context.Background(), "missing")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRunLog_UniqueIDs(t *testing.T) {
	runs := newMemoryStore(t).Runs()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := runs.Store(context.Background(), sampleResult(), "")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("run id %s reused", id)
		}
		seen[id] = true
	}
}

func TestSQLiteRunLog_CollidingGeneratorRetries(t *testing.T) {
	store := newMemoryStore(t)
	ids := []string{"same", "same", "other"}
	store.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := store.Runs().Store(context.Background(), sampleResult(), "")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	second, err := store.Runs().Store(context.Background(), sampleResult(), "")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if first != "same" || second != "other" {
		t.Errorf("ids = %s, %s", first, second)
	}
}

func TestSQLiteSessionStore_Lifecycle(t *testing.T) {
	sessions := newMemoryStore(t).Sessions()
	ctx := context.Background()

	if _, err := sessions.Get(ctx, "s1"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	state, err := sessions.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(state.Messages) != 0 {
		t.Errorf("new session has %d messages", len(state.Messages))
	}

	_, err = sessions.ReplaceMessages(ctx, "s1", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
	})
	if err != nil {
		t.Fatalf("ReplaceMessages() error = %v", err)
	}

	state, err = sessions.AppendMessage(ctx, "s1", domain.ChatMessage{Role: domain.RoleUser, Content: "c"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if len(state.Messages) != 3 {
		t.Errorf("len(Messages) = %d, want 3", len(state.Messages))
	}

	state, err = sessions.RecordRun(ctx, "s1", "run-1", sampleResult())
	if err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	got, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastRunID != "run-1" || got.LastResult == nil || got.LastResult.RawInput != "teen vaping" {
		t.Errorf("unexpected run linkage: %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Errorf("RecordRun changed messages: %d", len(got.Messages))
	}
}

func TestSQLiteStore_FilePersistence(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "council-*.db")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer os.Remove(tmpfile.Name())
	tmpfile.Close()

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	runID, err := store.Runs().Store(context.Background(), sampleResult(), "s")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	store.Close()

	store2, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store2.Close()

	if _, err := store2.Runs().Get(context.Background(), runID); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}
