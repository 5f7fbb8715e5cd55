package domain

import (
	"testing"
)

func strPtr(s string) *string { return &s }

func TestPipelineState_ApplyDoesNotMutateReceiver(t *testing.T) {
	base := NewPipelineState("problem")
	next := base.Apply(StateUpdate{
		FramedProblem: strPtr("framed"),
		Lenses:        map[string]string{"sct": "a"},
	})

	if base.FramedProblem != nil {
		t.Error("receiver FramedProblem was set")
	}
	if len(base.Lenses) != 0 {
		t.Errorf("receiver Lenses = %v, want empty", base.Lenses)
	}
	if next.FramedProblem == nil || *next.FramedProblem != "framed" {
		t.Fatalf("FramedProblem = %v, want framed", next.FramedProblem)
	}
	if got := next.Lenses["sct"]; got != "a" {
		t.Errorf("Lenses[sct] = %q, want a", got)
	}
}

func TestPipelineState_ApplyNeverClears(t *testing.T) {
	s := NewPipelineState("p").Apply(StateUpdate{AnchorSummary: strPtr("anchor")})
	s = s.Apply(StateUpdate{Lenses: map[string]string{"sdt": "x"}})

	if s.AnchorSummary == nil || *s.AnchorSummary != "anchor" {
		t.Errorf("AnchorSummary = %v, want anchor", s.AnchorSummary)
	}
}

func TestPipelineState_LensLastWriteWins(t *testing.T) {
	s := NewPipelineState("p").
		Apply(StateUpdate{Lenses: map[string]string{"wise": "first"}}).
		Apply(StateUpdate{Lenses: map[string]string{"wise": "second"}})

	if len(s.Lenses) != 1 {
		t.Errorf("len(Lenses) = %d, want 1", len(s.Lenses))
	}
	if got := s.Lenses["wise"]; got != "second" {
		t.Errorf("Lenses[wise] = %q, want second", got)
	}
}

func TestPipelineState_WithTraceCopies(t *testing.T) {
	s1 := NewPipelineState("p").WithTrace(TraceRecord{StageID: "a"})
	s2 := s1.WithTrace(TraceRecord{StageID: "b"})
	s3 := s1.WithTrace(TraceRecord{StageID: "c"})

	if len(s1.Trace) != 1 {
		t.Errorf("len(s1.Trace) = %d, want 1", len(s1.Trace))
	}
	if len(s2.Trace) != 2 || len(s3.Trace) != 2 {
		t.Fatalf("trace lengths = %d, %d, want 2, 2", len(s2.Trace), len(s3.Trace))
	}
	if s2.Trace[1].StageID != "b" || s3.Trace[1].StageID != "c" {
		t.Errorf("appended stages = %q, %q, want b, c", s2.Trace[1].StageID, s3.Trace[1].StageID)
	}
}

func TestLatestUserMessage(t *testing.T) {
	msgs := []ChatMessage{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "another"},
	}

	msg, ok := LatestUserMessage(msgs)
	if !ok {
		t.Fatal("expected a user message")
	}
	if msg.Content != "second" {
		t.Errorf("Content = %q, want second", msg.Content)
	}

	if _, ok := LatestUserMessage([]ChatMessage{{Role: RoleSystem, Content: "sys"}}); ok {
		t.Error("system-only history has no user message")
	}
}

func TestSessionState_HasRun(t *testing.T) {
	var nilSession *SessionState
	if nilSession.HasRun() {
		t.Error("nil session has no run")
	}
	if (&SessionState{}).HasRun() {
		t.Error("empty session has no run")
	}
	if !(&SessionState{LastRunID: "run"}).HasRun() {
		t.Error("session with LastRunID has a run")
	}
}
