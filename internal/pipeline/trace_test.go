package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceRecord(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	meta := map[string]any{"category": "theory"}

	rec := NewTraceRecord("sct", "SCT Agent", "output", start, end, meta)
	meta["category"] = "changed"

	assert.Equal(t, "sct", rec.StageID)
	assert.Equal(t, "SCT Agent", rec.Label)
	assert.Equal(t, 1500.0, rec.DurationMS)
	assert.Equal(t, "theory", rec.Metadata["category"], "metadata must be copied")
}

func TestNewTraceRecord_NegativeDurationClamped(t *testing.T) {
	start := time.Now()
	rec := NewTraceRecord("a", "A", "", start, start.Add(-time.Second), nil)

	assert.Zero(t, rec.DurationMS)
	assert.Nil(t, rec.Metadata)
}
