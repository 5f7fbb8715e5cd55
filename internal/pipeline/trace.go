package pipeline

import (
	"maps"
	"time"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// NewTraceRecord builds the record for one stage execution. Duration is
// clamped at zero so clock adjustments never produce negative values.
func NewTraceRecord(stageID, label, output string, startedAt, completedAt time.Time, metadata map[string]any) domain.TraceRecord {
	ms := float64(completedAt.Sub(startedAt)) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	var meta map[string]any
	if len(metadata) > 0 {
		meta = maps.Clone(metadata)
	}

	return domain.TraceRecord{
		StageID:     stageID,
		Label:       label,
		Output:      output,
		StartedAt:   startedAt.UTC(),
		CompletedAt: completedAt.UTC(),
		DurationMS:  ms,
		Metadata:    meta,
	}
}
