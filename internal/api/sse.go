package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// SSE event names.
const (
	eventStarted  = "started"
	eventToken    = "token"
	eventTrace    = "trace"
	eventComplete = "complete"
	eventError    = "error"
)

// pendingRunID stands in for the run id on trace events; the run is only
// stored once it completes.
const pendingRunID = "pending"

// sseWriter frames events as "event: <name>\ndata: <json>\n\n".
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter writes the event-stream headers. It fails before anything is
// written when w cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, domain.ErrServer("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event and flushes it.
func (s *sseWriter) send(event string, data any) error {
	payload, err := marshalEvent(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// marshalEvent encodes data on a single line without HTML escaping.
func marshalEvent(data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

type startedEvent struct {
	SessionID string `json:"session_id"`
}

type tokenEvent struct {
	Chunk string `json:"chunk"`
}

type traceEvent struct {
	Trace *domain.TraceRecord `json:"trace"`
	RunID string              `json:"run_id"`
}

type runCompleteEvent struct {
	Run *domain.RunRecord `json:"run"`
}

type turnCompleteEvent struct {
	SessionID        string                  `json:"session_id"`
	Message          domain.ChatMessage      `json:"message"`
	Mode             domain.ConversationMode `json:"mode"`
	AgentResult      *domain.PipelineResult  `json:"agent_result,omitempty"`
	RunID            string                  `json:"run_id,omitempty"`
	AutoDisableAgent bool                    `json:"auto_disable_agent"`
}

type errorEvent struct {
	Detail string `json:"detail"`
}
