package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// GenerateContentRequest is the body of generateContent and
// streamGenerateContent calls.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"system_instruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one conversational turn. Role is "user" or "model".
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a text fragment of a Content.
type Part struct {
	Text string `json:"text"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

// GenerateContentResponse is a full response or a single streamed chunk.
type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one generated alternative.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Text concatenates the parts of the first candidate.
func (r *GenerateContentResponse) Text() (string, bool) {
	if len(r.Candidates) == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), true
}

// ErrorResponse is the Google API error envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is a Google API error.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return e.Message
}

func statusError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		return domain.ErrBackend(fmt.Sprintf("gemini backend returned %d %s: %s", status, http.StatusText(status), errResp.Error.Message)).
			WithCode(domain.ErrorCodeBackendRejected).
			WithCause(errResp.Error)
	}
	return domain.ErrBackend(fmt.Sprintf("gemini backend returned %d: %s", status, strings.TrimSpace(string(body)))).
		WithCode(domain.ErrorCodeBackendRejected)
}

func malformed(err error) error {
	return domain.ErrBackend("gemini backend returned a malformed response").
		WithCode(domain.ErrorCodeBackendMalformed).
		WithCause(err)
}
