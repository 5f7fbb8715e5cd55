package conversation

import (
	"strings"

	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/domain"
)

// EscalationPolicy holds the thresholds for ShouldEscalate.
type EscalationPolicy struct {
	Keywords      []string
	MaxWords      int
	MaxChars      int
	FirstRunWords int
}

// DefaultEscalationPolicy returns the built-in thresholds.
func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		Keywords:      config.DefaultKeywords,
		MaxWords:      120,
		MaxChars:      800,
		FirstRunWords: 40,
	}
}

// PolicyFromConfig builds a policy, keeping defaults for unset values.
func PolicyFromConfig(cfg config.EscalationConfig) EscalationPolicy {
	p := DefaultEscalationPolicy()
	if len(cfg.Keywords) > 0 {
		p.Keywords = cfg.Keywords
	}
	if cfg.MaxWords > 0 {
		p.MaxWords = cfg.MaxWords
	}
	if cfg.MaxChars > 0 {
		p.MaxChars = cfg.MaxChars
	}
	if cfg.FirstRunWords > 0 {
		p.FirstRunWords = cfg.FirstRunWords
	}
	return p
}

// ShouldEscalate reports whether a turn looks like it needs the full
// council rather than a single chat reply. Any one of these is enough:
//
//   - metadata "escalate" is true, or "force_council" is truthy
//   - the latest user message contains a keyword (case-insensitive)
//   - the message reaches MaxWords words or exceeds MaxChars characters
//   - the session has no prior run and the message reaches FirstRunWords
//
// A turn without a user message never escalates unless "escalate" is set.
// session may be nil.
func ShouldEscalate(messages []domain.ChatMessage, session *domain.SessionState, metadata map[string]any, policy EscalationPolicy) bool {
	if v, ok := metadata["escalate"].(bool); ok && v {
		return true
	}

	last, ok := domain.LatestUserMessage(messages)
	if !ok || last.Content == "" {
		return false
	}

	if truthy(metadata["force_council"]) {
		return true
	}

	text := strings.ToLower(strings.TrimSpace(last.Content))
	for _, kw := range policy.Keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}

	words := len(strings.Fields(text))
	if words >= policy.MaxWords || len(text) > policy.MaxChars {
		return true
	}

	return !session.HasRun() && words >= policy.FirstRunWords
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
