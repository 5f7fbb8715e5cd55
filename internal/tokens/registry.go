// Package tokens counts tokens in generated text for trace metadata.
package tokens

import (
	"math"
	"strings"

	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// Counter counts tokens for the models it supports.
type Counter interface {
	SupportsModel(model string) bool
	CountText(model, text string) (int, error)
}

// Registry picks the first counter that supports a model and falls back to
// the estimator. It never fails.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter for OpenAI models.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewOpenAICounter())
	return r
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountText returns the token count for text, estimating when no counter
// supports model or the counter fails.
func (r *Registry) CountText(model, text string) int {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		if n, err := counter.CountText(model, text); err == nil {
			return n
		}
		break
	}
	n, _ := r.fallback.CountText(model, text)
	return n
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool {
	return true
}

// CountText estimates the token count, rounding up.
func (e *Estimator) CountText(_, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return int(math.Ceil(float64(len(text)) / e.CharsPerToken)), nil
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

var _ ports.TokenCounter = (*Registry)(nil)
