// Package tokens fills usage counts when an upstream response omits them.
// Counting happens on transient request data only; nothing here retains text.
package tokens

import (
	"strings"

	"github.com/zeroveil/gateway/internal/domain"
)

// Counter counts tokens for models it supports.
type Counter interface {
	CountText(model, text string) (int, error)
	SupportsModel(model string) bool
}

// Registry picks the first counter supporting a model, falling back to a
// character-based estimator.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken-backed OpenAI counter
// registered and the estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{
		counters: []Counter{NewOpenAICounter()},
		fallback: Estimator{},
	}
}

// Register adds a counter ahead of the fallback.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

func (r *Registry) counterFor(model string) Counter {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			return c
		}
	}
	return r.fallback
}

// CountUsage computes usage for a prompt/completion pair. Errors degrade to
// the estimator rather than failing the request.
func (r *Registry) CountUsage(model string, messages []domain.Message, completion string) domain.Usage {
	c := r.counterFor(model)

	prompt := 0
	for _, msg := range messages {
		n, err := c.CountText(model, msg.Content)
		if err != nil {
			n, _ = Estimator{}.CountText(model, msg.Content)
		}
		// Per-message formatting overhead: role marker plus separators.
		prompt += n + 4
	}

	completionTokens, err := c.CountText(model, completion)
	if err != nil {
		completionTokens, _ = Estimator{}.CountText(model, completion)
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
	}
}

// Estimator approximates token counts at four characters per token. Fallback
// for models without a dedicated tokenizer.
type Estimator struct{}

// CountText estimates the token count for text.
func (Estimator) CountText(model, text string) (int, error) {
	return len(text) / 4, nil
}

// SupportsModel returns true; the estimator backs every model.
func (Estimator) SupportsModel(model string) bool {
	return true
}

// modelMatcher matches model names by prefix or exact name.
type modelMatcher struct {
	prefixes []string
	exact    []string
}

func (m *modelMatcher) matches(model string) bool {
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
