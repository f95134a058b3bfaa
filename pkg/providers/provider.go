// Package providers abstracts the LLM backends the ai plugin can talk to.
package providers

import (
	"context"
	"fmt"
	"strings"
)

// Turn is one entry of an alternating conversation transcript.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Provider produces one completion for a conversation. The system
// instruction is passed separately because the backends disagree on where it
// belongs in the transcript.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

// New selects a provider by name. An empty name defaults to anthropic.
func New(name, apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	switch strings.ToLower(name) {
	case "", "anthropic":
		return NewAnthropic(apiKey, model), nil
	case "openai":
		return NewOpenAI(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
