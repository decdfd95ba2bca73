// Package llm provides the optional language-model assist for phrasing
// counter-search queries. The engine's heuristic negation is the
// default; a provider only rewords the negation into a better search
// query. Providers never touch confidence scores directly.
package llm

import (
	"context"
	"fmt"

	"concord/internal/model"
)

// Provider rewords the logical negation of a claim into a search query.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// NegationQuery returns a short search query for evidence against
	// the claim.
	NegationQuery(ctx context.Context, claim string) (string, error)
}

// NewProvider builds a provider from configuration. An empty provider
// name disables the assist.
func NewProvider(cfg model.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// BuildNegationPrompt is the fixed instruction sent to providers.
func BuildNegationPrompt(claim string) string {
	return fmt.Sprintf(`Produce ONE short web search query (under 12 words) that would find
evidence AGAINST the following claim. Return only the query, no quotes,
no commentary.

Claim: %s`, claim)
}
