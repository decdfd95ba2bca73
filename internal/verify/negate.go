package verify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"concord/internal/llm"
)

// antonyms maps assertion terms to their negated search forms. These
// mirror the opposing-term pairs the contradiction classifier watches.
var antonyms = map[string]string{
	"deprecated":  "current maintained",
	"current":     "deprecated",
	"safe":        "unsafe",
	"unsafe":      "safe",
	"secure":      "insecure vulnerability",
	"insecure":    "secure",
	"supported":   "unsupported discontinued",
	"unsupported": "supported",
	"required":    "optional",
	"optional":    "required",
	"increases":   "decreases",
	"decreases":   "increases",
}

var negateWordRe = regexp.MustCompile(`[A-Za-z0-9_./-]+`)

// NegationQueries formulates counter-search queries: the logical
// negation of the claim, phrased for search. At least `min` queries are
// returned. When a provider is configured it contributes the first
// query; the deterministic heuristics always back it up, so the
// verdict never depends on having an LLM available.
func NegationQueries(ctx context.Context, claim string, min int, provider llm.Provider, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	var queries []string

	if provider != nil {
		q, err := provider.NegationQuery(ctx, claim)
		if err != nil {
			logger.Warn("llm negation phrasing failed; using heuristics only", "provider", provider.Name(), "error", err)
		} else {
			queries = append(queries, q)
		}
	}

	queries = append(queries, heuristicNegations(claim)...)
	if min < 2 {
		min = 2
	}
	if len(queries) > min {
		queries = queries[:min]
	}
	// Pad with keyword fallbacks when the claim is too sparse for the
	// heuristics to produce enough distinct queries.
	for len(queries) < min {
		queries = append(queries, keywords(claim)+" counterexample")
	}
	return queries
}

// heuristicNegations builds deterministic negation phrasings.
func heuristicNegations(claim string) []string {
	lower := strings.ToLower(claim)
	var queries []string

	// Antonym swap: "X is deprecated" -> search "X current maintained".
	for term, opposite := range antonyms {
		if strings.Contains(lower, term) {
			rest := strings.TrimSpace(strings.ReplaceAll(lower, term, ""))
			queries = append(queries, keywords(rest)+" "+opposite)
			break
		}
	}

	// Explicit negation flip: drop or insert "not".
	if strings.Contains(lower, " not ") {
		queries = append(queries, keywords(strings.ReplaceAll(lower, " not ", " ")))
	} else if idx := strings.Index(lower, " is "); idx >= 0 {
		queries = append(queries, keywords(lower[:idx])+" is not "+keywords(lower[idx+4:]))
	}

	queries = append(queries, keywords(lower)+" refuted evidence against")
	return queries
}

// keywords keeps the content-bearing tokens of a phrase, bounded so
// queries stay short.
func keywords(s string) string {
	words := negateWordRe.FindAllString(s, -1)
	var kept []string
	for _, w := range words {
		if len(w) > 2 && !stopWords[strings.ToLower(w)] {
			kept = append(kept, w)
		}
		if len(kept) >= 8 {
			break
		}
	}
	return strings.Join(kept, " ")
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "are": true, "was": true, "were": true, "has": true,
	"have": true, "from": true, "into": true, "its": true, "than": true,
}
