package model

import (
	"strings"
	"time"
)

// MaxExcerptLen bounds the stored length of an evidence excerpt. Longer
// excerpts are truncated on ingestion, never rejected.
const MaxExcerptLen = 1000

// Source is one origin of information. Sources are immutable once
// recorded; two sources are the same origin when channel and address
// match exactly.
type Source struct {
	Channel    string    `json:"channel"` // tool or channel identifier
	Address    string    `json:"address"` // URL or equivalent locator
	AccessedAt time.Time `json:"accessed_at"`
}

// SameOrigin reports whether two sources are the same origin.
func (s Source) SameOrigin(other Source) bool {
	return s.Channel == other.Channel && s.Address == other.Address
}

// EvidenceItem is one bounded excerpt drawn from exactly one source,
// attached to one finding, immutable after creation.
type EvidenceItem struct {
	Source     Source   `json:"source"`
	Excerpt    string   `json:"excerpt"`
	Confidence float64  `json:"confidence"`      // raw producer contribution, [0.0, 1.0]
	Cites      []string `json:"cites,omitempty"` // addresses this source cites or derives from
}

// Derived reports whether this item's source cites or derives from the
// given address.
func (e EvidenceItem) Derived(address string) bool {
	for _, c := range e.Cites {
		if c == address {
			return true
		}
	}
	return false
}

// Independent reports whether two evidence items count as independent:
// not the same origin, and neither citing nor deriving from the other.
func Independent(a, b EvidenceItem) bool {
	if a.Source.SameOrigin(b.Source) {
		return false
	}
	if a.Derived(b.Source.Address) || b.Derived(a.Source.Address) {
		return false
	}
	return true
}

// IndependentSourceCount returns the size of the largest set of pairwise
// independent evidence items. The ceilings only care about the 0/1/2+
// distinction, so a greedy pass over the ordered list is sufficient: an
// item joins the set when it is independent of every member.
func IndependentSourceCount(items []EvidenceItem) int {
	var kept []EvidenceItem
	for _, item := range items {
		independent := true
		for _, k := range kept {
			if !Independent(item, k) {
				independent = false
				break
			}
		}
		if independent {
			kept = append(kept, item)
		}
	}
	return len(kept)
}

// BoundExcerpt truncates an excerpt to MaxExcerptLen runes.
func BoundExcerpt(excerpt string) string {
	excerpt = strings.TrimSpace(excerpt)
	runes := []rune(excerpt)
	if len(runes) <= MaxExcerptLen {
		return excerpt
	}
	return string(runes[:MaxExcerptLen])
}
