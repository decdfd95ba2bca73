// Package merge deduplicates each cluster down to one representative
// finding and computes its merged confidence.
package merge

import (
	"fmt"
	"log/slog"
	"time"

	"concord/internal/evidence"
	"concord/internal/model"
)

// MergedCap bounds the independence-weighted OR combination: growing
// agreement never reaches certainty.
const MergedCap = 0.99

// Merger collapses clusters to representatives.
type Merger struct {
	store  *evidence.Store
	logger *slog.Logger
}

// NewMerger creates a merger that folds evidence through the given
// append-only store.
func NewMerger(store *evidence.Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, logger: logger}
}

// Merge processes every cluster in place. Within a multi-member cluster
// the representative is the member with the highest confidence, breaking
// ties by most evidence items (specificity) and then by lowest finding
// ID. All other members are marked discarded-but-referenced: their
// evidence is appended to the representative, never dropped, and each
// gets an audit entry so the exposed trail accounts for every input.
func (m *Merger) Merge(findings map[string]*model.Finding, clusters []model.Cluster, now time.Time) ([]model.AuditEntry, error) {
	var audit []model.AuditEntry
	for ci := range clusters {
		c := &clusters[ci]
		if len(c.Members) == 1 {
			f := findings[c.Members[0]]
			c.Representative = f.ID
			f.Status = model.StatusMerged
			continue
		}

		rep := findings[c.Members[0]]
		for _, id := range c.Members[1:] {
			f := findings[id]
			if better(f, rep) {
				rep = f
			}
		}
		c.Representative = rep.ID

		for _, id := range c.Members {
			if id == rep.ID {
				continue
			}
			member := findings[id]
			for _, item := range member.Evidence {
				rep.Evidence = append(rep.Evidence, item)
				if err := m.store.Append(rep.ID, item); err != nil {
					return nil, fmt.Errorf("fold evidence from %s into %s: %w", id, rep.ID, err)
				}
			}
			reason := fmt.Sprintf("merged into representative %s; evidence folded, not dropped", rep.ID)
			member.Status = model.StatusDiscarded
			member.AddNote("merge", "duplicate", reason)
			rep.MergedFrom = append(rep.MergedFrom, id)
			audit = append(audit, model.AuditEntry{
				FindingID: id,
				Stage:     "merge",
				Reason:    reason,
				Finding:   member,
				At:        now,
			})
		}

		before := rep.Confidence
		merged, formula := MergedConfidence(rep.Evidence)
		rep.Confidence = merged
		rep.Status = model.StatusMerged
		rep.AddConfidenceNote("merge", "merged_confidence",
			fmt.Sprintf("confidence %0.3f -> %0.3f over %d members (%s)", before, merged, len(c.Members), formula),
			merged-before)
		m.logger.Debug("cluster merged", "representative", rep.ID, "members", len(c.Members), "confidence", merged)
	}
	return audit, nil
}

// better reports whether a should replace b as representative: higher
// confidence, then more specific evidence, then the lower finding ID.
// The last tie-break is a deliberate deterministic rule; the source
// protocol leaves the equal-confidence, equal-specificity case open.
func better(a, b *model.Finding) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if len(a.Evidence) != len(b.Evidence) {
		return len(a.Evidence) > len(b.Evidence)
	}
	return a.ID < b.ID
}

// MergedConfidence combines evidence contributions. Independent signals
// OR together — 1 - Π(1-c_i), modelling "at least one of N independent
// signals is correct" — capped at MergedCap. The formula must never see
// non-independent evidence: same-origin (or citing/derived) items
// contribute only their single highest confidence.
func MergedConfidence(items []model.EvidenceItem) (float64, string) {
	groups := independenceGroups(items)
	if len(groups) == 0 {
		return 0, "no evidence"
	}

	product := 1.0
	for _, g := range groups {
		best := 0.0
		for _, item := range g {
			if item.Confidence > best {
				best = item.Confidence
			}
		}
		product *= 1 - best
	}
	merged := 1 - product
	if merged > MergedCap {
		merged = MergedCap
	}
	return merged, fmt.Sprintf("1 - prod(1-c_i) over %d independent groups, capped at %0.2f", len(groups), MergedCap)
}

// independenceGroups partitions evidence into groups of mutually
// dependent items: an item joins the first group it is non-independent
// with, so every pair across groups is independent.
func independenceGroups(items []model.EvidenceItem) [][]model.EvidenceItem {
	var groups [][]model.EvidenceItem
	for _, item := range items {
		placed := false
		for gi, g := range groups {
			for _, member := range g {
				if !model.Independent(item, member) {
					groups[gi] = append(groups[gi], item)
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, []model.EvidenceItem{item})
		}
	}
	return groups
}
