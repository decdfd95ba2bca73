// Package rank scores surviving findings and sorts them into report
// tiers. Ranking is deterministic: equal scores break by confidence,
// then by the earlier finding ID.
package rank

import (
	"log/slog"
	"sort"
	"time"

	"concord/internal/model"
)

const (
	// mustFixFloor and shouldFixFloor promote a lower-severity finding
	// whose combined score is high enough to warrant urgency.
	mustFixFloor   = 20.0
	shouldFixFloor = 8.0

	// discardFloor is the confidence below which a finding cannot be
	// ranked at all and lands in the audit trail instead.
	discardFloor = 0.3
)

// Ranker assigns scores and tiers.
type Ranker struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRanker creates a ranker.
func NewRanker(logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{logger: logger, now: time.Now}
}

// Result is the ranked output plus the audit entries for anything
// dropped at this stage.
type Result struct {
	Ranked  []model.RankedFinding
	Dropped []model.AuditEntry
}

// Rank scores every non-discarded finding and assigns tiers. Findings
// below the confidence floor are dropped with an audit entry; nothing
// disappears silently. Top-severity findings are exempt from the floor,
// the same exception the gate applies: they rank however low their
// confidence fell.
func (r *Ranker) Rank(findings []*model.Finding) Result {
	var res Result
	for _, f := range findings {
		if f.Status == model.StatusDiscarded {
			continue
		}
		if f.Confidence < discardFloor && f.Severity != model.SeverityCritical {
			f.Status = model.StatusDiscarded
			res.Dropped = append(res.Dropped, model.AuditEntry{
				FindingID: f.ID,
				Stage:     "rank",
				Reason:    "confidence below ranking floor",
				Finding:   f,
				At:        r.now(),
			})
			r.logger.Info("finding dropped at rank", "id", f.ID, "confidence", f.Confidence)
			continue
		}
		score := Score(f)
		res.Ranked = append(res.Ranked, model.RankedFinding{
			Finding: f,
			Score:   score,
			Tier:    tierFor(f, score),
		})
		f.Status = model.StatusRanked
	}

	sort.Slice(res.Ranked, func(i, j int) bool {
		a, b := res.Ranked[i], res.Ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Finding.Confidence != b.Finding.Confidence {
			return a.Finding.Confidence > b.Finding.Confidence
		}
		return a.Finding.ID < b.Finding.ID
	})
	for i := range res.Ranked {
		res.Ranked[i].Rank = i + 1
	}
	return res
}

// Score is severity weight x confidence x blast-radius multiplier.
func Score(f *model.Finding) float64 {
	return f.Severity.Weight() * f.Confidence * f.Blast.Multiplier()
}

// tierFor maps a finding to its report tier. Critical severity is
// always must-fix; strong scores promote lower severities.
func tierFor(f *model.Finding, score float64) model.Tier {
	switch {
	case f.Severity == model.SeverityCritical || score >= mustFixFloor:
		return model.TierMustFix
	case f.Severity == model.SeverityHigh || score >= shouldFixFloor:
		return model.TierShouldFix
	default:
		return model.TierConsider
	}
}
