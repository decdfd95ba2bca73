package model

import "time"

// Tier is the output bucket assigned by the ranker.
type Tier string

const (
	TierMustFix   Tier = "must_fix"
	TierShouldFix Tier = "should_fix"
	TierConsider  Tier = "consider"
	TierDiscarded Tier = "discarded" // audit trail only
)

// RankedFinding is one entry of the consumer output interface: the
// finding plus its score and every cross-reference a presentation layer
// needs to phrase the result.
type RankedFinding struct {
	Finding *Finding `json:"finding"`
	Score   float64  `json:"score"`
	Tier    Tier     `json:"tier"`
	Rank    int      `json:"rank"` // 1-based position within the ranked set
}

// AuditEntry records a finding that left the main output. Discarded
// findings are retained here, never physically deleted.
type AuditEntry struct {
	FindingID string    `json:"finding_id"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Finding   *Finding  `json:"finding"`
	At        time.Time `json:"at"`
}

// Report is the final output of a pipeline run: the four-tier ranked
// list plus the audit trail, which is always exposed alongside it.
type Report struct {
	SessionID      string          `json:"session_id"`
	Subject        string          `json:"subject"`
	GeneratedAt    time.Time       `json:"generated_at"`
	MustFix        []RankedFinding `json:"must_fix"`
	ShouldFix      []RankedFinding `json:"should_fix"`
	Consider       []RankedFinding `json:"consider"`
	Discarded      []AuditEntry    `json:"discarded"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	Headlines      []string        `json:"headlines,omitempty"` // contradiction IDs that must surface top-level
}

// Ranked returns the three reported tiers in order.
func (r *Report) Ranked() []RankedFinding {
	out := make([]RankedFinding, 0, len(r.MustFix)+len(r.ShouldFix)+len(r.Consider))
	out = append(out, r.MustFix...)
	out = append(out, r.ShouldFix...)
	out = append(out, r.Consider...)
	return out
}
