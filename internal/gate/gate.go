// Package gate filters merged findings by confidence, with a severity
// exception, and owns the evidentiary ceilings that every later
// adjustment must be re-clamped against.
package gate

import (
	"fmt"
	"log/slog"
	"time"

	"concord/internal/model"
)

// zeroSourceMargin keeps the zero-independent-source ceiling strictly
// below the single-source ceiling: the invariant is "never reported at
// confidence >= 0.6 without an independent source", a strict bound, so
// the ceiling must stay under SingleSourceCeiling whatever that is
// configured to.
const zeroSourceMargin = 0.01

// Gate applies the three-way confidence filter.
type Gate struct {
	cfg    model.GateConfig
	logger *slog.Logger
}

// NewGate creates a gate with the given thresholds.
func NewGate(cfg model.GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmedThreshold == 0 {
		cfg.ConfirmedThreshold = 0.7
	}
	if cfg.UnconfirmedThreshold == 0 {
		cfg.UnconfirmedThreshold = 0.3
	}
	if cfg.SingleSourceCeiling == 0 {
		cfg.SingleSourceCeiling = 0.6
	}
	return &Gate{cfg: cfg, logger: logger}
}

// ApplyCeilings clamps a finding's confidence to its evidentiary
// ceiling. These are hard ceilings, applied after any score adjustment:
// zero independent sources can never report at or above the confirmed
// band, and the confirmed band requires two or more independent sources.
// Returns a reason when a clamp happened.
func (g *Gate) ApplyCeilings(f *model.Finding) (clamped bool, reason string) {
	independent := model.IndependentSourceCount(f.Evidence)

	ceiling := 1.0
	switch {
	case independent == 0:
		ceiling = g.cfg.SingleSourceCeiling - zeroSourceMargin
		reason = "no independent supporting sources"
	case independent == 1:
		ceiling = g.cfg.SingleSourceCeiling
		reason = fmt.Sprintf("only one independent source; confidence >= %0.2f requires two", g.cfg.ConfirmedThreshold)
	}

	if f.Confidence > ceiling {
		before := f.Confidence
		f.Confidence = ceiling
		f.AddConfidenceNote("gate", "ceiling_clamp",
			fmt.Sprintf("confidence %0.3f clamped to %0.3f: %s", before, ceiling, reason),
			ceiling-before)
		return true, reason
	}
	return false, ""
}

// Result separates survivors from discards.
type Result struct {
	Survivors []*model.Finding
	Discarded []model.AuditEntry
}

// Filter applies the gate to merged findings. Thresholds:
//   - confidence >= confirmed: reported at full confidence only with two
//     or more independent sources, otherwise clamped down;
//   - [unconfirmed, confirmed): reported, flagged "unconfirmed";
//   - below unconfirmed: discarded to the audit trail — except the top
//     severity tier, which is always retained. Dropping a critical
//     finding silently costs more than a false positive.
func (g *Gate) Filter(findings []*model.Finding, now time.Time) Result {
	var res Result
	for _, f := range findings {
		if f.Status == model.StatusDiscarded {
			continue
		}

		g.ApplyCeilings(f)

		switch {
		case f.Confidence >= g.cfg.ConfirmedThreshold:
			f.Unconfirmed = false
			res.Survivors = append(res.Survivors, f)

		case f.Confidence >= g.cfg.UnconfirmedThreshold:
			f.Unconfirmed = true
			f.AddNote("gate", "unconfirmed",
				fmt.Sprintf("confidence %0.3f below the confirmed threshold %0.2f; reported as unconfirmed", f.Confidence, g.cfg.ConfirmedThreshold))
			res.Survivors = append(res.Survivors, f)

		default:
			if f.Severity == model.SeverityCritical {
				f.Unconfirmed = true
				f.AddNote("gate", "severity_exception",
					fmt.Sprintf("confidence %0.3f below the floor %0.2f but severity %s is always retained", f.Confidence, g.cfg.UnconfirmedThreshold, f.Severity))
				res.Survivors = append(res.Survivors, f)
				continue
			}
			reason := fmt.Sprintf("confidence %0.3f below the %0.2f floor", f.Confidence, g.cfg.UnconfirmedThreshold)
			f.Status = model.StatusDiscarded
			f.AddNote("gate", "discarded", reason)
			res.Discarded = append(res.Discarded, model.AuditEntry{
				FindingID: f.ID,
				Stage:     "gate",
				Reason:    reason,
				Finding:   f,
				At:        now,
			})
			g.logger.Info("finding discarded", "id", f.ID, "reason", reason)
		}
	}
	return res
}
