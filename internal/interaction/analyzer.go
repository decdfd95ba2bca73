// Package interaction analyzes how high-severity survivors relate —
// conflict, subsumption, or independence — and elevates a pattern that
// recurs across enough distinct locations into one systemic finding.
package interaction

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"concord/internal/model"
)

// Relation classifies a pair of high-severity findings.
type Relation string

const (
	RelationConflict    Relation = "conflict"    // fixing one worsens the other
	RelationSubsumption Relation = "subsumption" // fixing one fixes the other
	RelationIndependent Relation = "independent" // no annotation
)

// Analyzer runs pairwise interaction analysis and elevation.
type Analyzer struct {
	cfg    model.InteractionConfig
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg model.InteractionConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ElevationMinLocations <= 0 {
		cfg.ElevationMinLocations = 3
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Analyze annotates every pair of high-severity surviving findings and
// then elevates recurring patterns. It returns any elevated findings
// created plus audit entries for the originals they fold in, which are
// marked discarded-but-referenced with full traceability.
func (a *Analyzer) Analyze(findings []*model.Finding, now time.Time) ([]*model.Finding, []model.AuditEntry) {
	var high []*model.Finding
	for _, f := range findings {
		if f.Status == model.StatusDiscarded {
			continue
		}
		if f.Severity == model.SeverityCritical || f.Severity == model.SeverityHigh {
			high = append(high, f)
		}
	}

	for i := 0; i < len(high); i++ {
		for j := i + 1; j < len(high); j++ {
			a.annotatePair(high[i], high[j])
		}
	}

	return a.elevate(findings, now)
}

// annotatePair classifies one pair. Independent pairs get no annotation.
func (a *Analyzer) annotatePair(x, y *model.Finding) {
	switch classifyPair(x, y) {
	case RelationConflict:
		x.ConflictsWith = append(x.ConflictsWith, y.ID)
		y.ConflictsWith = append(y.ConflictsWith, x.ID)
		x.AddNote("interaction", "conflict", fmt.Sprintf("fixing this may worsen %s; coordinate the two", y.ID))
		y.AddNote("interaction", "conflict", fmt.Sprintf("fixing this may worsen %s; coordinate the two", x.ID))
		a.logger.Info("interaction conflict", "a", x.ID, "b", y.ID)
	case RelationSubsumption:
		// The broader finding stays; the narrower one is annotated as
		// resolved by it. Broader = shorter locator subject (a directory
		// subsumes a file) or, failing that, more evidence.
		broad, narrow := x, y
		if subsumes(y, x) {
			broad, narrow = y, x
		}
		narrow.ResolvedBy = broad.ID
		narrow.AddNote("interaction", "subsumed", fmt.Sprintf("fixing %s also fixes this; kept for traceability", broad.ID))
		broad.AddNote("interaction", "subsumes", fmt.Sprintf("fixing this also resolves %s", narrow.ID))
		a.logger.Info("interaction subsumption", "broad", broad.ID, "narrow", narrow.ID)
	}
}

// classifyPair applies deterministic structural tests: a conflict needs
// an explicit contradiction link or opposite recommendations on one
// subject; subsumption needs one locator to contain the other with a
// shared pattern or dependency.
func classifyPair(x, y *model.Finding) Relation {
	for _, id := range x.ContradictionIDs {
		for _, other := range y.ContradictionIDs {
			if id == other {
				return RelationConflict
			}
		}
	}
	if subsumes(x, y) || subsumes(y, x) {
		return RelationSubsumption
	}
	return RelationIndependent
}

// subsumes reports whether fixing broad also fixes narrow: the same
// pattern or dependency, with broad's subject a prefix of narrow's.
func subsumes(broad, narrow *model.Finding) bool {
	if broad.ID == narrow.ID {
		return false
	}
	samePattern := broad.Pattern != "" && broad.Pattern == narrow.Pattern
	sameDep := broad.Dependency != "" && broad.Dependency == narrow.Dependency
	if !samePattern && !sameDep {
		return false
	}
	if broad.Locator.Subject == "" || narrow.Locator.Subject == "" {
		return false
	}
	return broad.Locator.Subject != narrow.Locator.Subject &&
		strings.HasPrefix(narrow.Locator.Subject, broad.Locator.Subject)
}

// elevate replaces a pattern recurring in enough distinct locations
// with one finding a severity level higher, listing the originals as
// sub-items. A merged representative stands for every location its
// folded members came from, so recurrence is counted through MergedFrom:
// three same-pattern findings in three files still elevate after the
// merge collapsed them to one. The top severity cannot elevate further
// but still groups.
func (a *Analyzer) elevate(findings []*model.Finding, now time.Time) ([]*model.Finding, []model.AuditEntry) {
	index := make(map[string]*model.Finding, len(findings))
	for _, f := range findings {
		index[f.ID] = f
	}

	byPattern := make(map[string][]*model.Finding)
	var order []string
	for _, f := range findings {
		if f.Status == model.StatusDiscarded || f.Pattern == "" || f.ResolvedBy != "" {
			continue
		}
		if _, seen := byPattern[f.Pattern]; !seen {
			order = append(order, f.Pattern)
		}
		byPattern[f.Pattern] = append(byPattern[f.Pattern], f)
	}

	var (
		elevated []*model.Finding
		audit    []model.AuditEntry
	)
	for _, pattern := range order {
		group := byPattern[pattern]
		locations := distinctSubjects(group, index)
		if len(locations) < a.cfg.ElevationMinLocations {
			continue
		}

		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		top := highestSeverity(group)
		lead := group[0]

		systemic := &model.Finding{
			ID:        lead.ID + "-SYS",
			Namespace: lead.Namespace,
			Seq:       lead.Seq,
			Claim: fmt.Sprintf("systemic: %s (pattern %q recurs in %d locations)",
				lead.Claim, pattern, len(locations)),
			Severity:   top.Elevated(),
			Locator:    model.Locator{Subject: commonPrefix(locations)},
			Pattern:    pattern,
			Confidence: maxConfidence(group),
			Status:     model.StatusMerged,
			Blast:      blastForSpan(len(locations)),
		}
		for _, f := range group {
			// Sub-items reconstruct every original that triggered the
			// elevation, including members a merge already folded in.
			systemic.SubItems = append(systemic.SubItems, f.ID)
			systemic.SubItems = append(systemic.SubItems, f.MergedFrom...)
			systemic.Evidence = append(systemic.Evidence, f.Evidence...)
			for _, b := range f.Bias {
				systemic.AddBias(b)
			}
			reason := fmt.Sprintf("folded into systemic finding %s; pattern recurs in %d locations", systemic.ID, len(locations))
			f.Status = model.StatusDiscarded
			f.AddNote("interaction", "elevated", reason)
			audit = append(audit, model.AuditEntry{
				FindingID: f.ID,
				Stage:     "interaction",
				Reason:    reason,
				Finding:   f,
				At:        now,
			})
		}
		systemic.AddNote("interaction", "elevation",
			fmt.Sprintf("pattern %q recurs in %d distinct locations (%s); severity raised from %s to %s",
				pattern, len(locations), strings.Join(locations, ", "), top, systemic.Severity))
		elevated = append(elevated, systemic)
		a.logger.Info("pattern elevated", "id", systemic.ID, "pattern", pattern,
			"locations", len(locations), "severity", systemic.Severity.String())
	}
	return elevated, audit
}

// distinctSubjects collects the locations a group covers, expanding each
// finding into the locators of the members merged into it.
func distinctSubjects(group []*model.Finding, index map[string]*model.Finding) []string {
	seen := make(map[string]bool)
	var subjects []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			subjects = append(subjects, s)
		}
	}
	for _, f := range group {
		add(f.Locator.Subject)
		for _, id := range f.MergedFrom {
			if m, ok := index[id]; ok {
				add(m.Locator.Subject)
			}
		}
	}
	sort.Strings(subjects)
	return subjects
}

func highestSeverity(group []*model.Finding) model.Severity {
	top := group[0].Severity
	for _, f := range group[1:] {
		if f.Severity < top {
			top = f.Severity
		}
	}
	return top
}

func maxConfidence(group []*model.Finding) float64 {
	best := 0.0
	for _, f := range group {
		if f.Confidence > best {
			best = f.Confidence
		}
	}
	return best
}

// blastForSpan widens the blast radius with the number of affected
// locations.
func blastForSpan(locations int) model.BlastRadius {
	switch {
	case locations >= 8:
		return model.BlastSystemWide
	case locations >= 5:
		return model.BlastCrossModule
	default:
		return model.BlastModule
	}
}

// commonPrefix is the shared path prefix of the affected locations, or
// the first location when nothing is shared.
func commonPrefix(subjects []string) string {
	if len(subjects) == 0 {
		return ""
	}
	prefix := subjects[0]
	for _, s := range subjects[1:] {
		for !strings.HasPrefix(s, prefix) {
			if idx := strings.LastIndex(prefix[:len(prefix)-1], "/"); idx >= 0 {
				prefix = prefix[:idx+1]
			} else {
				return subjects[0]
			}
		}
	}
	return strings.TrimSuffix(prefix, "/")
}
