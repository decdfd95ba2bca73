package interaction

import (
	"strings"
	"testing"
	"time"

	"concord/internal/logging"
	"concord/internal/model"
)

func newAnalyzer() *Analyzer {
	return NewAnalyzer(model.InteractionConfig{ElevationMinLocations: 3}, logging.Discard())
}

func TestAnalyze_ConflictAnnotatedBothWays(t *testing.T) {
	a := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.8,
		Locator: model.Locator{Subject: "api/auth.go"}, ContradictionIDs: []string{"CT-001"}}
	b := &model.Finding{ID: "b-001", Severity: model.SeverityHigh, Confidence: 0.8,
		Locator: model.Locator{Subject: "api/auth.go"}, ContradictionIDs: []string{"CT-001"}}

	newAnalyzer().Analyze([]*model.Finding{a, b}, time.Now())

	if len(a.ConflictsWith) != 1 || a.ConflictsWith[0] != "b-001" {
		t.Errorf("Expected a-001 to conflict with b-001, got %v", a.ConflictsWith)
	}
	if len(b.ConflictsWith) != 1 || b.ConflictsWith[0] != "a-001" {
		t.Errorf("Expected the annotation on both sides, got %v", b.ConflictsWith)
	}
}

func TestAnalyze_SubsumptionKeepsNarrowForTraceability(t *testing.T) {
	broad := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.8,
		Pattern: "sql-injection", Locator: model.Locator{Subject: "api/"}}
	narrow := &model.Finding{ID: "b-001", Severity: model.SeverityHigh, Confidence: 0.7,
		Pattern: "sql-injection", Locator: model.Locator{Subject: "api/users.go"}}

	newAnalyzer().Analyze([]*model.Finding{broad, narrow}, time.Now())

	if narrow.ResolvedBy != "a-001" {
		t.Errorf("Expected the narrow finding resolved by the broad one, got %q", narrow.ResolvedBy)
	}
	if narrow.Status == model.StatusDiscarded {
		t.Error("Subsumed findings stay in the record")
	}
}

func TestAnalyze_IndependentPairsGetNoAnnotation(t *testing.T) {
	a := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.8,
		Locator: model.Locator{Subject: "api/auth.go"}}
	b := &model.Finding{ID: "b-001", Severity: model.SeverityHigh, Confidence: 0.8,
		Locator: model.Locator{Subject: "store/db.go"}}

	newAnalyzer().Analyze([]*model.Finding{a, b}, time.Now())

	if len(a.ConflictsWith) != 0 || a.ResolvedBy != "" || len(a.Notes) != 0 {
		t.Errorf("Expected no annotation on independent findings, got %+v", a)
	}
}

func TestAnalyze_ElevationProducesSystemicFinding(t *testing.T) {
	group := []*model.Finding{
		{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.7, Claim: "unvalidated input in create handler",
			Pattern: "unvalidated-input", Locator: model.Locator{Subject: "api/create.go", Line: 10}},
		{ID: "a-002", Severity: model.SeverityHigh, Confidence: 0.8, Claim: "unvalidated input in update handler",
			Pattern: "unvalidated-input", Locator: model.Locator{Subject: "api/update.go", Line: 20}},
		{ID: "b-001", Severity: model.SeverityModerate, Confidence: 0.6, Claim: "unvalidated input in delete handler",
			Pattern: "unvalidated-input", Locator: model.Locator{Subject: "api/delete.go", Line: 30}},
	}

	elevated, audit := newAnalyzer().Analyze(group, time.Now())

	if len(elevated) != 1 {
		t.Fatalf("Expected one systemic finding, got %d", len(elevated))
	}
	sys := elevated[0]
	if sys.Severity != model.SeverityCritical {
		t.Errorf("Expected one severity above the group's highest (P1 -> P0), got %s", sys.Severity)
	}
	if len(sys.SubItems) != 3 {
		t.Fatalf("Expected all three originals as sub-items, got %v", sys.SubItems)
	}
	for _, f := range group {
		if f.Status != model.StatusDiscarded {
			t.Errorf("Expected original %s folded into the systemic finding", f.ID)
		}
		noted := false
		for _, n := range f.Notes {
			if n.Code == "elevated" && strings.Contains(n.Detail, sys.ID) {
				noted = true
			}
		}
		if !noted {
			t.Errorf("Expected %s to reference the systemic finding", f.ID)
		}
	}
	if sys.Confidence != 0.8 {
		t.Errorf("Expected the group's best confidence, got %v", sys.Confidence)
	}
	if sys.Blast == model.BlastSingleLocation {
		t.Error("Expected a widened blast radius")
	}
	if len(audit) != 3 {
		t.Fatalf("Expected an audit entry for each folded original, got %d", len(audit))
	}
	for _, e := range audit {
		if e.Stage != "interaction" || !strings.Contains(e.Reason, sys.ID) {
			t.Errorf("Expected the entry for %s to point at the systemic finding, got %+v", e.FindingID, e)
		}
	}
}

func TestAnalyze_ElevationCountsLocationsThroughMerge(t *testing.T) {
	// The merge stage collapsed three same-pattern findings to one
	// representative; the folded members still count as locations.
	rep := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.9,
		Claim: "unvalidated input in create handler", Pattern: "unvalidated-input",
		Locator:    model.Locator{Subject: "api/create.go", Line: 10},
		MergedFrom: []string{"a-002", "a-003"}}
	folded := []*model.Finding{
		{ID: "a-002", Status: model.StatusDiscarded, Severity: model.SeverityHigh,
			Pattern: "unvalidated-input", Locator: model.Locator{Subject: "api/update.go", Line: 20}},
		{ID: "a-003", Status: model.StatusDiscarded, Severity: model.SeverityHigh,
			Pattern: "unvalidated-input", Locator: model.Locator{Subject: "api/delete.go", Line: 30}},
	}

	elevated, _ := newAnalyzer().Analyze(append([]*model.Finding{rep}, folded...), time.Now())

	if len(elevated) != 1 {
		t.Fatalf("Expected one systemic finding from the merged representative, got %d", len(elevated))
	}
	sys := elevated[0]
	if sys.Severity != model.SeverityCritical {
		t.Errorf("Expected elevation one tier above the representative, got %s", sys.Severity)
	}
	if len(sys.SubItems) != 3 {
		t.Errorf("Expected the representative and its merged members as sub-items, got %v", sys.SubItems)
	}
}

func TestAnalyze_TopSeverityCannotElevateFurther(t *testing.T) {
	group := []*model.Finding{
		{ID: "a-001", Severity: model.SeverityCritical, Confidence: 0.7, Claim: "secret in repo",
			Pattern: "hardcoded-secret", Locator: model.Locator{Subject: "cfg/a.yaml"}},
		{ID: "a-002", Severity: model.SeverityCritical, Confidence: 0.7, Claim: "secret in repo",
			Pattern: "hardcoded-secret", Locator: model.Locator{Subject: "cfg/b.yaml"}},
		{ID: "a-003", Severity: model.SeverityCritical, Confidence: 0.7, Claim: "secret in repo",
			Pattern: "hardcoded-secret", Locator: model.Locator{Subject: "cfg/c.yaml"}},
	}

	elevated, _ := newAnalyzer().Analyze(group, time.Now())

	if len(elevated) != 1 {
		t.Fatalf("Expected grouping even at the top severity, got %d", len(elevated))
	}
	if elevated[0].Severity != model.SeverityCritical {
		t.Errorf("Expected the severity capped at the top tier, got %s", elevated[0].Severity)
	}
}

func TestAnalyze_TooFewLocationsNoElevation(t *testing.T) {
	group := []*model.Finding{
		{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.7, Claim: "x",
			Pattern: "p", Locator: model.Locator{Subject: "a.go"}},
		{ID: "a-002", Severity: model.SeverityHigh, Confidence: 0.7, Claim: "x",
			Pattern: "p", Locator: model.Locator{Subject: "b.go"}},
	}

	if elevated, _ := newAnalyzer().Analyze(group, time.Now()); len(elevated) != 0 {
		t.Errorf("Expected no elevation below the location threshold, got %d", len(elevated))
	}
	for _, f := range group {
		if f.Status == model.StatusDiscarded {
			t.Errorf("Expected %s untouched", f.ID)
		}
	}
}
