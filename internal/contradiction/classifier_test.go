package contradiction

import (
	"strings"
	"testing"
	"time"

	"concord/internal/logging"
	"concord/internal/model"
)

func withEvidence(f *model.Finding, channel, address string, accessed time.Time) *model.Finding {
	f.Evidence = append(f.Evidence, model.EvidenceItem{
		Source:     model.Source{Channel: channel, Address: address, AccessedAt: accessed},
		Confidence: f.Confidence,
	})
	return f
}

func TestClassify_FactualContradictionRetainsBothSides(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	a := withEvidence(&model.Finding{
		ID: "sast-001", Claim: "library foo is deprecated for parsing input",
		Locator: model.Locator{Subject: "parser/foo"}, Confidence: 0.8,
	}, "sast", "s://1", t1)
	a = withEvidence(a, "web", "https://e.com/a", t1)
	b := withEvidence(&model.Finding{
		ID: "review-001", Claim: "library foo is current and maintained for parsing input",
		Locator: model.Locator{Subject: "parser/foo"}, Confidence: 0.75,
	}, "review", "r://1", t1)

	c := NewClassifier(logging.Discard())
	out := c.Classify([]*model.Finding{a, b}, "", 0.7)

	if len(out) != 1 {
		t.Fatalf("Expected 1 contradiction, got %d", len(out))
	}
	ct := out[0]
	if ct.Type != model.ContradictionFactual {
		t.Errorf("Expected factual, got %s", ct.Type)
	}
	if ct.Resolution != model.ResolutionBothRetained {
		t.Errorf("Expected both_retained, got %s", ct.Resolution)
	}
	// The stronger side is named with its justification, never a vote.
	if !strings.Contains(ct.Assessment, "independent sources") {
		t.Errorf("Expected the assessment to cite independent-source counts, got %q", ct.Assessment)
	}
	if a.Status == model.StatusDiscarded || b.Status == model.StatusDiscarded {
		t.Error("Contradiction handling must never discard a side")
	}
	if len(a.ContradictionIDs) != 1 || a.ContradictionIDs[0] != ct.ID {
		t.Errorf("Expected cross-reference on finding a, got %v", a.ContradictionIDs)
	}
}

func TestClassify_TemporalMarksOlderClaimSuperseded(t *testing.T) {
	older := withEvidence(&model.Finding{
		ID: "a-001", Claim: "endpoint is safe as of version 1.2",
		Locator: model.Locator{Subject: "api/login"}, Confidence: 0.8,
	}, "web", "https://e.com/old", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	newer := withEvidence(&model.Finding{
		ID: "b-001", Claim: "endpoint is unsafe since version 2.0",
		Locator: model.Locator{Subject: "api/login"}, Confidence: 0.8,
	}, "web", "https://e.com/new", time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC))

	c := NewClassifier(logging.Discard())
	out := c.Classify([]*model.Finding{older, newer}, "", 0.7)

	if len(out) != 1 {
		t.Fatalf("Expected 1 contradiction, got %d", len(out))
	}
	ct := out[0]
	if ct.Type != model.ContradictionTemporal {
		t.Fatalf("Expected temporal, got %s", ct.Type)
	}
	if ct.Resolution != model.ResolutionSuperseded {
		t.Errorf("Expected superseded resolution, got %s", ct.Resolution)
	}
	if ct.Superseded != "a-001" {
		t.Errorf("Expected the older claim a-001 marked superseded, got %s", ct.Superseded)
	}
	if older.Status == model.StatusDiscarded {
		t.Error("Superseded claims stay in the record")
	}
}

func TestClassify_ScopeSplitRecordsConditions(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	a := withEvidence(&model.Finding{
		ID: "a-001", Claim: "connection pooling is required when deployed on the production cluster",
		Locator: model.Locator{Subject: "deploy/cluster.yaml"}, Confidence: 0.8,
	}, "review", "r://1", t1)
	b := withEvidence(&model.Finding{
		ID: "b-001", Claim: "connection pooling is not required when deployed on the local machine",
		Locator: model.Locator{Subject: "deploy/local.yaml"}, Confidence: 0.8,
	}, "review", "r://2", t1)

	c := NewClassifier(logging.Discard())
	out := c.Classify([]*model.Finding{a, b}, "", 0.7)

	if len(out) != 1 {
		t.Fatalf("Expected 1 contradiction, got %d", len(out))
	}
	ct := out[0]
	if ct.Type != model.ContradictionScope {
		t.Fatalf("Expected scope, got %s", ct.Type)
	}
	if ct.Resolution != model.ResolutionContextDependent {
		t.Errorf("Expected context_dependent, got %s", ct.Resolution)
	}
	if ct.Conditions == "" {
		t.Error("Expected explicit boundary conditions")
	}
}

func TestClassify_QuantitativeDisagreement(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	a := withEvidence(&model.Finding{
		ID: "a-001", Claim: "handler allocates 120 MB per request under load",
		Locator: model.Locator{Subject: "server/handler.go"}, Confidence: 0.7,
	}, "profiler", "p://1", t1)
	b := withEvidence(&model.Finding{
		ID: "b-001", Claim: "handler allocates 40 MB per request under load",
		Locator: model.Locator{Subject: "server/handler.go"}, Confidence: 0.7,
	}, "profiler", "p://2", t1)

	c := NewClassifier(logging.Discard())
	out := c.Classify([]*model.Finding{a, b}, "", 0.7)

	if len(out) != 1 {
		t.Fatalf("Expected the 3x quantity gap to register, got %d contradictions", len(out))
	}
}

func TestClassify_NoTriggerNoContradiction(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	a := withEvidence(&model.Finding{
		ID: "a-001", Claim: "missing rate limiting on the login endpoint",
		Locator: model.Locator{Subject: "api/login"}, Confidence: 0.7,
	}, "sast", "s://1", t1)
	b := withEvidence(&model.Finding{
		ID: "b-001", Claim: "credentials logged in plaintext on the login endpoint",
		Locator: model.Locator{Subject: "api/login"}, Confidence: 0.7,
	}, "review", "r://1", t1)

	c := NewClassifier(logging.Discard())
	if out := c.Classify([]*model.Finding{a, b}, "", 0.7); len(out) != 0 {
		t.Errorf("Two compatible findings on one subject are not a contradiction, got %+v", out)
	}
}

func TestClassify_HeadlineOnCentralSubject(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	a := withEvidence(&model.Finding{
		ID: "a-001", Claim: "auth middleware is secure against replay",
		Locator: model.Locator{Subject: "auth/middleware.go"}, Confidence: 0.85,
	}, "sast", "s://1", t1)
	b := withEvidence(&model.Finding{
		ID: "b-001", Claim: "auth middleware is insecure against replay",
		Locator: model.Locator{Subject: "auth/middleware.go"}, Confidence: 0.8,
	}, "review", "r://1", t1)

	c := NewClassifier(logging.Discard())
	out := c.Classify([]*model.Finding{a, b}, "auth", 0.7)

	if len(out) != 1 {
		t.Fatalf("Expected 1 contradiction, got %d", len(out))
	}
	if !out[0].Headline {
		t.Error("Expected a headline flag: two confirmed findings contradict on the central subject")
	}

	// Same pair off-topic must not be headline.
	a.ContradictionIDs = nil
	b.ContradictionIDs = nil
	out = NewClassifier(logging.Discard()).Classify([]*model.Finding{a, b}, "billing", 0.7)
	if len(out) != 1 || out[0].Headline {
		t.Error("Expected no headline flag when the subject is not central")
	}
}
