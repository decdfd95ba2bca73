package gate

import (
	"math"
	"testing"
	"time"

	"concord/internal/logging"
	"concord/internal/model"
)

func item(channel, address string, confidence float64) model.EvidenceItem {
	return model.EvidenceItem{
		Source:     model.Source{Channel: channel, Address: address, AccessedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		Confidence: confidence,
	}
}

func defaultGate() *Gate {
	return NewGate(model.GateConfig{
		ConfirmedThreshold:   0.7,
		UnconfirmedThreshold: 0.3,
		SingleSourceCeiling:  0.6,
	}, logging.Discard())
}

func TestApplyCeilings(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		evidence   []model.EvidenceItem
		want       float64
		clamped    bool
	}{
		{
			name:       "no evidence clamps below the single-source ceiling",
			confidence: 0.9,
			evidence:   nil,
			want:       0.59,
			clamped:    true,
		},
		{
			name:       "one source clamps to the single-source ceiling",
			confidence: 0.85,
			evidence:   []model.EvidenceItem{item("sast", "s://1", 0.85)},
			want:       0.6,
			clamped:    true,
		},
		{
			name:       "two dependent sources still count as one",
			confidence: 0.85,
			evidence: []model.EvidenceItem{
				item("web", "https://e.com/a", 0.8),
				item("web", "https://e.com/a", 0.7),
			},
			want:    0.6,
			clamped: true,
		},
		{
			name:       "two independent sources lift the ceiling",
			confidence: 0.85,
			evidence: []model.EvidenceItem{
				item("sast", "s://1", 0.8),
				item("web", "https://e.com/a", 0.7),
			},
			want:    0.85,
			clamped: false,
		},
		{
			name:       "below the ceiling nothing changes",
			confidence: 0.4,
			evidence:   []model.EvidenceItem{item("sast", "s://1", 0.4)},
			want:       0.4,
			clamped:    false,
		},
	}

	g := defaultGate()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &model.Finding{ID: "x-001", Confidence: tt.confidence, Evidence: tt.evidence}
			clamped, _ := g.ApplyCeilings(f)
			if clamped != tt.clamped {
				t.Errorf("Expected clamped=%v, got %v", tt.clamped, clamped)
			}
			if math.Abs(f.Confidence-tt.want) > 1e-9 {
				t.Errorf("Expected confidence %v, got %v", tt.want, f.Confidence)
			}
			if tt.clamped && len(f.Notes) == 0 {
				t.Error("Expected a ceiling note recording the clamp")
			}
		})
	}
}

func TestFilter_ThreeBands(t *testing.T) {
	two := []model.EvidenceItem{item("sast", "s://1", 0.8), item("web", "https://e.com/a", 0.7)}

	confirmed := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.8, Evidence: two}
	unconfirmed := &model.Finding{ID: "a-002", Severity: model.SeverityHigh, Confidence: 0.5, Evidence: two}
	dropped := &model.Finding{ID: "a-003", Severity: model.SeverityModerate, Confidence: 0.2, Evidence: two}

	g := defaultGate()
	res := g.Filter([]*model.Finding{confirmed, unconfirmed, dropped}, time.Now())

	if len(res.Survivors) != 2 {
		t.Fatalf("Expected 2 survivors, got %d", len(res.Survivors))
	}
	if confirmed.Unconfirmed {
		t.Error("Expected the confirmed finding not to be flagged")
	}
	if !unconfirmed.Unconfirmed {
		t.Error("Expected the mid-band finding to be flagged unconfirmed")
	}
	if len(res.Discarded) != 1 || res.Discarded[0].FindingID != "a-003" {
		t.Fatalf("Expected a-003 in the audit trail, got %+v", res.Discarded)
	}
	if res.Discarded[0].Finding == nil {
		t.Error("Expected the audit entry to retain the full finding")
	}
	if dropped.Status != model.StatusDiscarded {
		t.Errorf("Expected discarded status, got %s", dropped.Status)
	}
}

func TestFilter_CriticalSeverityNeverDiscarded(t *testing.T) {
	f := &model.Finding{ID: "a-001", Severity: model.SeverityCritical, Confidence: 0.1,
		Evidence: []model.EvidenceItem{item("sast", "s://1", 0.1)}}

	g := defaultGate()
	res := g.Filter([]*model.Finding{f}, time.Now())

	if len(res.Survivors) != 1 {
		t.Fatal("Expected the critical finding to survive below the floor")
	}
	if !f.Unconfirmed {
		t.Error("Expected the retained critical finding to be flagged unconfirmed")
	}
	hasException := false
	for _, n := range f.Notes {
		if n.Code == "severity_exception" {
			hasException = true
		}
	}
	if !hasException {
		t.Error("Expected a severity_exception note")
	}
}

func TestFilter_SkipsAlreadyDiscarded(t *testing.T) {
	f := &model.Finding{ID: "a-001", Severity: model.SeverityHigh, Confidence: 0.9, Status: model.StatusDiscarded}

	g := defaultGate()
	res := g.Filter([]*model.Finding{f}, time.Now())
	if len(res.Survivors) != 0 || len(res.Discarded) != 0 {
		t.Errorf("Expected merged-away findings to pass through untouched, got %+v", res)
	}
}
