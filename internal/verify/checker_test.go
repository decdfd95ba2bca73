package verify

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"concord/internal/gate"
	"concord/internal/logging"
	"concord/internal/model"
)

// fakeFetcher serves canned bodies by URL.
type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	body, ok := f.pages[rawURL]
	if !ok {
		return "", fmt.Errorf("fetch %s: connection refused", rawURL)
	}
	return body, nil
}

// fakeSearcher returns one canned result page for every query.
type fakeSearcher struct {
	channels []string
	body     string
	err      error
	queries  []string
}

func (s *fakeSearcher) Search(ctx context.Context, channel, query string) (string, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return "", s.err
	}
	return s.body, nil
}

func (s *fakeSearcher) Channels() []string { return s.channels }

func testConfig() model.VerifyConfig {
	return model.VerifyConfig{
		ComplexityThreshold: 3.0,
		CounterQueries:      2,
		MaxConcurrent:       2,
		QueryTimeout:        time.Second,
		SkipCitations:       true,
	}
}

func testGate() *gate.Gate {
	return gate.NewGate(model.GateConfig{
		ConfirmedThreshold:   0.7,
		UnconfirmedThreshold: 0.3,
		SingleSourceCeiling:  0.6,
	}, logging.Discard())
}

func twoSourceFinding(id string, confidence float64) *model.Finding {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	return &model.Finding{
		ID: id, Claim: "library foo is deprecated and unmaintained",
		Severity: model.SeverityCritical, Confidence: confidence,
		Evidence: []model.EvidenceItem{
			{Source: model.Source{Channel: "sast", Address: "s://1", AccessedAt: t1}, Confidence: confidence},
			{Source: model.Source{Channel: "review", Address: "r://1", AccessedAt: t1}, Confidence: confidence},
		},
	}
}

func TestRun_NoEvidenceIsHallucinated(t *testing.T) {
	f := &model.Finding{ID: "a-001", Claim: "made up issue", Severity: model.SeverityCritical, Confidence: 0.9}

	c := NewChecker(testConfig(), nil, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if f.Confidence != 0 {
		t.Errorf("Expected hallucinated claim zeroed, got %v", f.Confidence)
	}
	if !f.HasBias(model.BiasOverconfidentMatch) {
		t.Error("Expected the overconfident_pattern_match marker")
	}
	found := false
	for _, n := range f.Notes {
		if n.Code == string(VerdictHallucinated) {
			found = true
		}
	}
	if !found {
		t.Error("Expected a HALLUCINATED note")
	}
}

func TestRun_SurvivesBonusThenCeiling(t *testing.T) {
	// Two independent sources, so the ceiling allows the bonus.
	f := twoSourceFinding("a-001", 0.8)
	searcher := &fakeSearcher{channels: []string{"web"}, body: "nothing about any of that here"}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if math.Abs(f.Confidence-0.85) > 1e-9 {
		t.Errorf("Expected 0.8 + 0.05 survives bonus, got %v", f.Confidence)
	}
	if len(searcher.queries) < 2 {
		t.Errorf("Expected at least 2 counter-queries, got %d", len(searcher.queries))
	}
}

func TestRun_BonusNeverExceedsCeiling(t *testing.T) {
	// One source only: SURVIVES would push 0.58 to 0.63, above the
	// single-source ceiling. The re-applied clamp wins.
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	f := &model.Finding{
		ID: "a-001", Claim: "library foo is deprecated", Severity: model.SeverityCritical, Confidence: 0.58,
		Evidence: []model.EvidenceItem{
			{Source: model.Source{Channel: "sast", Address: "s://1", AccessedAt: t1}, Confidence: 0.58},
		},
	}
	searcher := &fakeSearcher{channels: []string{"web"}, body: "unrelated page"}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if math.Abs(f.Confidence-0.6) > 1e-9 {
		t.Errorf("Expected the ceiling to clamp the bonus back to 0.6, got %v", f.Confidence)
	}
}

func TestRun_DirectRefutationDisproves(t *testing.T) {
	f := twoSourceFinding("a-001", 0.8)
	// The result page covers the claim terms and asserts the opposite.
	searcher := &fakeSearcher{channels: []string{"web"},
		body: "library foo is current and actively maintained, not deprecated or unmaintained"}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if f.Confidence != 0 {
		t.Errorf("Expected DISPROVEN to zero the confidence, got %v", f.Confidence)
	}
}

func TestRun_SearchFailureCountsTowardSurvives(t *testing.T) {
	f := twoSourceFinding("a-001", 0.8)
	searcher := &fakeSearcher{channels: []string{"web"}, err: context.DeadlineExceeded}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if math.Abs(f.Confidence-0.85) > 1e-9 {
		t.Errorf("Expected timeouts to count as no counter-evidence (SURVIVES), got %v", f.Confidence)
	}
}

func TestRun_NoDistinctChannelSurvivesWithNote(t *testing.T) {
	f := twoSourceFinding("a-001", 0.8)
	// Only channels matching the original evidence are configured.
	searcher := &fakeSearcher{channels: []string{"sast", "review"}}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if math.Abs(f.Confidence-0.85) > 1e-9 {
		t.Errorf("Expected SURVIVES when no distinct channel exists, got %v", f.Confidence)
	}
	noted := false
	for _, n := range f.Notes {
		if strings.Contains(n.Detail, "no search channel distinct") {
			noted = true
		}
	}
	if !noted {
		t.Error("Expected a note explaining the missing counter-channel")
	}
}

func TestRun_BelowComplexityThresholdSkipsCounterSearch(t *testing.T) {
	f := twoSourceFinding("a-001", 0.8)
	f.Severity = model.SeverityModerate // weight 3: 3*0.8 = 2.4 < 3.0
	searcher := &fakeSearcher{channels: []string{"web"}, body: "whatever"}

	c := NewChecker(testConfig(), searcher, nil, nil, testGate(), logging.Discard())
	c.Run(context.Background(), []*model.Finding{f})

	if len(searcher.queries) != 0 {
		t.Errorf("Expected no counter-queries below the threshold, got %d", len(searcher.queries))
	}
	if f.Confidence != 0.8 {
		t.Errorf("Expected untouched confidence, got %v", f.Confidence)
	}
}

func TestCitationChecks(t *testing.T) {
	t1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.SkipCitations = false

	newFinding := func(address, excerpt string) *model.Finding {
		return &model.Finding{
			ID: "a-001", Claim: "handler leaks goroutines", Severity: model.SeverityCritical, Confidence: 0.8,
			Evidence: []model.EvidenceItem{
				{Source: model.Source{Channel: "web", Address: address, AccessedAt: t1}, Excerpt: excerpt, Confidence: 0.8},
				{Source: model.Source{Channel: "sast", Address: "", AccessedAt: t1}, Confidence: 0.8},
			},
		}
	}
	pages := map[string]string{
		"https://e.com/exact":  "<html><body>the handler leaks goroutines on every request</body></html>",
		"https://e.com/approx": "handler occasionally leaks some goroutines over time on request paths",
	}

	t.Run("verified excerpt unchanged", func(t *testing.T) {
		f := newFinding("https://e.com/exact", "handler leaks goroutines on every request")
		c := NewChecker(cfg, nil, &fakeFetcher{pages: pages}, nil, testGate(), logging.Discard())
		c.Run(context.Background(), []*model.Finding{f})
		if f.Confidence != 0.8 {
			t.Errorf("Expected unchanged confidence, got %v", f.Confidence)
		}
	})

	t.Run("approximate costs 0.05", func(t *testing.T) {
		f := newFinding("https://e.com/approx", "handler leaks goroutines on request paths")
		c := NewChecker(cfg, nil, &fakeFetcher{pages: pages}, nil, testGate(), logging.Discard())
		c.Run(context.Background(), []*model.Finding{f})
		if math.Abs(f.Confidence-0.75) > 1e-9 {
			t.Errorf("Expected 0.75 after the approximate penalty, got %v", f.Confidence)
		}
	})

	t.Run("mismatch disproves", func(t *testing.T) {
		f := newFinding("https://e.com/exact", "completely different text that appears nowhere")
		// A second, intact anchor keeps it from the hallucinated path.
		f.Evidence = append(f.Evidence, model.EvidenceItem{
			Source:  model.Source{Channel: "docs", Address: "https://e.com/approx", AccessedAt: t1},
			Excerpt: "handler occasionally leaks some goroutines", Confidence: 0.8,
		})
		c := NewChecker(cfg, nil, &fakeFetcher{pages: pages}, nil, testGate(), logging.Discard())
		c.Run(context.Background(), []*model.Finding{f})
		if f.Confidence != 0 {
			t.Errorf("Expected a mismatched anchor to disprove, got %v", f.Confidence)
		}
	})

	t.Run("unreachable is noted not punished", func(t *testing.T) {
		f := newFinding("https://e.com/gone", "some excerpt")
		c := NewChecker(cfg, nil, &fakeFetcher{pages: pages}, nil, testGate(), logging.Discard())
		c.Run(context.Background(), []*model.Finding{f})
		if f.Confidence != 0.8 {
			t.Errorf("Expected unreachable anchors to leave confidence unchanged, got %v", f.Confidence)
		}
		noted := false
		for _, n := range f.Notes {
			if n.Code == "citation_unverifiable" {
				noted = true
			}
		}
		if !noted {
			t.Error("Expected a citation_unverifiable note")
		}
	})

	t.Run("all anchors mismatching is hallucinated", func(t *testing.T) {
		f := newFinding("https://e.com/exact", "completely different text that appears nowhere")
		c := NewChecker(cfg, nil, &fakeFetcher{pages: pages}, nil, testGate(), logging.Discard())
		c.Run(context.Background(), []*model.Finding{f})
		if f.Confidence != 0 {
			t.Errorf("Expected zeroed confidence, got %v", f.Confidence)
		}
		if !f.HasBias(model.BiasOverconfidentMatch) {
			t.Error("Expected the overconfident_pattern_match marker when every anchor fails")
		}
	})
}
