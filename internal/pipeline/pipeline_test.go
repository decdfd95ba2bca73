package pipeline

import (
	"context"
	"testing"

	"concord/internal/ingest"
	"concord/internal/logging"
	"concord/internal/model"
	"concord/internal/session"
)

func testInputs() map[string][]ingest.RawRecord {
	return map[string][]ingest.RawRecord{
		"sast": {
			{Claim: "SQL injection in the login handler", Severity: "P0",
				Locator: "api/login.go:45", Pattern: "sql-injection",
				Channel: "sast", Address: "sast://rule/sqli", AccessedAt: "2026-07-01T10:00:00Z",
				Excerpt: "query built by string concatenation", Confidence: 0.8},
			{Claim: "string concatenation builds the login query", Severity: "P1",
				Locator: "api/login.go:48",
				Channel: "sast", Address: "sast://rule/concat", AccessedAt: "2026-07-01T10:00:00Z",
				Excerpt: "fmt.Sprintf into Exec", Confidence: 0.6},
			{Claim: "weak hash for session tokens", Severity: "P2",
				Locator: "api/token.go:12",
				Channel: "sast", Address: "sast://rule/hash", AccessedAt: "2026-07-01T10:00:00Z",
				Excerpt: "md5.Sum(token)", Confidence: 0.2},
		},
		"review": {
			{Claim: "login handler interpolates user input into SQL", Severity: "P0",
				Locator: "api/login.go:46",
				Channel: "review", Address: "review://note/12", AccessedAt: "2026-07-02T10:00:00Z",
				Excerpt: "user input reaches the query text", Confidence: 0.7},
		},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *session.Store) {
	t.Helper()
	store, err := session.Open(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := model.DefaultConfig()
	// No fetcher, searcher, or provider: verification degrades to the
	// offline path, which is what these tests exercise.
	return New(*cfg, store, nil, nil, nil, logging.Discard()), store
}

func TestRun_EndToEnd(t *testing.T) {
	p, store := newTestPipeline(t)

	report, sess, err := p.Run(context.Background(), "api", testInputs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report == nil {
		t.Fatal("Expected a report")
	}
	if report.SessionID != sess.ID {
		t.Errorf("Report session %s does not match %s", report.SessionID, sess.ID)
	}

	got, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if got.Status != session.StatusComplete {
		t.Errorf("Expected complete, got %s", got.Status)
	}
	if got.Stage != StageRank {
		t.Errorf("Expected the final stage checkpointed, got %d", got.Stage)
	}

	// The three login findings merge to one representative.
	var loginRanked *model.RankedFinding
	for _, rf := range report.Ranked() {
		if rf.Finding.Locator.Subject == "api/login.go" {
			if loginRanked != nil {
				t.Errorf("Expected one merged login finding, also got %s", rf.Finding.ID)
			}
			cp := rf
			loginRanked = &cp
		}
	}
	if loginRanked == nil {
		t.Fatal("Expected the merged login finding in the report")
	}
	if len(loginRanked.Finding.MergedFrom) != 2 {
		t.Errorf("Expected two members folded in, got %v", loginRanked.Finding.MergedFrom)
	}

	// The low-confidence hash finding lands in the audit trail.
	foundAudit := false
	for _, e := range report.Discarded {
		if e.Finding != nil && e.Finding.Locator.Subject == "api/token.go" {
			foundAudit = true
		}
	}
	if !foundAudit {
		t.Error("Expected the weak-hash finding in the audit trail, not silently gone")
	}
}

func TestRun_NothingDisappearsSilently(t *testing.T) {
	p, _ := newTestPipeline(t)

	report, _, err := p.Run(context.Background(), "api", testInputs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Every input finding ID lands in exactly one of the ranked output
	// and the audit trail: never both, never neither.
	ranked := make(map[string]bool)
	for _, rf := range report.Ranked() {
		ranked[rf.Finding.ID] = true
	}
	audited := make(map[string]bool)
	for _, e := range report.Discarded {
		audited[e.FindingID] = true
	}

	for _, id := range []string{"sast-001", "sast-002", "sast-003", "review-001"} {
		switch {
		case ranked[id] && audited[id]:
			t.Errorf("Finding %s is both ranked and in the audit trail", id)
		case !ranked[id] && !audited[id]:
			t.Errorf("Finding %s disappeared without a trace", id)
		}
	}
}

func TestRun_CriticalBelowRankFloorStillRanks(t *testing.T) {
	p, _ := newTestPipeline(t)

	inputs := map[string][]ingest.RawRecord{
		"sast": {
			{Claim: "hardcoded credential in the deploy script", Severity: "P0",
				Locator: "deploy/run.sh:3", Pattern: "hardcoded-secret",
				Channel: "sast", Address: "sast://rule/secret", AccessedAt: "2026-07-01T10:00:00Z",
				Excerpt: "PASSWORD=hunter2", Confidence: 0.2},
		},
	}

	report, _, err := p.Run(context.Background(), "deploy", inputs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, rf := range report.MustFix {
		if rf.Finding.ID == "sast-001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected the low-confidence critical finding ranked must-fix, got must_fix=%d discarded=%d",
			len(report.MustFix), len(report.Discarded))
	}
	for _, e := range report.Discarded {
		if e.FindingID == "sast-001" {
			t.Errorf("Expected no audit entry for a ranked finding, got stage %q: %s", e.Stage, e.Reason)
		}
	}
}

func TestRun_RecurringPatternElevatesAfterMerge(t *testing.T) {
	p, _ := newTestPipeline(t)

	record := func(loc, excerpt string) ingest.RawRecord {
		return ingest.RawRecord{Claim: "unvalidated input reaches the query", Severity: "P1",
			Locator: loc, Pattern: "unvalidated-input",
			Channel: "review", Address: "review://note/" + loc, AccessedAt: "2026-07-02T10:00:00Z",
			Excerpt: excerpt, Confidence: 0.8}
	}
	inputs := map[string][]ingest.RawRecord{
		"review": {
			record("api/a.go:10", "r.FormValue into Exec"),
			record("api/b.go:20", "r.URL.Query into Exec"),
			record("api/c.go:30", "r.Body into Exec"),
		},
	}

	report, _, err := p.Run(context.Background(), "api", inputs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	all := report.Ranked()
	if len(all) != 1 {
		t.Fatalf("Expected the recurring pattern collapsed to one systemic finding, got %d ranked", len(all))
	}
	sys := all[0].Finding
	if sys.ID != "review-001-SYS" {
		t.Errorf("Expected the systemic finding ranked, got %s", sys.ID)
	}
	if sys.Severity != model.SeverityCritical {
		t.Errorf("Expected the severity raised one tier above P1, got %s", sys.Severity)
	}
	if len(sys.SubItems) != 3 {
		t.Errorf("Expected all three originals as sub-items, got %v", sys.SubItems)
	}

	audited := make(map[string]bool)
	for _, e := range report.Discarded {
		audited[e.FindingID] = true
	}
	for _, id := range []string{"review-001", "review-002", "review-003"} {
		if !audited[id] {
			t.Errorf("Expected original %s in the audit trail after elevation", id)
		}
	}
}

func TestResume_FromCheckpointMatchesUninterruptedRun(t *testing.T) {
	// Reference: a full uninterrupted run.
	p1, _ := newTestPipeline(t)
	want, _, err := p1.Run(context.Background(), "api", testInputs())
	if err != nil {
		t.Fatalf("Reference run failed: %v", err)
	}

	// Interrupted run: a session checkpointed after normalize, resumed.
	p2, store2 := newTestPipeline(t)
	sess, err := store2.Create(context.Background(), "api")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	state := &State{SessionID: sess.ID, Subject: "api"}
	norm := ingest.NewNormalizer(logging.Discard())
	inputs := testInputs()
	for _, ns := range []string{"review", "sast"} {
		res := norm.NormalizeBatch(ns, inputs[ns])
		state.Findings = append(state.Findings, res.Findings...)
	}
	if err := store2.Checkpoint(context.Background(), sess.ID, StageNormalize, "normalize", state); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	got, err := p2.Resume(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	wantRanked, gotRanked := want.Ranked(), got.Ranked()
	if len(wantRanked) != len(gotRanked) {
		t.Fatalf("Expected %d ranked findings, got %d", len(wantRanked), len(gotRanked))
	}
	for i := range wantRanked {
		w, g := wantRanked[i], gotRanked[i]
		if w.Finding.ID != g.Finding.ID || w.Tier != g.Tier || w.Score != g.Score {
			t.Errorf("Rank %d diverged: %s/%s/%v vs %s/%s/%v",
				i+1, w.Finding.ID, w.Tier, w.Score, g.Finding.ID, g.Tier, g.Score)
		}
	}

	final, _ := store2.Get(context.Background(), sess.ID)
	if final.Status != session.StatusComplete {
		t.Errorf("Expected the resumed session complete, got %s", final.Status)
	}
}

func TestResume_CompleteSessionRefused(t *testing.T) {
	p, _ := newTestPipeline(t)

	_, sess, err := p.Run(context.Background(), "api", testInputs())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := p.Resume(context.Background(), sess.ID); err == nil {
		t.Error("Expected resuming a complete session to refuse")
	}
}

func TestAbandon(t *testing.T) {
	p, store := newTestPipeline(t)

	sess, err := store.Create(context.Background(), "api")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Abandon(context.Background(), sess.ID); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	got, _ := store.Get(context.Background(), sess.ID)
	if got.Status != session.StatusAbandoned {
		t.Errorf("Expected abandoned, got %s", got.Status)
	}
}
