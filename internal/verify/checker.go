// Package verify runs adversarial cross-validation: independence
// accounting, counter-searches against the logical negation of each
// claim, and citation anchor checks. Verification is the one stage that
// fans out to concurrent external queries; everything else in the
// pipeline is single-threaded.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"concord/internal/gate"
	"concord/internal/llm"
	"concord/internal/model"
	"concord/internal/worker"
)

// Verdict classifies the outcome of a counter-search.
type Verdict string

const (
	VerdictSurvives     Verdict = "SURVIVES"     // no contradicting evidence after the minimum counter-queries
	VerdictWeakened     Verdict = "WEAKENED"     // partial counter-evidence
	VerdictDisproven    Verdict = "DISPROVEN"    // credible direct refutation
	VerdictHallucinated Verdict = "HALLUCINATED" // no evidence basis at all; pattern-matched guess
)

// Confidence adjustments per verdict. Ceilings are re-applied after
// adjustment: no verdict pushes a finding above its evidentiary ceiling.
const (
	survivesBonus   = 0.05
	weakenedPenalty = 0.10
)

// VerificationTimeoutError marks a counter-search call that exceeded
// its budget. It is treated as non-conclusive — no counter-evidence
// found — never as a pipeline failure.
type VerificationTimeoutError struct {
	Query string
}

func (e *VerificationTimeoutError) Error() string {
	return fmt.Sprintf("counter-search %q timed out", e.Query)
}

// Searcher issues one counter-query on a named channel and returns the
// result page text. Real search tools live outside the engine; this is
// their interface boundary.
type Searcher interface {
	Search(ctx context.Context, channel, query string) (string, error)
	Channels() []string
}

// TemplateSearcher resolves a channel to a query URL template ("%s" is
// the escaped query) and fetches it.
type TemplateSearcher struct {
	fetcher   Fetcher
	templates map[string]string
}

// NewTemplateSearcher builds a searcher over the configured channels.
func NewTemplateSearcher(fetcher Fetcher, templates map[string]string) *TemplateSearcher {
	return &TemplateSearcher{fetcher: fetcher, templates: templates}
}

// Channels lists the configured channel names, sorted.
func (s *TemplateSearcher) Channels() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search runs one query on the channel.
func (s *TemplateSearcher) Search(ctx context.Context, channel, query string) (string, error) {
	tmpl, ok := s.templates[channel]
	if !ok {
		return "", fmt.Errorf("unknown search channel %q", channel)
	}
	return s.fetcher.Fetch(ctx, fmt.Sprintf(tmpl, url.QueryEscape(query)))
}

// Checker is the independence/cross-validation stage.
type Checker struct {
	cfg      model.VerifyConfig
	searcher Searcher
	fetcher  Fetcher
	provider llm.Provider
	gate     *gate.Gate
	logger   *slog.Logger
}

// NewChecker wires the stage. A nil searcher disables counter-search; a
// nil fetcher disables citation checks. Either way the ceilings still
// get re-applied, so verification can be degraded but never skipped.
func NewChecker(cfg model.VerifyConfig, searcher Searcher, fetcher Fetcher, provider llm.Provider, g *gate.Gate, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{cfg: cfg, searcher: searcher, fetcher: fetcher, provider: provider, gate: g, logger: logger}
}

// Run verifies the surviving findings in place. Counter-searches fan
// out through a bounded pool; adjustments are applied afterwards in
// finding-ID order so the outcome is deterministic.
func (c *Checker) Run(ctx context.Context, findings []*model.Finding) {
	// Citation anchors first: a finding whose every anchor mismatches —
	// or that never had evidence to begin with — has no evidence basis
	// and is already decided.
	hallucinated := make(map[string]string)
	for _, f := range findings {
		if f.Status != model.StatusDiscarded && len(f.Evidence) == 0 {
			hallucinated[f.ID] = "claim carries no evidence at all; looks like a pattern-matched guess"
		}
	}
	if c.fetcher != nil && !c.cfg.SkipCitations {
		for _, f := range findings {
			if f.Status == model.StatusDiscarded || hallucinated[f.ID] != "" {
				continue
			}
			if c.applyCitationChecks(ctx, f) {
				hallucinated[f.ID] = "every citation anchor failed; claim has no evidence basis"
			}
		}
	}

	if c.searcher == nil {
		c.finish(findings, nil, hallucinated)
		return
	}

	pool := worker.NewPool(c.cfg.MaxConcurrent)
	pool.Start()
	submitted := 0
	for _, f := range findings {
		if f.Status == model.StatusDiscarded || hallucinated[f.ID] != "" {
			continue
		}
		if !c.aboveComplexityThreshold(f) {
			continue
		}
		pool.Submit(&counterSearchJob{checker: c, finding: f})
		submitted++
	}
	results := pool.Wait()
	c.logger.Debug("counter-searches complete", "submitted", submitted, "results", len(results))

	byID := make(map[string]*counterSearchResult, len(results))
	for _, r := range results {
		res := r.(*counterSearchResult)
		byID[res.findingID] = res
	}
	c.finish(findings, byID, hallucinated)
}

// finish applies verdict adjustments and re-clamps every finding
// against its evidentiary ceiling.
func (c *Checker) finish(findings []*model.Finding, results map[string]*counterSearchResult, hallucinated map[string]string) {
	for _, f := range findings {
		if f.Status == model.StatusDiscarded {
			continue
		}

		switch {
		case hallucinated[f.ID] != "":
			c.applyVerdict(f, VerdictHallucinated, hallucinated[f.ID])
		case results != nil:
			if res, ok := results[f.ID]; ok {
				c.applyVerdict(f, res.verdict, res.detail)
			}
		}

		// Hard ceilings, re-applied after any adjustment.
		c.gate.ApplyCeilings(f)
	}
}

func (c *Checker) aboveComplexityThreshold(f *model.Finding) bool {
	return f.Severity.Weight()*f.Confidence >= c.cfg.ComplexityThreshold
}

// applyCitationChecks adjusts per-anchor and reports whether the finding
// turned out to have no verifiable basis at all.
func (c *Checker) applyCitationChecks(ctx context.Context, f *model.Finding) bool {
	checks := CheckCitations(ctx, f, c.fetcher)
	if len(checks) == 0 {
		return false
	}

	mismatches := 0
	for _, check := range checks {
		switch check.Status {
		case CitationVerified:
			f.AddNote("verify", "citation_verified", fmt.Sprintf("%s: %s", check.Address, check.Detail))
		case CitationApproximate:
			before := f.Confidence
			f.Confidence = clamp01(f.Confidence - 0.05)
			f.AddConfidenceNote("verify", "citation_approximate",
				fmt.Sprintf("%s: %s; confidence %0.3f -> %0.3f", check.Address, check.Detail, before, f.Confidence),
				f.Confidence-before)
		case CitationMismatch:
			mismatches++
			f.AddNote("verify", "citation_mismatch", fmt.Sprintf("%s: %s", check.Address, check.Detail))
		case CitationUnverifiable:
			f.AddNote("verify", "citation_unverifiable",
				fmt.Sprintf("%s: %s; confidence unchanged", check.Address, check.Detail))
		}
	}

	if mismatches == len(checks) {
		return true // no anchor held: treated as hallucinated
	}
	if mismatches > 0 {
		c.applyVerdict(f, VerdictDisproven,
			fmt.Sprintf("%d of %d citation anchors mismatched the claimed excerpt", mismatches, len(checks)))
	}
	return false
}

func (c *Checker) applyVerdict(f *model.Finding, verdict Verdict, detail string) {
	before := f.Confidence
	switch verdict {
	case VerdictSurvives:
		f.Confidence = clamp01(f.Confidence + survivesBonus)
	case VerdictWeakened:
		f.Confidence = clamp01(f.Confidence - weakenedPenalty)
	case VerdictDisproven:
		f.Confidence = 0
	case VerdictHallucinated:
		f.Confidence = 0
		f.AddBias(model.BiasOverconfidentMatch)
	}
	f.AddConfidenceNote("verify", string(verdict),
		fmt.Sprintf("%s; confidence %0.3f -> %0.3f", detail, before, f.Confidence),
		f.Confidence-before)
	c.logger.Info("verification verdict", "id", f.ID, "verdict", string(verdict), "confidence", f.Confidence)
}

// counterSearchJob verifies one finding against its negation.
type counterSearchJob struct {
	checker *Checker
	finding *model.Finding
}

type counterSearchResult struct {
	findingID string
	verdict   Verdict
	detail    string
	err       error
}

func (r *counterSearchResult) GetError() error { return r.err }

// Execute runs the counter-queries for one finding on a channel
// different from whichever produced the original evidence.
func (j *counterSearchJob) Execute(ctx context.Context) worker.Result {
	c, f := j.checker, j.finding

	channel, ok := c.counterChannel(f)
	if !ok {
		return &counterSearchResult{
			findingID: f.ID,
			verdict:   VerdictSurvives,
			detail:    "no search channel distinct from the original evidence is configured; treated as no counter-evidence",
		}
	}

	queries := NegationQueries(ctx, f.Claim, c.cfg.CounterQueries, c.provider, c.logger)

	direct, partial, completed := 0, 0, 0
	for _, q := range queries {
		qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
		body, err := c.searcher.Search(qctx, channel, q)
		cancel()
		if err != nil {
			// A timed-out or failed counter-search found nothing. It
			// counts toward SURVIVES, never fails the pipeline.
			if errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn("counter-search timeout", "id", f.ID, "query", q,
					"error", (&VerificationTimeoutError{Query: q}).Error())
			} else {
				c.logger.Warn("counter-search failed", "id", f.ID, "query", q, "error", err)
			}
			completed++
			continue
		}
		completed++
		switch counterEvidenceStrength(f.Claim, body) {
		case counterDirect:
			direct++
		case counterPartial:
			partial++
		}
	}

	res := &counterSearchResult{findingID: f.ID}
	switch {
	case direct > 0:
		res.verdict = VerdictDisproven
		res.detail = fmt.Sprintf("credible direct refutation on channel %q (%d of %d counter-queries)", channel, direct, completed)
	case partial > 0:
		res.verdict = VerdictWeakened
		res.detail = fmt.Sprintf("partial counter-evidence on channel %q (%d of %d counter-queries)", channel, partial, completed)
	default:
		res.verdict = VerdictSurvives
		res.detail = fmt.Sprintf("no contradicting evidence after %d counter-queries on channel %q", completed, channel)
	}
	return res
}

// counterChannel picks the first configured channel that did not
// produce any of the finding's original evidence.
func (c *Checker) counterChannel(f *model.Finding) (string, bool) {
	original := make(map[string]bool)
	for _, item := range f.Evidence {
		original[item.Source.Channel] = true
	}
	for _, name := range c.searcher.Channels() {
		if !original[name] {
			return name, true
		}
	}
	return "", false
}

type counterStrength int

const (
	counterNone counterStrength = iota
	counterPartial
	counterDirect
)

// counterEvidenceStrength grades how strongly a result page contradicts
// the claim: the page must cover the claim's key terms, and direct
// refutation additionally needs an opposing or negating phrasing.
func counterEvidenceStrength(claim, body string) counterStrength {
	text := normalizeText(extractText(body))
	terms := strings.Fields(keywords(strings.ToLower(claim)))
	if len(terms) == 0 {
		return counterNone
	}
	covered := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			covered++
		}
	}
	coverage := float64(covered) / float64(len(terms))
	opposing := containsOpposing(claim, text)

	switch {
	case coverage >= 0.6 && opposing:
		return counterDirect
	case coverage >= 0.4 && (opposing || negationRe.MatchString(text)):
		return counterPartial
	default:
		return counterNone
	}
}

var negationRe = regexp.MustCompile(`\b(not|no longer|never|isn't|aren't|doesn't|don't|refuted|incorrect)\b`)

// containsOpposing reports whether the text asserts an antonym of a
// term used in the claim.
func containsOpposing(claim, text string) bool {
	lower := strings.ToLower(claim)
	for term, opposite := range antonyms {
		if !strings.Contains(lower, term) {
			continue
		}
		for _, w := range strings.Fields(opposite) {
			if strings.Contains(text, w) {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
