// Package contradiction detects and types disagreements between
// surviving findings. Contradictions are never resolved by majority
// vote: both sides always stay in the record, with an assessment of
// relative evidential strength and the conditions under which each side
// holds.
package contradiction

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"concord/internal/model"
)

// QuantDisagreementRatio is the relative gap between two quantities on
// the same subject that counts as a contradiction trigger.
const QuantDisagreementRatio = 0.30

// Classifier runs pairwise detection over surviving findings.
type Classifier struct {
	logger *slog.Logger
	nextID int
}

// NewClassifier creates a classifier.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify inspects every pair of surviving findings that address the
// same subject. The sessionSubject marks which topic is central: when
// two or more high-confidence findings contradict on it, the
// contradiction is flagged headline-level so the synthesis cannot bury
// it in detail.
func (c *Classifier) Classify(findings []*model.Finding, sessionSubject string, confirmedThreshold float64) []model.Contradiction {
	var out []model.Contradiction
	for i := 0; i < len(findings); i++ {
		for j := i + 1; j < len(findings); j++ {
			a, b := findings[i], findings[j]
			if a.Status == model.StatusDiscarded || b.Status == model.StatusDiscarded {
				continue
			}
			if !sameSubject(a, b) {
				continue
			}
			trigger, ok := detectTrigger(a, b)
			if !ok {
				continue
			}

			c.nextID++
			contradiction := model.Contradiction{
				ID:       fmt.Sprintf("CT-%03d", c.nextID),
				FindingA: a.ID,
				FindingB: b.ID,
				ClaimA:   a.Claim,
				ClaimB:   b.Claim,
			}
			c.typeAndResolve(&contradiction, a, b, trigger)

			central := sessionSubject != "" &&
				(subjectMatches(a, sessionSubject) || subjectMatches(b, sessionSubject))
			if central && a.Confidence >= confirmedThreshold && b.Confidence >= confirmedThreshold {
				contradiction.Headline = true
			}

			a.ContradictionIDs = append(a.ContradictionIDs, contradiction.ID)
			b.ContradictionIDs = append(b.ContradictionIDs, contradiction.ID)
			a.AddNote("contradiction", string(contradiction.Type),
				fmt.Sprintf("contradicts %s (%s); both sides retained", b.ID, contradiction.ID))
			b.AddNote("contradiction", string(contradiction.Type),
				fmt.Sprintf("contradicts %s (%s); both sides retained", a.ID, contradiction.ID))

			out = append(out, contradiction)
			c.logger.Info("contradiction detected",
				"id", contradiction.ID, "type", string(contradiction.Type),
				"a", a.ID, "b", b.ID, "headline", contradiction.Headline)
		}
	}
	return out
}

// typeAndResolve assigns the contradiction type and records how the
// disagreement is to be presented. No type ever drops a side.
func (c *Classifier) typeAndResolve(ct *model.Contradiction, a, b *model.Finding, trigger string) {
	switch {
	case isTemporal(a, b):
		ct.Type = model.ContradictionTemporal
		older, newer := orderByEvidenceTime(a, b)
		ct.Resolution = model.ResolutionSuperseded
		ct.Superseded = older.ID
		ct.Conditions = fmt.Sprintf("%s held at %s; %s observed later at %s",
			older.ID, latestAccess(older).Format(time.RFC3339),
			newer.ID, latestAccess(newer).Format(time.RFC3339))
		ct.Assessment = fmt.Sprintf("claim %s is older and marked superseded; the change is timestamped, both claims retained (%s)", older.ID, trigger)
		older.AddNote("contradiction", "superseded",
			fmt.Sprintf("claim held earlier but %s observed a later state (%s)", newer.ID, ct.ID))

	case isScopeSplit(a, b):
		ct.Type = model.ContradictionScope
		ct.Resolution = model.ResolutionContextDependent
		ct.Conditions = fmt.Sprintf("%s holds in context %q; %s holds in context %q",
			a.ID, a.Locator.String(), b.ID, b.Locator.String())
		ct.Assessment = "claims hold in different contexts; marked context-dependent with explicit boundary conditions (" + trigger + ")"

	case isMethodological(a, b):
		ct.Type = model.ContradictionMethodological
		ct.Resolution = model.ResolutionBothRetained
		ct.Conditions = fmt.Sprintf("%s derives from channel %q, %s from channel %q",
			a.ID, firstChannel(a), b.ID, firstChannel(b))
		ct.Assessment = fmt.Sprintf("different methods or assumptions yield different results; the gap is explained, not voted away (%s)", trigger)

	default:
		ct.Type = model.ContradictionFactual
		ct.Resolution = model.ResolutionBothRetained
		ct.Assessment = assessStrength(a, b, trigger)
	}
}

// assessStrength compares the two sides on independent-source count and
// evidence recency only. It never picks a winner without that
// justification.
func assessStrength(a, b *model.Finding, trigger string) string {
	ia, ib := model.IndependentSourceCount(a.Evidence), model.IndependentSourceCount(b.Evidence)
	ta, tb := latestAccess(a), latestAccess(b)

	switch {
	case ia != ib:
		stronger, weaker := a, b
		hi, lo := ia, ib
		if ib > ia {
			stronger, weaker, hi, lo = b, a, ib, ia
		}
		return fmt.Sprintf("%s has stronger backing (%d independent sources vs %d for %s); both retained (%s)",
			stronger.ID, hi, lo, weaker.ID, trigger)
	case !ta.Equal(tb):
		recent := a
		if tb.After(ta) {
			recent = b
		}
		return fmt.Sprintf("equal independent backing; %s cites the more recent evidence; both retained (%s)", recent.ID, trigger)
	default:
		return fmt.Sprintf("evidential strength is equal on source count and recency; both retained (%s)", trigger)
	}
}

// sameSubject reports whether two findings address the same subject:
// matching locator subjects, or substantial claim token overlap when
// locators are topic keys.
func sameSubject(a, b *model.Finding) bool {
	if a.Locator.Subject != "" && a.Locator.Subject == b.Locator.Subject {
		return true
	}
	return tokenOverlap(a.Claim, b.Claim) >= 0.5
}

func subjectMatches(f *model.Finding, subject string) bool {
	s := strings.ToLower(subject)
	return strings.Contains(strings.ToLower(f.Locator.Subject), s) ||
		strings.Contains(strings.ToLower(f.Claim), s)
}

// opposingPairs are word pairs whose presence on opposite sides signals
// directly opposing claims.
var opposingPairs = [][2]string{
	{"deprecated", "current"},
	{"deprecated", "maintained"},
	{"safe", "unsafe"},
	{"secure", "insecure"},
	{"supported", "unsupported"},
	{"correct", "incorrect"},
	{"valid", "invalid"},
	{"required", "optional"},
	{"increases", "decreases"},
	{"recommended", "anti-pattern"},
	{"recommended", "antipattern"},
}

var negationRe = regexp.MustCompile(`\b(not|no longer|never|isn't|aren't|doesn't|don't)\b`)

// detectTrigger checks the three detection triggers: directly opposing
// claims, a quantitative disagreement exceeding the threshold, and a
// recommendation labeled an anti-pattern on the other side.
func detectTrigger(a, b *model.Finding) (string, bool) {
	la, lb := strings.ToLower(a.Claim), strings.ToLower(b.Claim)

	for _, pair := range opposingPairs {
		if (strings.Contains(la, pair[0]) && strings.Contains(lb, pair[1])) ||
			(strings.Contains(la, pair[1]) && strings.Contains(lb, pair[0])) {
			return fmt.Sprintf("opposing terms %q vs %q", pair[0], pair[1]), true
		}
	}

	// One side negating what the other asserts, with high overlap.
	if negationRe.MatchString(la) != negationRe.MatchString(lb) && tokenOverlap(la, lb) >= 0.5 {
		return "one claim negates the other", true
	}

	if na, nb, ok := quantDisagreement(la, lb); ok {
		return fmt.Sprintf("quantitative disagreement %.4g vs %.4g exceeds %d%%", na, nb, int(QuantDisagreementRatio*100)), true
	}

	return "", false
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// quantDisagreement extracts leading quantities from both claims and
// reports whether they differ by more than the ratio threshold.
func quantDisagreement(a, b string) (float64, float64, bool) {
	ma, mb := numberRe.FindString(a), numberRe.FindString(b)
	if ma == "" || mb == "" {
		return 0, 0, false
	}
	na, err1 := strconv.ParseFloat(ma, 64)
	nb, err2 := strconv.ParseFloat(mb, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	hi, lo := na, nb
	if nb > na {
		hi, lo = nb, na
	}
	if hi == 0 {
		return 0, 0, false
	}
	if (hi-lo)/hi > QuantDisagreementRatio && tokenOverlap(a, b) >= 0.4 {
		return na, nb, true
	}
	return 0, 0, false
}

var temporalRe = regexp.MustCompile(`\b(as of|since|until|before|after|version|v\d|\b(19|20)\d\d\b)`)

// isTemporal: both claims anchor to a time or version, or the evidence
// access times sit far apart.
func isTemporal(a, b *model.Finding) bool {
	la, lb := strings.ToLower(a.Claim), strings.ToLower(b.Claim)
	if temporalRe.MatchString(la) && temporalRe.MatchString(lb) {
		return true
	}
	ta, tb := latestAccess(a), latestAccess(b)
	if ta.IsZero() || tb.IsZero() {
		return false
	}
	gap := ta.Sub(tb)
	if gap < 0 {
		gap = -gap
	}
	return gap > 180*24*time.Hour
}

var scopeRe = regexp.MustCompile(`\b(in|for|under|when|only on|on)\s`)

// isScopeSplit: the claims hold in explicitly different contexts —
// different locator subjects with context-scoping language in the claims.
func isScopeSplit(a, b *model.Finding) bool {
	if a.Locator.Subject == b.Locator.Subject {
		return false
	}
	return scopeRe.MatchString(strings.ToLower(a.Claim)) && scopeRe.MatchString(strings.ToLower(b.Claim))
}

// isMethodological: the sides derive from different channels and at
// least one claim references a method of measurement.
var methodRe = regexp.MustCompile(`\b(benchmark|measured|profil|method|approach|assum|sampl|test(ed)? with)`)

func isMethodological(a, b *model.Finding) bool {
	if firstChannel(a) == firstChannel(b) {
		return false
	}
	la, lb := strings.ToLower(a.Claim), strings.ToLower(b.Claim)
	return methodRe.MatchString(la) || methodRe.MatchString(lb)
}

// orderByEvidenceTime returns (older, newer) by the latest evidence
// access time, breaking a tie by finding ID so the result is stable.
func orderByEvidenceTime(a, b *model.Finding) (*model.Finding, *model.Finding) {
	ta, tb := latestAccess(a), latestAccess(b)
	if ta.Equal(tb) {
		if a.ID < b.ID {
			return a, b
		}
		return b, a
	}
	if ta.Before(tb) {
		return a, b
	}
	return b, a
}

func firstChannel(f *model.Finding) string {
	if len(f.Evidence) == 0 {
		return ""
	}
	return f.Evidence[0].Source.Channel
}

func latestAccess(f *model.Finding) time.Time {
	var latest time.Time
	for _, item := range f.Evidence {
		if item.Source.AccessedAt.After(latest) {
			latest = item.Source.AccessedAt
		}
	}
	return latest
}

// tokenOverlap is the Jaccard overlap of the lowercased word sets.
func tokenOverlap(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if len(w) > 2 { // skip stop-word noise
			set[w] = true
		}
	}
	return set
}
