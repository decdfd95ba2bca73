// Package bias tags findings against the fixed bias taxonomy. Tagging
// only ever adds markers; it never changes confidence or discards.
package bias

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"concord/internal/model"
)

// freshEvidenceWindow is how recent corroborating evidence must be for
// a plausible-sounding claim to escape the language-model-prior flag.
const freshEvidenceWindow = 90 * 24 * time.Hour

// Auditor applies the bias taxonomy.
type Auditor struct {
	logger *slog.Logger
	now    func() time.Time // injectable for tests
}

// NewAuditor creates an auditor.
func NewAuditor(logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, now: time.Now}
}

// Audit tags every surviving finding. A finding matching the
// language-model-prior pattern — plausible-sounding but lacking fresh
// corroborating evidence — is always flagged, even when it otherwise
// survived verification.
func (a *Auditor) Audit(findings []*model.Finding) {
	for _, f := range findings {
		if f.Status == model.StatusDiscarded {
			continue
		}
		before := len(f.Bias)

		if a.lacksFreshCorroboration(f) {
			f.AddBias(model.BiasLLMPrior)
			f.AddNote("bias", string(model.BiasLLMPrior),
				"plausible-sounding claim without fresh corroborating evidence")
		}
		if a.singleAuthorityLeaning(f) {
			f.AddBias(model.BiasAuthority)
			f.AddNote("bias", string(model.BiasAuthority),
				"every supporting source shares one origin; weight may reflect the source, not the evidence")
		}
		if a.recencySkew(f) {
			f.AddBias(model.BiasRecency)
			f.AddNote("bias", string(model.BiasRecency),
				"all evidence accessed within a narrow recent window for a claim about settled behavior")
		}
		if a.selfCitationLoop(f) {
			f.AddBias(model.BiasSelfCitationLoop)
			f.AddNote("bias", string(model.BiasSelfCitationLoop),
				"supporting sources cite each other; corroboration is circular")
		}
		if a.staleTrainingData(f) {
			f.AddBias(model.BiasStaleTrainingData)
			f.AddNote("bias", string(model.BiasStaleTrainingData),
				"claim references versions or dates older than all cited evidence")
		}
		if overconfidentLanguage(f) {
			f.AddBias(model.BiasOverconfidentMatch)
			f.AddNote("bias", string(model.BiasOverconfidentMatch),
				"absolute phrasing at high confidence with thin evidence")
		}
		if singleChannelSelection(f) {
			f.AddBias(model.BiasSelection)
			f.AddNote("bias", string(model.BiasSelection),
				"all evidence drawn through one channel; other channels were never consulted")
		}
		if survivorshipLanguage(f) {
			f.AddBias(model.BiasSurvivorship)
			f.AddNote("bias", string(model.BiasSurvivorship),
				"claim generalizes from surviving successes without failure-side evidence")
		}
		if confirmationSkew(f) {
			f.AddBias(model.BiasConfirmation)
			f.AddNote("bias", string(model.BiasConfirmation),
				"confidence stayed high after counter-evidence weakened the claim")
		}
		if anchoredToFirstSignal(f) {
			f.AddBias(model.BiasAnchoring)
			f.AddNote("bias", string(model.BiasAnchoring),
				"confidence tracks the first evidence item despite divergent later signals")
		}

		if added := len(f.Bias) - before; added > 0 {
			a.logger.Debug("bias markers added", "id", f.ID, "added", added)
		}
	}
}

// lacksFreshCorroboration: the claim reads as received wisdom and no
// evidence item was accessed recently.
func (a *Auditor) lacksFreshCorroboration(f *model.Finding) bool {
	if len(f.Evidence) == 0 {
		return true
	}
	cutoff := a.now().Add(-freshEvidenceWindow)
	for _, item := range f.Evidence {
		if item.Source.AccessedAt.After(cutoff) && item.Excerpt != "" {
			return false
		}
	}
	return true
}

func (a *Auditor) singleAuthorityLeaning(f *model.Finding) bool {
	if len(f.Evidence) < 2 {
		return false
	}
	first := f.Evidence[0].Source
	for _, item := range f.Evidence[1:] {
		if !item.Source.SameOrigin(first) {
			return false
		}
	}
	return true
}

// recencySkew: several sources, all accessed inside one day, none older.
func (a *Auditor) recencySkew(f *model.Finding) bool {
	if len(f.Evidence) < 3 {
		return false
	}
	var min, max time.Time
	for i, item := range f.Evidence {
		t := item.Source.AccessedAt
		if i == 0 || t.Before(min) {
			min = t
		}
		if t.After(max) {
			max = t
		}
	}
	return max.Sub(min) < 24*time.Hour
}

// selfCitationLoop: a pair of sources that cite each other's addresses.
func (a *Auditor) selfCitationLoop(f *model.Finding) bool {
	for i := 0; i < len(f.Evidence); i++ {
		for j := i + 1; j < len(f.Evidence); j++ {
			if f.Evidence[i].Derived(f.Evidence[j].Source.Address) &&
				f.Evidence[j].Derived(f.Evidence[i].Source.Address) {
				return true
			}
		}
	}
	return false
}

var oldVersionRe = regexp.MustCompile(`\b(19|200)\d\b|\bv?[0-2]\.\d+\b`)

// staleTrainingData: the claim pins old versions or years while every
// evidence access is recent, suggesting the claim predates its evidence.
func (a *Auditor) staleTrainingData(f *model.Finding) bool {
	if !oldVersionRe.MatchString(strings.ToLower(f.Claim)) {
		return false
	}
	cutoff := a.now().Add(-365 * 24 * time.Hour)
	for _, item := range f.Evidence {
		if item.Source.AccessedAt.Before(cutoff) {
			return false
		}
	}
	return len(f.Evidence) > 0
}

var absoluteRe = regexp.MustCompile(`\b(always|never|guaranteed|certainly|definitely|impossible|all|none)\b`)

func overconfidentLanguage(f *model.Finding) bool {
	return f.Confidence >= 0.8 &&
		len(f.Evidence) < 2 &&
		absoluteRe.MatchString(strings.ToLower(f.Claim))
}

// singleChannelSelection: several distinct addresses, one channel.
func singleChannelSelection(f *model.Finding) bool {
	if len(f.Evidence) < 3 {
		return false
	}
	channel := f.Evidence[0].Source.Channel
	addresses := make(map[string]bool)
	for _, item := range f.Evidence {
		if item.Source.Channel != channel {
			return false
		}
		addresses[item.Source.Address] = true
	}
	return len(addresses) >= 2
}

var survivorRe = regexp.MustCompile(`\b(successful|widely used|most (teams|projects|users)|everyone|industry standard|best practice)\b`)

func survivorshipLanguage(f *model.Finding) bool {
	return survivorRe.MatchString(strings.ToLower(f.Claim))
}

// confirmationSkew reads the verification notes: a WEAKENED verdict
// that left the confidence in the confirmed band.
func confirmationSkew(f *model.Finding) bool {
	if f.Confidence < 0.7 {
		return false
	}
	for _, note := range f.Notes {
		if note.Stage == "verify" && note.Code == "WEAKENED" {
			return true
		}
	}
	return false
}

// anchoredToFirstSignal: the merged confidence never moved off the
// first evidence item's raw contribution even though later items
// disagreed with it.
func anchoredToFirstSignal(f *model.Finding) bool {
	if len(f.Evidence) < 2 {
		return false
	}
	first := f.Evidence[0].Confidence
	if f.Confidence != first {
		return false
	}
	for _, item := range f.Evidence[1:] {
		if item.Confidence != first {
			return true
		}
	}
	return false
}
