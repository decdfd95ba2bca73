package model

import (
	"fmt"
	"strings"
)

// Finding is the atomic unit of the reconciliation pipeline: one
// evidence-backed claim produced by an out-of-scope reviewer or researcher.
type Finding struct {
	ID          string         `json:"id"`                    // e.g. "RR-004"
	Namespace   string         `json:"namespace"`             // producer batch namespace
	Seq         int            `json:"seq"`                   // per-namespace sequence
	Claim       string         `json:"claim"`                 // the claim statement
	Severity    Severity       `json:"severity"`              // ordered severity label
	Locator     Locator        `json:"locator"`               // file/URL/topic subject
	Pattern     string         `json:"pattern,omitempty"`     // structural pattern key, if the producer named one
	Dependency  string         `json:"dependency,omitempty"`  // external dependency the claim hinges on
	Evidence    []EvidenceItem `json:"evidence"`              // ordered, append-only
	Confidence  float64        `json:"confidence"`            // [0.0, 1.0]
	Bias        []BiasMarker   `json:"bias,omitempty"`        // markers from the closed taxonomy
	Status      Status         `json:"status"`                // lifecycle state
	Unconfirmed bool           `json:"unconfirmed,omitempty"` // gate flagged, below the confirmed band
	Blast       BlastRadius    `json:"blast"`                 // scope of impact

	// Cross-references, filled in by later stages. Evidence is never
	// removed from these; discarded members stay reachable by ID.
	MergedFrom       []string `json:"merged_from,omitempty"`       // IDs folded into this representative
	SubItems         []string `json:"sub_items,omitempty"`         // original IDs behind an elevated finding
	ContradictionIDs []string `json:"contradictions,omitempty"`    // contradiction links
	ResolvedBy       string   `json:"resolved_by,omitempty"`       // set when subsumed by another finding
	ConflictsWith    []string `json:"conflicts_with,omitempty"`    // interaction conflicts

	// Notes records every clamp, adjustment, discard and verification
	// outcome with its reason. A bare number change is never enough.
	Notes []Note `json:"notes,omitempty"`
}

// Note explains one mutation applied to a finding: which stage did it,
// what happened, and why.
type Note struct {
	Stage  string  `json:"stage"`
	Code   string  `json:"code"`
	Detail string  `json:"detail"`
	Delta  float64 `json:"delta,omitempty"` // confidence change, when applicable
}

// AddNote appends an explanatory note to the finding.
func (f *Finding) AddNote(stage, code, detail string) {
	f.Notes = append(f.Notes, Note{Stage: stage, Code: code, Detail: detail})
}

// AddConfidenceNote records a confidence change together with its reason.
func (f *Finding) AddConfidenceNote(stage, code, detail string, delta float64) {
	f.Notes = append(f.Notes, Note{Stage: stage, Code: code, Detail: detail, Delta: delta})
}

// HasBias reports whether the finding carries the given marker.
func (f *Finding) HasBias(marker BiasMarker) bool {
	for _, b := range f.Bias {
		if b == marker {
			return true
		}
	}
	return false
}

// AddBias tags the finding, ignoring duplicates.
func (f *Finding) AddBias(marker BiasMarker) {
	if !f.HasBias(marker) {
		f.Bias = append(f.Bias, marker)
	}
}

// Severity is the ordered priority label attached to a finding.
// SeverityCritical outranks SeverityHigh outranks SeverityModerate.
type Severity int

const (
	SeverityCritical Severity = iota // P0: always retained regardless of confidence
	SeverityHigh                     // P1
	SeverityModerate                 // P2
)

// ParseSeverity accepts the producer labels P0/P1/P2 and S0/S1/S2.
func ParseSeverity(label string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "P0", "S0", "CRITICAL":
		return SeverityCritical, nil
	case "P1", "S1", "HIGH":
		return SeverityHigh, nil
	case "P2", "S2", "MODERATE", "MEDIUM":
		return SeverityModerate, nil
	default:
		return SeverityModerate, fmt.Errorf("unknown severity label %q", label)
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "P0"
	case SeverityHigh:
		return "P1"
	default:
		return "P2"
	}
}

// Weight is the fixed scoring weight for the ranker.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 6
	default:
		return 3
	}
}

// Elevated returns the severity one tier higher. The top tier cannot
// elevate further.
func (s Severity) Elevated() Severity {
	if s == SeverityCritical {
		return SeverityCritical
	}
	return s - 1
}

// Status is the lifecycle state of a finding.
type Status string

const (
	StatusRaw       Status = "raw"
	StatusClustered Status = "clustered"
	StatusMerged    Status = "merged"
	StatusDiscarded Status = "discarded"
	StatusRanked    Status = "ranked"
)

// BlastRadius is the scope of impact, used as the ranker multiplier.
type BlastRadius int

const (
	BlastSingleLocation BlastRadius = iota
	BlastModule
	BlastCrossModule
	BlastSystemWide
)

// Multiplier returns the fixed blast-radius scoring multiplier.
func (b BlastRadius) Multiplier() float64 {
	switch b {
	case BlastModule:
		return 2
	case BlastCrossModule:
		return 3
	case BlastSystemWide:
		return 5
	default:
		return 1
	}
}

func (b BlastRadius) String() string {
	switch b {
	case BlastModule:
		return "module"
	case BlastCrossModule:
		return "cross-module"
	case BlastSystemWide:
		return "system-wide"
	default:
		return "single-location"
	}
}

// Locator identifies the subject of a finding: a file path with an
// optional line, a URL, or a bare topic key.
type Locator struct {
	Subject string `json:"subject"`        // path, URL, or topic key
	Line    int    `json:"line,omitempty"` // 0 when not positional
}

// ParseLocator splits a "subject:line" form when the suffix is numeric.
func ParseLocator(raw string) Locator {
	raw = strings.TrimSpace(raw)
	if idx := strings.LastIndex(raw, ":"); idx > 0 && idx < len(raw)-1 {
		line := 0
		if _, err := fmt.Sscanf(raw[idx+1:], "%d", &line); err == nil && line > 0 {
			return Locator{Subject: raw[:idx], Line: line}
		}
	}
	return Locator{Subject: raw}
}

func (l Locator) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.Subject, l.Line)
	}
	return l.Subject
}

// BiasMarker is one entry in the closed bias taxonomy.
type BiasMarker string

const (
	BiasLLMPrior            BiasMarker = "llm_prior"
	BiasRecency             BiasMarker = "recency"
	BiasAuthority           BiasMarker = "authority"
	BiasConfirmation        BiasMarker = "confirmation"
	BiasSurvivorship        BiasMarker = "survivorship"
	BiasSelection           BiasMarker = "selection"
	BiasAnchoring           BiasMarker = "anchoring"
	BiasOverconfidentMatch  BiasMarker = "overconfident_pattern_match"
	BiasStaleTrainingData   BiasMarker = "stale_training_data"
	BiasSelfCitationLoop    BiasMarker = "self_citation_loop"
)

// AllBiasMarkers lists the taxonomy in a fixed order.
var AllBiasMarkers = []BiasMarker{
	BiasLLMPrior,
	BiasRecency,
	BiasAuthority,
	BiasConfirmation,
	BiasSurvivorship,
	BiasSelection,
	BiasAnchoring,
	BiasOverconfidentMatch,
	BiasStaleTrainingData,
	BiasSelfCitationLoop,
}
