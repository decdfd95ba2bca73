package model

// ContradictionType classifies a disagreement between two findings.
type ContradictionType string

const (
	ContradictionFactual        ContradictionType = "factual"        // mutually exclusive claims about one observable fact
	ContradictionMethodological ContradictionType = "methodological" // different methods or assumptions, different results
	ContradictionTemporal       ContradictionType = "temporal"       // true at T1, false at T2
	ContradictionScope          ContradictionType = "scope"          // true in context A, false in context B
)

// ContradictionResolution is the recorded outcome. Contradictions are
// never resolved by majority vote; both sides stay in the record.
type ContradictionResolution string

const (
	ResolutionBothRetained     ContradictionResolution = "both_retained"
	ResolutionSuperseded       ContradictionResolution = "superseded"        // temporal: older claim marked
	ResolutionContextDependent ContradictionResolution = "context_dependent" // scope: boundary conditions recorded
)

// Contradiction is a typed relationship between two findings with
// incompatible claims on the same subject.
type Contradiction struct {
	ID         string                  `json:"id"`
	Type       ContradictionType       `json:"type"`
	FindingA   string                  `json:"finding_a"`
	FindingB   string                  `json:"finding_b"`
	ClaimA     string                  `json:"claim_a"`
	ClaimB     string                  `json:"claim_b"`
	Assessment string                  `json:"assessment"`           // relative evidential strength, with reasons
	Conditions string                  `json:"conditions,omitempty"` // when each side holds
	Resolution ContradictionResolution `json:"resolution"`
	Superseded string                  `json:"superseded,omitempty"` // finding ID of the older claim, temporal only
	Headline   bool                    `json:"headline"`             // must surface in top-level synthesis
}
