package model

// ClusterRule identifies which ordered clustering signal grouped a
// cluster's members. Rules are evaluated first-match-wins.
type ClusterRule string

const (
	RuleSameLocation      ClusterRule = "same_location"      // same subject within a positional window
	RuleStructuralPattern ClusterRule = "structural_pattern" // same pattern across distinct locations
	RuleSharedDependency  ClusterRule = "shared_dependency"  // same external dependency referenced
	RuleSingleton         ClusterRule = "singleton"          // no signal matched
)

// Cluster is a set of findings believed to share a root cause. Exactly
// one member survives the merge as the representative.
type Cluster struct {
	ID             int         `json:"id"`
	Rule           ClusterRule `json:"rule"`
	Members        []string    `json:"members"`                   // finding IDs, ingestion order
	Representative string      `json:"representative,omitempty"` // set by the merge stage
}

// Contains reports whether the cluster holds the given finding ID.
func (c Cluster) Contains(id string) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}
