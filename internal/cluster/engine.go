// Package cluster partitions findings into root-cause clusters.
//
// Three signals are evaluated as an ordered rule list, first-match-wins
// per finding: same subject within a positional window ("same issue,
// different abstraction level"), same structural pattern across distinct
// locations ("systemic issue"), and same external dependency
// ("dependency-level finding"). Each finding is assigned exactly once,
// by the first signal that links it to an already-assigned finding, and
// clusters never merge with each other: a finding placed by the location
// signal does not go on to pull its pattern or dependency peers into the
// same cluster. The output is a partition in input order; findings no
// signal matches get singleton clusters.
package cluster

import (
	"fmt"
	"log/slog"

	"concord/internal/model"
)

// signal is one predicate of the ordered rule list. links reports
// whether two findings share the signal's root-cause relation.
type signal struct {
	rule  model.ClusterRule
	links func(a, b *model.Finding) bool
}

// Engine runs the ordered signal list over a finding set.
type Engine struct {
	signals []signal
	logger  *slog.Logger
}

// NewEngine builds the engine from configuration. The line window
// controls how far apart two findings in the same file may sit and still
// count as the same issue at a different abstraction level.
func NewEngine(cfg model.ClusterConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.LineWindow
	if window <= 0 {
		window = 10
	}
	return &Engine{
		signals: []signal{
			{model.RuleSameLocation, sameLocation(window)},
			{model.RuleStructuralPattern, sharedPattern},
			{model.RuleSharedDependency, sharedDependency},
		},
		logger: logger,
	}
}

// proto is a cluster under construction.
type proto struct {
	rule    model.ClusterRule
	members []*model.Finding
}

// Partition clusters the findings in one pass. Each finding tries the
// signals in order against the clusters formed so far and joins the
// first cluster a signal links it to; the cluster keeps the highest-
// priority signal that linked any member as its rule. Findings matching
// no signal get singleton clusters and a cluster-ambiguity note rather
// than being blocked.
func (e *Engine) Partition(findings []*model.Finding) []model.Cluster {
	var protos []*proto
	for _, f := range findings {
		home, via := e.firstMatch(f, protos)
		if home == nil {
			protos = append(protos, &proto{members: []*model.Finding{f}})
			continue
		}
		home.members = append(home.members, f)
		if home.rule == "" || rulePriority(via) < rulePriority(home.rule) {
			home.rule = via
		}
	}

	var clusters []model.Cluster
	for cid, pc := range protos {
		rule := pc.rule
		if len(pc.members) == 1 {
			rule = model.RuleSingleton
		}
		c := model.Cluster{ID: cid + 1, Rule: rule}
		for _, f := range pc.members {
			f.Status = model.StatusClustered
			c.Members = append(c.Members, f.ID)
		}
		if rule == model.RuleSingleton {
			pc.members[0].AddNote("cluster", "ambiguous", "no clustering signal matched; placed in a singleton cluster")
		} else {
			e.logger.Debug("cluster formed", "rule", string(rule), "members", len(pc.members))
		}
		clusters = append(clusters, c)
	}
	return clusters
}

// firstMatch finds the cluster the finding joins: signals in declared
// order, clusters in creation order, members in insertion order. The
// first link wins.
func (e *Engine) firstMatch(f *model.Finding, protos []*proto) (*proto, model.ClusterRule) {
	for _, sig := range e.signals {
		for _, pc := range protos {
			for _, m := range pc.members {
				if sig.links(f, m) {
					return pc, sig.rule
				}
			}
		}
	}
	return nil, ""
}

func rulePriority(r model.ClusterRule) int {
	switch r {
	case model.RuleSameLocation:
		return 0
	case model.RuleStructuralPattern:
		return 1
	case model.RuleSharedDependency:
		return 2
	default:
		return 3
	}
}

// sameLocation links findings in the same subject with positions within
// the window. Unpositioned findings (line 0) never match this signal.
func sameLocation(window int) func(a, b *model.Finding) bool {
	return func(a, b *model.Finding) bool {
		if a.Locator.Subject == "" || a.Locator.Subject != b.Locator.Subject {
			return false
		}
		if a.Locator.Line <= 0 || b.Locator.Line <= 0 {
			return false
		}
		diff := a.Locator.Line - b.Locator.Line
		if diff < 0 {
			diff = -diff
		}
		return diff <= window
	}
}

// sharedPattern links the same structural pattern at distinct locations.
// The same pattern reported twice at one location is a duplicate, not a
// systemic signal.
func sharedPattern(a, b *model.Finding) bool {
	return a.Pattern != "" && a.Pattern == b.Pattern &&
		a.Locator.String() != b.Locator.String()
}

func sharedDependency(a, b *model.Finding) bool {
	return a.Dependency != "" && a.Dependency == b.Dependency
}

// VerifyPartition checks the partition invariant: the union of all
// clusters equals the finding set and no finding appears twice.
func VerifyPartition(findings []*model.Finding, clusters []model.Cluster) error {
	seen := make(map[string]int)
	for _, c := range clusters {
		for _, id := range c.Members {
			seen[id]++
		}
	}
	for _, f := range findings {
		switch seen[f.ID] {
		case 0:
			return fmt.Errorf("finding %s missing from partition", f.ID)
		case 1:
		default:
			return fmt.Errorf("finding %s appears in %d clusters", f.ID, seen[f.ID])
		}
	}
	total := 0
	for _, c := range clusters {
		total += len(c.Members)
	}
	if total != len(findings) {
		return fmt.Errorf("partition covers %d members for %d findings", total, len(findings))
	}
	return nil
}
