// Package pipeline runs the reconciliation stages in declared order and
// checkpoints after each one, so an interrupted run resumes from the
// last durable stage with identical results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"concord/internal/bias"
	"concord/internal/cluster"
	"concord/internal/contradiction"
	"concord/internal/evidence"
	"concord/internal/gate"
	"concord/internal/ingest"
	"concord/internal/interaction"
	"concord/internal/llm"
	"concord/internal/merge"
	"concord/internal/model"
	"concord/internal/rank"
	"concord/internal/session"
	"concord/internal/verify"
)

// Stage numbers. The order is part of the session contract: a
// checkpoint at stage N means stages 1..N are durable.
const (
	StageNormalize = iota + 1
	StageEvidence
	StageCluster
	StageMerge
	StageGate
	StageContradiction
	StageVerify
	StageBias
	StageInteraction
	StageRank
)

var stageNames = map[int]string{
	StageNormalize:     "normalize",
	StageEvidence:      "evidence",
	StageCluster:       "cluster",
	StageMerge:         "merge",
	StageGate:          "gate",
	StageContradiction: "contradiction",
	StageVerify:        "verify",
	StageBias:          "bias",
	StageInteraction:   "interaction",
	StageRank:          "rank",
}

// StageName returns the declared name for a stage number.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("stage-%d", stage)
}

// State is everything a stage needs from the stages before it. It is
// the unit of checkpointing: serialized whole after every stage.
type State struct {
	SessionID      string                `json:"session_id"`
	Subject        string                `json:"subject"`
	Findings       []*model.Finding      `json:"findings"`
	Rejected       []string              `json:"rejected,omitempty"` // malformed-record reasons, kept for the report
	Clusters       []model.Cluster       `json:"clusters,omitempty"`
	Contradictions []model.Contradiction `json:"contradictions,omitempty"`
	Audit          []model.AuditEntry    `json:"audit,omitempty"`
	Report         *model.Report         `json:"report,omitempty"`
}

// Pipeline wires the stage implementations together around a session
// journal.
type Pipeline struct {
	cfg      model.Config
	store    *session.Store
	fetcher  verify.Fetcher
	searcher verify.Searcher
	provider llm.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// New assembles a pipeline. fetcher, searcher, and provider may be nil;
// verification then degrades to citation-free heuristics the same way
// an offline run does.
func New(cfg model.Config, store *session.Store, fetcher verify.Fetcher, searcher verify.Searcher, provider llm.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		fetcher:  fetcher,
		searcher: searcher,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Run starts a fresh session over the raw records and executes every
// stage. The returned report is also durable in the final checkpoint.
func (p *Pipeline) Run(ctx context.Context, subject string, namespaces map[string][]ingest.RawRecord) (*model.Report, *session.Session, error) {
	sess, err := p.store.Create(ctx, subject)
	if err != nil {
		return nil, nil, err
	}
	p.logger.Info("session started", "id", sess.ID, "subject", subject)

	state := &State{SessionID: sess.ID, Subject: subject}
	p.normalize(state, namespaces)
	if err := p.checkpoint(ctx, sess.ID, StageNormalize, state); err != nil {
		return nil, sess, err
	}

	report, err := p.resumeFrom(ctx, sess, state, StageNormalize)
	return report, sess, err
}

// Resume continues an interrupted session from its latest readable
// checkpoint. Completed stages are skipped, not re-run: resuming after
// stage N produces the same report as an uninterrupted run.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*model.Report, error) {
	sess, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusComplete {
		return nil, fmt.Errorf("session %s is already complete", sessionID)
	}

	cp, corrupt, err := p.store.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if corrupt != nil {
		p.logger.Warn("recovered from corrupt checkpoint", "session", sessionID, "lost_stage", corrupt.Stage)
	}
	if cp == nil {
		return nil, fmt.Errorf("session %s has no readable checkpoint to resume from", sessionID)
	}

	var state State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, &session.CorruptionError{SessionID: sessionID, Stage: cp.Stage, Reason: err.Error()}
	}
	p.logger.Info("resuming session", "id", sessionID, "from_stage", StageName(cp.Stage))

	if err := p.store.SetStatus(ctx, sessionID, session.StatusInProgress); err != nil {
		return nil, err
	}
	return p.resumeFrom(ctx, sess, &state, cp.Stage)
}

// Abandon marks a session abandoned between stages.
func (p *Pipeline) Abandon(ctx context.Context, sessionID string) error {
	return p.store.SetStatus(ctx, sessionID, session.StatusAbandoned)
}

// resumeFrom executes the stages after `done`, checkpointing each.
func (p *Pipeline) resumeFrom(ctx context.Context, sess *session.Session, state *State, done int) (*model.Report, error) {
	for stage := done + 1; stage <= StageRank; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("interrupted before stage %s: %w", StageName(stage), err)
		}
		start := p.now()
		if err := p.runStage(ctx, stage, state); err != nil {
			return nil, fmt.Errorf("stage %s: %w", StageName(stage), err)
		}
		p.logger.Info("stage complete", "session", sess.ID, "stage", StageName(stage),
			"findings", len(state.Findings), "elapsed", p.now().Sub(start))
		if err := p.checkpoint(ctx, sess.ID, stage, state); err != nil {
			return nil, err
		}
	}

	if err := p.store.SetStatus(ctx, sess.ID, session.StatusComplete); err != nil {
		return nil, err
	}
	p.logger.Info("session complete", "id", sess.ID)
	return state.Report, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, sessionID string, stage int, state *State) error {
	if err := p.store.Checkpoint(ctx, sessionID, stage, StageName(stage), state); err != nil {
		return fmt.Errorf("checkpoint after %s: %w", StageName(stage), err)
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage int, state *State) error {
	switch stage {
	case StageEvidence:
		// Findings carry their evidence; this stage bounds excerpts and
		// validates attachment so later stages can trust the items.
		store := rebuildEvidence(state.Findings)
		p.logger.Debug("evidence registered", "findings", store.Len())
		return nil

	case StageCluster:
		engine := cluster.NewEngine(p.cfg.Cluster, p.logger)
		state.Clusters = engine.Partition(state.Findings)
		return cluster.VerifyPartition(state.Findings, state.Clusters)

	case StageMerge:
		store := rebuildEvidence(state.Findings)
		merger := merge.NewMerger(store, p.logger)
		audit, err := merger.Merge(byID(state.Findings), state.Clusters, p.now())
		if err != nil {
			return err
		}
		state.Audit = append(state.Audit, audit...)
		return nil

	case StageGate:
		g := gate.NewGate(p.cfg.Gate, p.logger)
		for _, f := range active(state.Findings) {
			g.ApplyCeilings(f)
		}
		res := g.Filter(active(state.Findings), p.now())
		state.Audit = append(state.Audit, res.Discarded...)
		return nil

	case StageContradiction:
		cls := contradiction.NewClassifier(p.logger)
		state.Contradictions = cls.Classify(active(state.Findings), state.Subject, p.cfg.Gate.ConfirmedThreshold)
		linkContradictions(state.Findings, state.Contradictions)
		return nil

	case StageVerify:
		g := gate.NewGate(p.cfg.Gate, p.logger)
		checker := verify.NewChecker(p.cfg.Verify, p.searcher, p.fetcher, p.provider, g, p.logger)
		checker.Run(ctx, active(state.Findings))
		return nil

	case StageBias:
		bias.NewAuditor(p.logger).Audit(active(state.Findings))
		return nil

	case StageInteraction:
		analyzer := interaction.NewAnalyzer(p.cfg.Interaction, p.logger)
		elevated, audit := analyzer.Analyze(state.Findings, p.now())
		state.Findings = append(state.Findings, elevated...)
		state.Audit = append(state.Audit, audit...)
		return nil

	case StageRank:
		res := rank.NewRanker(p.logger).Rank(state.Findings)
		state.Audit = append(state.Audit, res.Dropped...)
		state.Report = p.buildReport(res.Ranked, state)
		return nil

	default:
		return fmt.Errorf("unknown stage %d", stage)
	}
}

// normalize is stage 1; it only runs on a fresh session because the raw
// records are not part of the checkpointed state.
func (p *Pipeline) normalize(state *State, namespaces map[string][]ingest.RawRecord) {
	n := ingest.NewNormalizer(p.logger)
	for _, ns := range sortedKeys(namespaces) {
		res := n.NormalizeBatch(ns, namespaces[ns])
		state.Findings = append(state.Findings, res.Findings...)
		for _, rej := range res.Rejected {
			state.Rejected = append(state.Rejected, rej.Error())
		}
	}
	p.logger.Info("normalized", "findings", len(state.Findings), "rejected", len(state.Rejected))
}

func (p *Pipeline) buildReport(ranked []model.RankedFinding, state *State) *model.Report {
	report := &model.Report{
		SessionID:      state.SessionID,
		Subject:        state.Subject,
		GeneratedAt:    p.now().UTC(),
		Contradictions: state.Contradictions,
		Discarded:      state.Audit,
	}
	for _, rf := range ranked {
		switch rf.Tier {
		case model.TierMustFix:
			report.MustFix = append(report.MustFix, rf)
		case model.TierShouldFix:
			report.ShouldFix = append(report.ShouldFix, rf)
		default:
			report.Consider = append(report.Consider, rf)
		}
	}
	for _, ct := range state.Contradictions {
		if ct.Headline {
			report.Headlines = append(report.Headlines, ct.ID)
		}
	}
	return report
}

// rebuildEvidence reconstructs the evidence store from checkpointed
// findings so merge confidence math works identically after a resume.
func rebuildEvidence(findings []*model.Finding) *evidence.Store {
	store := evidence.NewStore()
	for _, f := range findings {
		store.Register(f)
	}
	return store
}

func byID(findings []*model.Finding) map[string]*model.Finding {
	out := make(map[string]*model.Finding, len(findings))
	for _, f := range findings {
		out[f.ID] = f
	}
	return out
}

// active filters out findings already discarded by an earlier stage.
func active(findings []*model.Finding) []*model.Finding {
	var out []*model.Finding
	for _, f := range findings {
		if f.Status != model.StatusDiscarded {
			out = append(out, f)
		}
	}
	return out
}

func linkContradictions(findings []*model.Finding, contradictions []model.Contradiction) {
	idx := byID(findings)
	for _, ct := range contradictions {
		if f, ok := idx[ct.FindingA]; ok {
			f.ContradictionIDs = append(f.ContradictionIDs, ct.ID)
		}
		if f, ok := idx[ct.FindingB]; ok {
			f.ContradictionIDs = append(f.ContradictionIDs, ct.ID)
		}
	}
}

func sortedKeys(m map[string][]ingest.RawRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
