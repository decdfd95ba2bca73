package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"concord/internal/cache"
	"concord/internal/ingest"
	"concord/internal/llm"
	"concord/internal/model"
	"concord/internal/pipeline"
	"concord/internal/session"
	"concord/internal/verify"
)

var (
	runSubject string
	runJSON    string
	runMD      string
	runTimeout time.Duration
	runNoCache bool
	runOffline bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <namespace=findings.jsonl> [namespace=findings.jsonl ...]",
	Short: "Reconcile agent findings into one scored report",
	Long: `Run ingests one JSONL findings file per agent namespace, reconciles
them through the full pipeline, and writes the scored report.

Each input is tagged namespace=path; the namespace prefixes finding IDs
so their provenance survives merging.

Example:
  concord run --subject ./src sast=sast.jsonl review=review.jsonl
  concord run --subject api-server deps=osv.jsonl --md report.md --offline`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSubject, "subject", "", "what was analyzed (required)")
	runCmd.Flags().StringVar(&runJSON, "json", "report.json", "output JSON path")
	runCmd.Flags().StringVar(&runMD, "md", "", "output Markdown path (optional)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall run timeout")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "disable the fetch cache (force fresh fetches)")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "skip network verification (counter-search and citation checks)")
	_ = runCmd.MarkFlagRequired("subject")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runNoCache {
		cfg.Cache.Enabled = false
	}
	logger := newLogger(cfg)

	namespaces, err := readInputs(args)
	if err != nil {
		return err
	}

	lock, err := session.AcquireLock(cfg.Session.Dir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	store, err := session.Open(cfg.Session.Dir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	p, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}
	report, sess, err := p.Run(ctx, runSubject, namespaces)
	if err != nil {
		if sess != nil {
			fmt.Fprintf(os.Stderr, "Run interrupted; resume with: concord resume %s\n", sess.ID)
		}
		return err
	}

	if err := writeReport(report, runJSON, runMD); err != nil {
		return err
	}
	printSummary(report)
	return nil
}

// readInputs parses namespace=path arguments into raw record batches.
func readInputs(args []string) (map[string][]ingest.RawRecord, error) {
	namespaces := make(map[string][]ingest.RawRecord, len(args))
	for _, arg := range args {
		ns, path, ok := strings.Cut(arg, "=")
		if !ok || ns == "" || path == "" {
			return nil, fmt.Errorf("input %q: want namespace=path", arg)
		}
		if _, dup := namespaces[ns]; dup {
			return nil, fmt.Errorf("namespace %q given twice", ns)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		records, rejected, err := ingest.ReadRecords(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for _, rej := range rejected {
			fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", path, rej)
		}
		namespaces[ns] = records
	}
	return namespaces, nil
}

// buildPipeline assembles the verification stack around the session
// store. Offline runs get no fetcher; the checker degrades gracefully.
func buildPipeline(cfg *model.Config, store *session.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	var (
		fetcher  verify.Fetcher
		searcher verify.Searcher
	)
	if !runOffline {
		var fetchCache cache.Cache
		if cfg.Cache.Enabled {
			fetchCache = cache.NewLayeredCache(cfg.Cache.TTL, cfg.Cache.Dir, cfg.Cache.TTL)
		}
		httpFetcher := verify.NewHTTPFetcher(cfg.HTTP, cfg.Verify, fetchCache, cfg.Cache.TTL)
		fetcher = httpFetcher
		if len(cfg.Verify.Channels) > 0 {
			searcher = verify.NewTemplateSearcher(httpFetcher, cfg.Verify.Channels)
		}
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return pipeline.New(*cfg, store, fetcher, searcher, provider, logger), nil
}

func printSummary(r *model.Report) {
	fmt.Printf("Session %s complete: %d must-fix, %d should-fix, %d consider, %d discarded",
		r.SessionID, len(r.MustFix), len(r.ShouldFix), len(r.Consider), len(r.Discarded))
	if len(r.Headlines) > 0 {
		fmt.Printf(", %d headline contradiction(s)", len(r.Headlines))
	}
	fmt.Println()
}
