package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"concord/internal/session"
)

var (
	resumeJSON    string
	resumeMD      string
	resumeTimeout time.Duration
	resumeOffline bool
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted session from its last checkpoint",
	Long: `Resume continues an interrupted session from the most recent durable
checkpoint. Completed stages are not re-run; the resumed run produces
the same report an uninterrupted run would have.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeJSON, "json", "report.json", "output JSON path")
	resumeCmd.Flags().StringVar(&resumeMD, "md", "", "output Markdown path (optional)")
	resumeCmd.Flags().DurationVar(&resumeTimeout, "timeout", 10*time.Minute, "overall timeout")
	resumeCmd.Flags().BoolVar(&resumeOffline, "offline", false, "skip network verification on the remaining stages")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	runOffline = resumeOffline

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

	ctx, cancel := context.WithTimeout(cmd.Context(), resumeTimeout)
	defer cancel()

	p, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}
	report, err := p.Resume(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed; the session remains resumable: concord resume %s\n", args[0])
		return err
	}

	if err := writeReport(report, resumeJSON, resumeMD); err != nil {
		return err
	}
	printSummary(report)
	return nil
}
