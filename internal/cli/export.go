package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"concord/internal/model"
	"concord/internal/pipeline"
	"concord/internal/render"
	"concord/internal/session"
)

var (
	exportFormat string
	exportOut    string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a completed session's report",
	Long: `Export re-renders the report stored in a session's final checkpoint
without re-running any stage. The audit trail is always included.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or markdown")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	format, err := render.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	store, err := session.Open(cfg.Session.Dir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sess, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cp, corrupt, err := store.Latest(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}
	if corrupt != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", corrupt)
	}
	if cp == nil {
		return fmt.Errorf("session %s has no readable checkpoint", sess.ID)
	}

	var state pipeline.State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return &session.CorruptionError{SessionID: sess.ID, Stage: cp.Stage, Reason: err.Error()}
	}
	if state.Report == nil {
		return fmt.Errorf("session %s stopped at stage %s; resume it to produce a report", sess.ID, pipeline.StageName(cp.Stage))
	}

	w := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return render.Render(w, state.Report, format)
}

// writeReport writes the JSON report and, when requested, a Markdown
// rendition. Used by run and resume.
func writeReport(report *model.Report, jsonPath, mdPath string) error {
	if jsonPath != "" {
		f, err := os.Create(jsonPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", jsonPath, err)
		}
		if err := render.Render(f, report, render.FormatJSON); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", jsonPath, err)
		}
	}
	if mdPath != "" {
		f, err := os.Create(mdPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", mdPath, err)
		}
		if err := render.Render(f, report, render.FormatMarkdown); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", mdPath, err)
		}
	}
	return nil
}
