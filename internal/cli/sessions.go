package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"concord/internal/pipeline"
	"concord/internal/session"
)

var (
	sessionsForce   bool
	sessionsStatus  string
	sessionsSubject string
)

// sessionsCmd groups session management.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, archive, and delete reconciliation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Session.Dir, newLogger(cfg))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		sessions, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		sessions = filterSessions(sessions, sessionsStatus, sessionsSubject)
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Subject", "Status", "Stage", "Updated"})
		for _, s := range sessions {
			t.AppendRow(table.Row{
				s.ID, s.Subject, s.Status,
				pipeline.StageName(s.Stage),
				s.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		t.Render()
		return nil
	},
}

var sessionsArchiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Archive a complete or stale session",
	Long: `Archive marks a session as archived. An in-progress session younger
than the configured stale window is refused unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Session.Dir, newLogger(cfg))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		staleAfter := cfg.Session.StaleAfter
		if sessionsForce {
			staleAfter = 0
		}
		if err := store.Archive(cmd.Context(), args[0], staleAfter); err != nil {
			return err
		}
		fmt.Printf("Archived session %s\n", args[0])
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its checkpoints",
	Long: `Delete permanently removes a session, including every checkpoint.
This is irreversible, so it requires --force.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !sessionsForce {
			return fmt.Errorf("deleting a session is irreversible; re-run with --force")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := session.Open(cfg.Session.Dir, newLogger(cfg))
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func filterSessions(sessions []*session.Session, status, subject string) []*session.Session {
	if status == "" && subject == "" {
		return sessions
	}
	var out []*session.Session
	for _, s := range sessions {
		if status != "" && string(s.Status) != status {
			continue
		}
		if subject != "" && s.Subject != subject {
			continue
		}
		out = append(out, s)
	}
	return out
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsArchiveCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsCmd.PersistentFlags().BoolVar(&sessionsForce, "force", false, "skip safety checks")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "only sessions with this status")
	sessionsListCmd.Flags().StringVar(&sessionsSubject, "subject", "", "only sessions for this subject")
}
