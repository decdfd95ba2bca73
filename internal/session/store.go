// Package session persists reconciliation runs as an append-only
// journal in SQLite: one row per session plus a checkpoint row after
// every completed pipeline stage, so an interrupted run resumes from
// the latest durable stage instead of starting over.
package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped on any schema change. Old databases refuse to
// open rather than silently misread.
const schemaVersion = 1

// Status values for a session row.
const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusAbandoned  = "abandoned"
	StatusArchived   = "archived"
)

// Session is one reconciliation run.
type Session struct {
	ID        string
	Subject   string
	Status    string
	Stage     int // highest stage with a durable checkpoint
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Checkpoint is the durable state after one pipeline stage.
type Checkpoint struct {
	SessionID string
	Stage     int
	StageName string
	State     json.RawMessage
	CreatedAt time.Time
}

// Store manages session persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open initializes or connects to the session database under dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}

	dbPath := filepath.Join(dir, "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start fresh)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Create inserts a new in-progress session for the given subject.
func (s *Store) Create(ctx context.Context, subject string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		Subject:   subject,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, subject, status, stage, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.Subject, sess.Status,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get returns one session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject, status, stage, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, err
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, status, stage, created_at, updated_at
         FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Checkpoint appends the state after one completed stage and advances
// the session's stage marker. Checkpoints are append-only: resuming a
// stage appends a new row rather than rewriting history.
func (s *Store) Checkpoint(ctx context.Context, sessionID string, stage int, stageName string, state any) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal stage %d state: %w", stage, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, stage, stage_name, state_json, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		sessionID, stage, stageName, string(blob), now,
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET stage = ?, updated_at = ? WHERE id = ?`,
		stage, now, sessionID,
	); err != nil {
		return fmt.Errorf("advance session stage: %w", err)
	}
	return tx.Commit()
}

// Latest returns the most recent readable checkpoint for a session.
// An unreadable newest checkpoint is reported through the returned
// *CorruptionError and the store falls back to the next older one, so
// a partial write loses one stage instead of the whole session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*Checkpoint, *CorruptionError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, stage_name, state_json, created_at
         FROM checkpoints WHERE session_id = ?
         ORDER BY stage DESC, id DESC`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoints: %w", err)
	}
	defer rows.Close()

	var corrupt *CorruptionError
	for rows.Next() {
		var cp Checkpoint
		var blob, created string
		if err := rows.Scan(&cp.Stage, &cp.StageName, &blob, &created); err != nil {
			return nil, nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if !json.Valid([]byte(blob)) {
			if corrupt == nil {
				corrupt = &CorruptionError{SessionID: sessionID, Stage: cp.Stage, Reason: "state blob is not valid JSON"}
				s.logger.Warn("checkpoint corrupt, falling back", "session", sessionID, "stage", cp.Stage)
			}
			continue
		}
		cp.SessionID = sessionID
		cp.State = json.RawMessage(blob)
		cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		return &cp, corrupt, nil
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return nil, corrupt, nil
}

// SetStatus moves a session to a terminal or recovered status.
func (s *Store) SetStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// Archive marks complete or stale sessions as archived. It never
// touches a session updated within staleAfter unless it is already
// complete.
func (s *Store) Archive(ctx context.Context, sessionID string, staleAfter time.Duration) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == StatusInProgress && time.Since(sess.UpdatedAt) < staleAfter {
		return fmt.Errorf("session %s is in progress and not yet stale; use --force to archive anyway", sessionID)
	}
	return s.SetStatus(ctx, sessionID, StatusArchived)
}

// Delete removes a session and its checkpoints.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.Subject, &sess.Status, &sess.Stage, &created, &updated); err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &sess, nil
}
