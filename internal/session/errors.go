package session

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch indicates the database was created by an
// incompatible version.
var ErrSchemaMismatch = errors.New("session schema version mismatch")

// ErrNotFound reports a session ID with no row.
var ErrNotFound = errors.New("session not found")

// ErrLocked reports another process holding the session directory lock.
var ErrLocked = errors.New("another instance is already running against this session directory")

// CorruptionError reports an unreadable checkpoint. The store recovers
// by falling back to the most recent checkpoint that still parses; the
// error carries what was lost so the caller can log it.
type CorruptionError struct {
	SessionID string
	Stage     int
	Reason    string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("session %s: checkpoint for stage %d unreadable: %s", e.SessionID, e.Stage, e.Reason)
}
