package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock guards a session directory against concurrent processes. Two
// runs writing the same journal would interleave checkpoints, so the
// lock is taken before the store opens and held for the process life.
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock takes the directory lock or returns ErrLocked when
// another process holds it.
func AcquireLock(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}
	path := filepath.Join(dir, "concord.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock file %s)", ErrLocked, path)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
