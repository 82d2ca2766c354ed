// Package filelock gives each index and content database its own
// cross-process write lock, per §5 ("Locking discipline: prefer per-file
// write serialization over global locks"). The FTS and vector indexes also
// hold an in-process sync.RWMutex for concurrent goroutines within one run
// of the engine; the content store holds none. This package guards
// concurrent *processes*: two CLI invocations racing against the same
// backing file.
package filelock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/localkb/localkb/internal/kberrors"
)

// Lock is an exclusive, cross-process write lock scoped to one backing
// file. The lock file lives alongside it as "<path>.lock".
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New builds a Lock for the database at dbPath. dbPath need not exist yet.
func New(dbPath string) *Lock {
	lockPath := dbPath + ".lock"
	return &Lock{path: lockPath, flock: flock.New(lockPath)}
}

// Lock acquires the exclusive lock, blocking until it is available.
func (l *Lock) Lock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := l.flock.Lock(); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to acquire write lock")
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. A false return
// with a nil error means another process currently holds it.
func (l *Lock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to acquire write lock")
	}
	l.locked = acquired
	return acquired, nil
}

// IsLocked reports whether this Lock instance currently holds the lock.
func (l *Lock) IsLocked() bool { return l.locked }

func (l *Lock) ensureDir() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to create lock directory")
		}
	}
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return kberrors.Wrap(kberrors.IndexUnavailable, err, "failed to release write lock")
	}
	return nil
}

// Path returns the lock file's path, for diagnostics.
func (l *Lock) Path() string { return l.path }
