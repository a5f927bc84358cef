// Package storelock implements the advisory per-task lock file,
// storePath/b/<id>.lock, acquired before a build and released after the
// stage-to-install rename, with bounded exponential backoff on contention.
package storelock

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nbmpm/nbm/internal/nbmerr"
	"golang.org/x/sys/unix"
)

const maxAttempts = 5

// Lock holds an acquired advisory lock; Close releases it.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the lock file at path and takes an
// exclusive, non-blocking flock on it, making up to 5 attempts with
// exponential backoff between them before giving up.
//
// A crashed holder's lock is implicitly released by the kernel when its
// file descriptor closes, so the next invocation's Acquire succeeds once
// the crashed process is gone; no separate recovery step is needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nbmerr.New(nbmerr.KindLockContention, "%v", err).WithContext("creating lock directory for " + path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nbmerr.New(nbmerr.KindLockContention, "%v", err).WithContext("opening lock file " + path)
	}

	backoff := 10 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	f.Close()
	return nil, nbmerr.New(nbmerr.KindLockContention, "%v", lastErr).WithContext("locking " + path + " after " + strconv.Itoa(maxAttempts) + " attempts")
}

// Close releases the lock and closes the underlying file descriptor.
func (l *Lock) Close() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
