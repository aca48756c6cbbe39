//go:build unix

package store

import (
	"os"
	"syscall"
	"time"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// FileLock is an advisory flock(2) lock on <db>.lock. It keeps a second
// writer process away from the same database file.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock for the database at path. Nothing is acquired
// until Lock is called.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires an exclusive lock, polling until timeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return apperrors.Transient(apperrors.CodeIO, "open lock file "+l.path, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.Close()
	return apperrors.Transient(apperrors.CodeLockTimeout, "another writer holds "+l.path, err)
}

// Unlock releases the lock. Safe on a nil or unlocked FileLock.
func (l *FileLock) Unlock() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
}
