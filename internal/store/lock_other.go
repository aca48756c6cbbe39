//go:build !unix

package store

import "time"

// FileLock is a no-op on platforms without flock(2); SQLite's own locking
// still applies.
type FileLock struct{}

func NewFileLock(path string) *FileLock { return &FileLock{} }

func (l *FileLock) Lock(timeout time.Duration) error { return nil }

func (l *FileLock) Unlock() {}
