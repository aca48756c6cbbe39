package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// BackupLayout is the UTC timestamp suffix of backup files.
const BackupLayout = "20060102T150405Z"

// BackupMirror receives a copy of every backup file written by Migrate.
type BackupMirror interface {
	Upload(ctx context.Context, localPath string) error
}

// BackupName returns the sibling backup path for a database at path.
func BackupName(path string, at time.Time) string {
	return path + ".backup_" + at.UTC().Format(BackupLayout)
}

// Backup copies the database file to <path>.backup_<timestamp> and returns
// the backup path. The WAL is checkpointed first so the copy is complete.
// A database without tables holds nothing worth keeping; it is not backed
// up and "" is returned.
func (s *Store) Backup(ctx context.Context) (string, error) {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", apperrors.ClassifyStorage("checkpoint wal", err)
	}

	tables, err := userTables(ctx, s.db)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", nil
	}

	dst := BackupName(s.path, time.Now())
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = fmt.Sprintf("%s_%d", BackupName(s.path, time.Now()), i)
	}

	if err := copyFile(s.path, dst); err != nil {
		return "", apperrors.Transient(apperrors.CodeIO, "write backup", err)
	}
	return dst, nil
}

// copyFile writes src to dst through a temp file in dst's directory and
// renames it into place, so dst is never partially written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ytradar-backup-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
