package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/elonfeng/ytradar/internal/errors"
)

// TableDef is a table a migration creates. Columns lists the columns (and
// declared types) an already existing table must carry to be adopted; Adopt
// lists the remaining columns, added to such a table when absent.
type TableDef struct {
	Name    string
	DDL     string
	Columns map[string]string
	Adopt   []ColumnDef
}

// ColumnDef is a column a migration adds to an existing table. Constraint
// follows the type in the ALTER statement. Stamp fills rows left NULL by the
// new column with the migration time.
type ColumnDef struct {
	Table      string
	Name       string
	Type       string
	Constraint string
	Stamp      bool
}

// IndexDef is an index a migration creates.
type IndexDef struct {
	Name  string
	Table string
	DDL   string
}

// Migration is one additive schema step.
type Migration struct {
	Version int
	Name    string
	Tables  []TableDef
	Columns []ColumnDef
	Indexes []IndexDef
	// After runs inside the migration transaction once the objects exist.
	After func(ctx context.Context, tx *sqlx.Tx) error
}

// MigrationResult describes what a Migrate call did.
type MigrationResult struct {
	From       int    `json:"from"`
	To         int    `json:"to"`
	Applied    []int  `json:"applied"`
	BackupPath string `json:"backup_path,omitempty"`
}

// Initialize creates the database at path and brings it to the latest schema.
// With strict set, a database that already holds tables is rejected with
// ALREADY_INITIALIZED and left untouched.
func Initialize(ctx context.Context, path string, strict bool, opts Options) (*Store, error) {
	if strict {
		tables, err := peekTables(ctx, path)
		if err != nil {
			return nil, err
		}
		if len(tables) > 0 {
			return nil, apperrors.Conflict(apperrors.CodeAlreadyInitialized,
				"database %s already contains %d tables", path, len(tables)).
				WithDetails(map[string]any{"tables": tables})
		}
	}

	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.Migrate(ctx, 0); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Migrate opens the database at path, applies pending migrations up to
// target (0 means latest) and closes it again.
func Migrate(ctx context.Context, path string, target int, opts Options) (*MigrationResult, error) {
	s, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Migrate(ctx, target)
}

// peekTables lists tables of an existing file through a read-only handle so
// nothing about the file changes.
func peekTables(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(apperrors.CodeIO, "stat database", err)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer db.Close()
	return userTables(ctx, db)
}

// CurrentVersion returns the highest applied migration, 0 for a database
// without a version ledger.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

func currentVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'")
	if err != nil {
		return 0, apperrors.ClassifyStorage("read schema ledger", err)
	}
	if n == 0 {
		return 0, nil
	}

	var v sql.NullInt64
	if err := sqlx.GetContext(ctx, q, &v, "SELECT MAX(version) FROM schema_migrations"); err != nil {
		return 0, apperrors.ClassifyStorage("read schema version", err)
	}
	return int(v.Int64), nil
}

// Migrate applies pending migrations up to target (0 means latest). Nothing
// is written, backup included, when the schema is already current. All
// pending steps share one transaction.
func (s *Store) Migrate(ctx context.Context, target int) (*MigrationResult, error) {
	latest := LatestVersion()
	if target == 0 {
		target = latest
	}
	if target < 0 || target > latest {
		return nil, apperrors.Validation(apperrors.CodeInvalidConfig,
			"target version %d out of range 1..%d", target, latest)
	}

	from, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	result := &MigrationResult{From: from, To: from}

	var pending []Migration
	for _, m := range migrations {
		if m.Version > from && m.Version <= target {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		s.log.Debug("schema is current", "version", from)
		return result, nil
	}

	if err := checkConflicts(ctx, s.db, pending); err != nil {
		return nil, err
	}

	backup, err := s.Backup(ctx)
	if err != nil {
		return nil, err
	}
	result.BackupPath = backup

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, ledgerSchema); err != nil {
			return apperrors.ClassifyStorage("create schema ledger", err)
		}
		for _, m := range pending {
			if err := apply(ctx, tx, m); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			result.Applied = append(result.Applied, m.Version)
		}
		return nil
	})
	if err != nil {
		s.log.Error("migration failed, rolled back", "from", from, "target", target, "backup", backup, "err", err)
		return nil, err
	}
	result.To = pending[len(pending)-1].Version

	s.log.Info("schema migrated", "from", result.From, "to", result.To, "backup", backup)

	if backup != "" && s.mirror != nil {
		if err := s.mirror.Upload(ctx, backup); err != nil {
			s.log.Warn("backup mirror upload failed", "backup", backup, "err", err)
		}
	}
	return result, nil
}

func apply(ctx context.Context, tx *sqlx.Tx, m Migration) error {
	for _, t := range m.Tables {
		if _, err := tx.ExecContext(ctx, t.DDL); err != nil {
			return apperrors.ClassifyStorage("create table "+t.Name, err)
		}
	}
	for _, t := range m.Tables {
		for _, c := range t.Adopt {
			if err := addColumn(ctx, tx, c); err != nil {
				return err
			}
		}
	}
	for _, c := range m.Columns {
		if err := addColumn(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, ix := range m.Indexes {
		if _, err := tx.ExecContext(ctx, ix.DDL); err != nil {
			return apperrors.ClassifyStorage("create index "+ix.Name, err)
		}
	}
	if m.After != nil {
		if err := m.After(ctx, tx); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, Now())
	return apperrors.ClassifyStorage("record migration", err)
}

func addColumn(ctx context.Context, tx *sqlx.Tx, c ColumnDef) error {
	cols, err := tableColumns(ctx, tx, c.Table)
	if err != nil {
		return err
	}
	if _, ok := cols[c.Name]; ok {
		return nil
	}
	stmt := strings.TrimSpace(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s %s", c.Table, c.Name, c.Type, c.Constraint))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return apperrors.ClassifyStorage("add column "+c.Table+"."+c.Name, err)
	}
	if c.Stamp {
		stmt = fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NULL", c.Table, c.Name, c.Name)
		if _, err := tx.ExecContext(ctx, stmt, Now()); err != nil {
			return apperrors.ClassifyStorage("stamp column "+c.Table+"."+c.Name, err)
		}
	}
	return nil
}

// checkConflicts verifies that no object a pending migration creates already
// exists with an incompatible definition.
func checkConflicts(ctx context.Context, q sqlx.QueryerContext, pending []Migration) error {
	created := map[string]bool{}

	for _, m := range pending {
		for _, t := range m.Tables {
			kind, err := objectType(ctx, q, t.Name)
			if err != nil {
				return err
			}
			switch kind {
			case "":
				created[t.Name] = true
				continue
			case "table":
			default:
				return conflict(m, "%s exists as a %s, not a table", t.Name, kind)
			}

			info, err := tableInfo(ctx, q, t.Name)
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(t.Columns)+len(t.Adopt))
			for name, want := range t.Columns {
				known[name] = true
				col, ok := info[name]
				if !ok {
					return conflict(m, "table %s exists without column %s", t.Name, name)
				}
				if !sameType(col.Type, want) {
					return conflict(m, "column %s.%s is %s, expected %s", t.Name, name, col.Type, want)
				}
			}
			for _, c := range t.Adopt {
				known[c.Name] = true
				if col, ok := info[c.Name]; ok && !sameType(col.Type, c.Type) {
					return conflict(m, "column %s.%s is %s, expected %s", t.Name, c.Name, col.Type, c.Type)
				}
			}
			// Unknown columns are tolerated unless they would reject our inserts.
			for name, col := range info {
				if !known[name] && !laterColumn(pending, t.Name, name) && col.NotNull && !col.Default.Valid && col.PK == 0 {
					return conflict(m, "column %s.%s is NOT NULL without a default", t.Name, name)
				}
			}
		}

		for _, c := range m.Columns {
			if created[c.Table] {
				continue
			}
			cols, err := tableColumns(ctx, q, c.Table)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return conflict(m, "cannot add column %s to missing table %s", c.Name, c.Table)
			}
			if got, ok := cols[c.Name]; ok && !sameType(got, c.Type) {
				return conflict(m, "column %s.%s is %s, expected %s", c.Table, c.Name, got, c.Type)
			}
		}

		for _, ix := range m.Indexes {
			var table string
			err := sqlx.GetContext(ctx, q, &table,
				"SELECT tbl_name FROM sqlite_master WHERE type = 'index' AND name = ?", ix.Name)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return apperrors.ClassifyStorage("inspect index "+ix.Name, err)
			}
			if table != ix.Table {
				return conflict(m, "index %s exists on %s, expected %s", ix.Name, table, ix.Table)
			}
		}
	}
	return nil
}

func conflict(m Migration, format string, args ...any) error {
	return apperrors.Conflict(apperrors.CodeMigrationConflict,
		"migration %d (%s): %s", m.Version, m.Name, fmt.Sprintf(format, args...))
}

func objectType(ctx context.Context, q sqlx.QueryerContext, name string) (string, error) {
	var kind string
	err := sqlx.GetContext(ctx, q, &kind, "SELECT type FROM sqlite_master WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.ClassifyStorage("inspect "+name, err)
	}
	return kind, nil
}

// laterColumn reports whether a pending migration adds the column itself.
func laterColumn(pending []Migration, table, name string) bool {
	for _, m := range pending {
		for _, c := range m.Columns {
			if c.Table == table && c.Name == name {
				return true
			}
		}
	}
	return false
}

type columnInfo struct {
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull bool           `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// tableInfo describes the columns of table. A missing table yields an empty
// map.
func tableInfo(ctx context.Context, q sqlx.QueryerContext, table string) (map[string]columnInfo, error) {
	var rows []columnInfo
	err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT name, type, \"notnull\", dflt_value, pk FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, apperrors.ClassifyStorage("inspect columns of "+table, err)
	}
	info := make(map[string]columnInfo, len(rows))
	for _, r := range rows {
		info[r.Name] = r
	}
	return info, nil
}

// tableColumns maps column name to declared type.
func tableColumns(ctx context.Context, q sqlx.QueryerContext, table string) (map[string]string, error) {
	info, err := tableInfo(ctx, q, table)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]string, len(info))
	for name, c := range info {
		cols[name] = c.Type
	}
	return cols, nil
}

// sameType compares declared types by SQLite column affinity, so INT and
// INTEGER or VARCHAR(64) and TEXT are interchangeable.
func sameType(got, want string) bool {
	return affinity(got) == affinity(want)
}

func affinity(decl string) string {
	t := strings.ToUpper(decl)
	switch {
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case strings.TrimSpace(t) == "", strings.Contains(t, "BLOB"):
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	}
	return "NUMERIC"
}
