package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/tasksync/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: all writes are serialized by the engine anyway, and
	// ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveTask inserts or replaces a task handle.
func (s *SQLiteStore) SaveTask(ctx context.Context, task model.TaskHandle) error {
	if task.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if !task.Kind.Valid() {
		return fmt.Errorf("invalid task kind %q", task.Kind)
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (id, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		task.ID, string(task.Kind), string(task.Status),
		task.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTaskStatus records the last observed status of a task.
func (s *SQLiteStore) UpdateTaskStatus(
	ctx context.Context,
	id string,
	status model.TaskStatus,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// GetTaskByID retrieves a single task handle by its ID.
func (s *SQLiteStore) GetTaskByID(
	ctx context.Context,
	id string,
) (*model.TaskHandle, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT id, kind, status, created_at, updated_at FROM tasks WHERE id = ?", id)

	task, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return &task, nil
}

// GetPendingTasks returns all non-terminal task handles, newest first.
func (s *SQLiteStore) GetPendingTasks(ctx context.Context) ([]model.TaskHandle, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, kind, status, created_at, updated_at FROM tasks
		WHERE status NOT IN ('completed', 'failed')
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskHandle
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask scans a task row.
func scanTask(row rowScanner) (model.TaskHandle, error) {
	var (
		task      model.TaskHandle
		kind      string
		status    string
		createdAt int64
		updatedAt int64
	)

	if err := row.Scan(&task.ID, &kind, &status, &createdAt, &updatedAt); err != nil {
		return model.TaskHandle{}, fmt.Errorf("scanning task row: %w", err)
	}

	task.Kind = model.TaskKind(kind)
	task.Status = model.TaskStatus(status)
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	task.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return task, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullUnix converts an optional time to a nullable unix timestamp.
func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// nullString converts an optional string to a nullable column value.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// isNoRows reports whether err wraps sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
