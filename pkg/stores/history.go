// Package stores persists run history in a local SQLite database so past
// runs can be inspected after the fact.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/hostplane/hostplane/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded run.
type Run struct {
	ID          string
	Playbook    string
	CheckMode   bool
	Status      engine.RunStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Summary     engine.RunSummary
}

// TaskRecord is one recorded task outcome within a run.
type TaskRecord struct {
	RunID    string
	Seq      int
	TaskName string
	Module   string
	Status   engine.TaskStatus
	Changed  bool
	Action   string
	Error    string
	Duration time.Duration
}

// HistoryStore is a SQLite-backed run history.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// NewHistoryStore creates a store for the database at path. Init must be
// called before use.
func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &HistoryStore{path: path}, nil
}

// Init opens the database, enables WAL mode and runs pending migrations.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *HistoryStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordRun persists a completed run and its task outcomes in one
// transaction.
func (s *HistoryStore) RecordRun(ctx context.Context, playbook string, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, playbook, check_mode, status, started_at, completed_at,
			ok_count, changed_count, failed_count, skipped_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID,
		playbook,
		report.CheckMode,
		string(report.Status),
		report.StartedAt,
		report.CompletedAt,
		report.Summary.OK,
		report.Summary.Changed,
		report.Summary.Failed,
		report.Summary.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, task := range report.Tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_results (run_id, seq, task_name, module, status, changed, action, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID,
			i,
			task.TaskName,
			string(task.Module),
			string(task.Status),
			task.Changed,
			task.Action,
			task.Error,
			task.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert task result: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playbook, check_mode, status, started_at, completed_at,
			ok_count, changed_count, failed_count, skipped_count
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var run Run
		var status string
		if err := rows.Scan(&run.ID, &run.Playbook, &run.CheckMode, &status,
			&run.StartedAt, &run.CompletedAt,
			&run.Summary.OK, &run.Summary.Changed, &run.Summary.Failed, &run.Summary.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = engine.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its task outcomes.
func (s *HistoryStore) GetRun(ctx context.Context, id string) (*Run, []TaskRecord, error) {
	var run Run
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, playbook, check_mode, status, started_at, completed_at,
			ok_count, changed_count, failed_count, skipped_count
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Playbook, &run.CheckMode, &status,
			&run.StartedAt, &run.CompletedAt,
			&run.Summary.OK, &run.Summary.Changed, &run.Summary.Failed, &run.Summary.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load run: %w", err)
	}
	run.Status = engine.RunStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, task_name, module, status, changed, action, error, duration_ms
		FROM task_results WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load task results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []TaskRecord
	for rows.Next() {
		var task TaskRecord
		var taskStatus string
		var durationMs int64
		if err := rows.Scan(&task.RunID, &task.Seq, &task.TaskName, &task.Module,
			&taskStatus, &task.Changed, &task.Action, &task.Error, &durationMs); err != nil {
			return nil, nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		task.Status = engine.TaskStatus(taskStatus)
		task.Duration = time.Duration(durationMs) * time.Millisecond
		tasks = append(tasks, task)
	}
	return &run, tasks, rows.Err()
}
