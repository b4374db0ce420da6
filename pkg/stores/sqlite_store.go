// Package stores persists run history in a local SQLite database so
// operators can audit what past cleanup runs changed on a machine.
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

	"github.com/ghostsweep/ghostsweep/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore keeps the run history in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path, enables WAL
// mode and runs pending migrations. Use ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// SaveRun persists a finished run and all its step results in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.WorkflowRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, hostname, status, dry_run, unattended, backup_id, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Hostname,
		string(run.Status),
		run.DryRun,
		run.Unattended,
		nullable(run.BackupID),
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, res := range run.Results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_results (run_id, seq, step, target, outcome, detail, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			i,
			res.Step,
			nullable(res.Target),
			string(res.Outcome),
			nullable(res.Detail),
			res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting step result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// GetRun loads one run with its step results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.WorkflowRun, error) {
	run := &engine.WorkflowRun{}
	var status string
	var backupID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, hostname, status, dry_run, unattended, backup_id, started_at, completed_at
		FROM runs WHERE id = ?
	`, id).Scan(
		&run.ID,
		&run.Hostname,
		&status,
		&run.DryRun,
		&run.Unattended,
		&backupID,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	run.Status = engine.RunStatus(status)
	run.BackupID = backupID.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, target, outcome, detail, duration_ms
		FROM step_results WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("loading step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var res engine.StepResult
		var target, detail sql.NullString
		var outcome string
		var durationMS int64
		if err := rows.Scan(&res.Step, &target, &outcome, &detail, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning step result: %w", err)
		}
		res.Target = target.String
		res.Detail = detail.String
		res.Outcome = engine.Outcome(outcome)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		run.Results = append(run.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating step results: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, without their step results.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, status, dry_run, unattended, backup_id, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.WorkflowRun
	for rows.Next() {
		run := &engine.WorkflowRun{}
		var status string
		var backupID sql.NullString
		if err := rows.Scan(
			&run.ID,
			&run.Hostname,
			&status,
			&run.DryRun,
			&run.Unattended,
			&backupID,
			&run.StartedAt,
			&run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Status = engine.RunStatus(status)
		run.BackupID = backupID.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
