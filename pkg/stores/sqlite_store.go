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

	"github.com/uvk/uvk/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.HistoryStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded source.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

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

// RecordStart inserts a launch row in its starting state.
func (s *SQLiteStore) RecordStart(ctx context.Context, rec *engine.LaunchRecord) error {
	query := `
		INSERT INTO launches (id, kernel, root, python, state, exit_code, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Kernel,
		rec.Root,
		rec.Python,
		string(rec.State),
		rec.ExitCode,
		rec.StartedAt,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record launch start: %w", err)
	}

	return nil
}

// RecordExit closes out a launch row with its terminal state and exit code.
func (s *SQLiteStore) RecordExit(ctx context.Context, id string, state engine.KernelState, exitCode int) error {
	query := `
		UPDATE launches
		SET state = ?, exit_code = ?, ended_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, string(state), exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record launch exit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("launch not found: %s", id)
	}

	return nil
}

// List returns the most recent launches, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]engine.LaunchRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kernel, root, python, state, exit_code, started_at, ended_at
		FROM launches
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list launches: %w", err)
	}
	defer rows.Close()

	records := []engine.LaunchRecord{}
	for rows.Next() {
		var rec engine.LaunchRecord
		var state string
		if err := rows.Scan(
			&rec.ID,
			&rec.Kernel,
			&rec.Root,
			&rec.Python,
			&state,
			&rec.ExitCode,
			&rec.StartedAt,
			&rec.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan launch: %w", err)
		}
		rec.State = engine.KernelState(state)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating launches: %w", err)
	}

	return records, nil
}

// Get retrieves a launch by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*engine.LaunchRecord, error) {
	query := `
		SELECT id, kernel, root, python, state, exit_code, started_at, ended_at
		FROM launches
		WHERE id = ?
	`

	var rec engine.LaunchRecord
	var state string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Kernel,
		&rec.Root,
		&rec.Python,
		&state,
		&rec.ExitCode,
		&rec.StartedAt,
		&rec.EndedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("launch not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get launch: %w", err)
	}

	rec.State = engine.KernelState(state)
	return &rec, nil
}

// FindActiveByRoot returns the launch currently running against the given
// environment root, or nil when no launch is active there. The newest launch
// wins if stale open rows exist.
func (s *SQLiteStore) FindActiveByRoot(ctx context.Context, root string) (*engine.LaunchRecord, error) {
	query := `
		SELECT id, kernel, root, python, state, exit_code, started_at, ended_at
		FROM launches
		WHERE root = ? AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`

	var rec engine.LaunchRecord
	var state string
	err := s.db.QueryRowContext(ctx, query, root).Scan(
		&rec.ID,
		&rec.Kernel,
		&rec.Root,
		&rec.Python,
		&state,
		&rec.ExitCode,
		&rec.StartedAt,
		&rec.EndedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find launch by root: %w", err)
	}

	rec.State = engine.KernelState(state)
	return &rec, nil
}

// RecordMutation appends a mutation row for a launch.
func (s *SQLiteStore) RecordMutation(ctx context.Context, rec *MutationRecord) error {
	query := `
		INSERT INTO mutations (launch_id, strategy, specifiers, source, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.LaunchID,
		rec.Strategy,
		rec.Specifiers,
		rec.Source,
		rec.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record mutation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get mutation ID: %w", err)
	}
	rec.ID = id
	return nil
}

// ListMutations returns the mutations applied during one launch, oldest first.
func (s *SQLiteStore) ListMutations(ctx context.Context, launchID string) ([]*MutationRecord, error) {
	query := `
		SELECT id, launch_id, strategy, specifiers, source, applied_at
		FROM mutations
		WHERE launch_id = ?
		ORDER BY applied_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, launchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	records := []*MutationRecord{}
	for rows.Next() {
		rec := &MutationRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.LaunchID,
			&rec.Strategy,
			&rec.Specifiers,
			&rec.Source,
			&rec.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}

	return records, nil
}

// PruneBefore deletes launches that ended before the cutoff and returns how
// many rows were removed. Mutations cascade with their launch.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM launches WHERE ended_at IS NOT NULL AND ended_at < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune launches: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
