package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the ledger at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection: an in-memory database exists per connection, and the
	// ledger is written by a single run at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, t domain.Transition) error {
	return recordTransition(ctx, s.db, t)
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, runID string) ([]domain.Transition, error) {
	return listTransitions(ctx, s.db, runID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) RecordTransition(ctx context.Context, t domain.Transition) error {
	return recordTransition(ctx, s.tx, t)
}

func (s *txSQLiteStore) ListTransitions(ctx context.Context, runID string) ([]domain.Transition, error) {
	return listTransitions(ctx, s.tx, runID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just call fn
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// Transaction store doesn't own the connection
	return nil
}

// =============================================================================
// Rows
// =============================================================================

type runRow struct {
	ID             string  `db:"id"`
	ServiceName    string  `db:"service_name"`
	Stage          string  `db:"stage"`
	Status         string  `db:"status"`
	Tag            string  `db:"tag"`
	Image          string  `db:"image"`
	Endpoint       string  `db:"endpoint"`
	CleanupSummary string  `db:"cleanup_summary"`
	FailedStep     string  `db:"failed_step"`
	ErrorMessage   string  `db:"error_message"`
	StartedAt      string  `db:"started_at"`
	FinishedAt     *string `db:"finished_at"`
}

type transitionRow struct {
	ID        int64  `db:"id"`
	RunID     string `db:"run_id"`
	FromStage string `db:"from_stage"`
	ToStage   string `db:"to_stage"`
	At        string `db:"at"`
}

func runToRow(run *domain.Run) map[string]any {
	var finishedAt *string
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &f
	}
	return map[string]any{
		"id":              run.ID,
		"service_name":    run.ServiceName,
		"stage":           string(run.Stage),
		"status":          string(run.Status),
		"tag":             run.Tag,
		"image":           run.Image,
		"endpoint":        run.Endpoint,
		"cleanup_summary": run.CleanupSummary,
		"failed_step":     run.FailedStep,
		"error_message":   run.ErrorMessage,
		"started_at":      run.StartedAt.UTC().Format(timeLayout),
		"finished_at":     finishedAt,
	}
}

func rowToRun(row *runRow) (*domain.Run, error) {
	startedAt, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "invalid started_at", ErrInvalidData)
	}
	run := &domain.Run{
		ID:             row.ID,
		ServiceName:    row.ServiceName,
		Stage:          domain.Stage(row.Stage),
		Status:         domain.RunStatus(row.Status),
		Tag:            row.Tag,
		Image:          row.Image,
		Endpoint:       row.Endpoint,
		CleanupSummary: row.CleanupSummary,
		FailedStep:     row.FailedStep,
		ErrorMessage:   row.ErrorMessage,
		StartedAt:      startedAt,
	}
	if row.FinishedAt != nil {
		finishedAt, err := time.Parse(timeLayout, *row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToRun", "run", row.ID, "invalid finished_at", ErrInvalidData)
		}
		run.FinishedAt = &finishedAt
	}
	return run, nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, service_name, stage, status, tag, image, endpoint,
			cleanup_summary, failed_step, error_message, started_at, finished_at
		) VALUES (
			:id, :service_name, :stage, :status, :tag, :image, :endpoint,
			:cleanup_summary, :failed_step, :error_message, :started_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	return rowToRun(&row)
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			stage = :stage,
			status = :status,
			tag = :tag,
			image = :image,
			endpoint = :endpoint,
			cleanup_summary = :cleanup_summary,
			failed_step = :failed_step,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, runToRow(run))
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "run not found", ErrNotFound)
	}
	return nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()

	var rows []runRow
	var err error
	if opts.ServiceName != "" {
		query := `SELECT * FROM runs WHERE service_name = ? ORDER BY started_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.ServiceName, opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(&row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func recordTransition(ctx context.Context, exec executor, t domain.Transition) error {
	query := `
		INSERT INTO run_transitions (run_id, from_stage, to_stage, at)
		VALUES (:run_id, :from_stage, :to_stage, :at)`

	row := map[string]any{
		"run_id":     t.RunID,
		"from_stage": string(t.From),
		"to_stage":   string(t.To),
		"at":         t.At.UTC().Format(timeLayout),
	}
	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("RecordTransition", "transition", t.RunID, "run not found", ErrForeignKey)
		}
		return NewStoreError("RecordTransition", "transition", t.RunID, err.Error(), err)
	}
	return nil
}

func listTransitions(ctx context.Context, exec executor, runID string) ([]domain.Transition, error) {
	query := `SELECT * FROM run_transitions WHERE run_id = ? ORDER BY id ASC`

	var rows []transitionRow
	if err := exec.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, NewStoreError("ListTransitions", "transition", runID, err.Error(), err)
	}

	transitions := make([]domain.Transition, 0, len(rows))
	for _, row := range rows {
		at, err := time.Parse(timeLayout, row.At)
		if err != nil {
			return nil, NewStoreError("ListTransitions", "transition", runID, "invalid timestamp", ErrInvalidData)
		}
		transitions = append(transitions, domain.Transition{
			RunID: row.RunID,
			From:  domain.Stage(row.FromStage),
			To:    domain.Stage(row.ToStage),
			At:    at,
		})
	}
	return transitions, nil
}
