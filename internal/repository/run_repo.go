// Package repository persists labeling jobs, input rows and human labels.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"sentiment-labeler/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// RunRepository stores labeling jobs.
type RunRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRunRepository creates a new repository
func NewRunRepository(db *sqlx.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateRun inserts a new job.
func (r *RunRepository) CreateRun(run *models.Run) error {
	query := `
		INSERT INTO runs (
			id, status, models, total_rows, planned, made, cache_hits, unresolved,
			current_model, created_at, completed_at, error_message
		) VALUES (
			:id, :status, :models, :total_rows, :planned, :made, :cache_hits, :unresolved,
			:current_model, :created_at, :completed_at, :error_message
		)
	`

	if _, err := r.db.NamedExec(query, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun writes progress, status and completion fields.
func (r *RunRepository) UpdateRun(run *models.Run) error {
	query := `
		UPDATE runs
		SET status = :status, planned = :planned, made = :made, cache_hits = :cache_hits,
		    unresolved = :unresolved, current_model = :current_model,
		    completed_at = :completed_at, error_message = :error_message
		WHERE id = :id
	`

	res, err := r.db.NamedExec(query, run)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a job by ID
func (r *RunRepository) GetRun(id string) (*models.Run, error) {
	var run models.Run
	err := r.db.Get(&run, r.db.Rebind(`SELECT * FROM runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent jobs first.
func (r *RunRepository) ListRuns(limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []models.Run{}
	if err := r.db.Select(&runs, r.db.Rebind(`SELECT * FROM runs ORDER BY created_at DESC LIMIT ?`), limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// FailStaleRuns marks jobs left pending or processing by a previous process
// as failed. It returns the number of jobs updated.
func (r *RunRepository) FailStaleRuns(reason string) (int64, error) {
	res, err := r.db.Exec(r.db.Rebind(`
		UPDATE runs SET status = ?, error_message = ?
		WHERE status IN (?, ?)
	`), models.RunFailed, reason, models.RunPending, models.RunProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Warn("Marked interrupted runs as failed", zap.Int64("count", n))
	}
	return n, nil
}
