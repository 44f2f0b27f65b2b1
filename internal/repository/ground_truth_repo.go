package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentiment-labeler/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// GroundTruthRepository stores human annotations.
type GroundTruthRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewGroundTruthRepository(db *sqlx.DB, logger *zap.Logger) *GroundTruthRepository {
	return &GroundTruthRepository{db: db, logger: logger, now: time.Now}
}

// Upsert stores annotations, replacing earlier ones with the same id.
func (r *GroundTruthRepository) Upsert(truth []models.GroundTruth) error {
	if len(truth) == 0 {
		return nil
	}

	query := `
		INSERT INTO ground_truth (id, text, human_label, human_sarcasm, human_ethics, updated_at)
		VALUES (:id, :text, :human_label, :human_sarcasm, :human_ethics, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			human_label = excluded.human_label,
			human_sarcasm = excluded.human_sarcasm,
			human_ethics = excluded.human_ethics,
			updated_at = excluded.updated_at
	`

	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	for i := range truth {
		gt := truth[i]
		gt.UpdatedAt = now
		if _, err := tx.NamedExec(query, &gt); err != nil {
			return fmt.Errorf("failed to upsert ground truth %d: %w", gt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ground truth: %w", err)
	}

	r.logger.Info("Ground truth stored", zap.Int("count", len(truth)))
	return nil
}

// List returns every annotation ordered by id.
func (r *GroundTruthRepository) List() ([]models.GroundTruth, error) {
	truth := []models.GroundTruth{}
	if err := r.db.Select(&truth, `SELECT * FROM ground_truth ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list ground truth: %w", err)
	}
	return truth, nil
}

// Get returns the annotation for id.
func (r *GroundTruthRepository) Get(id int64) (*models.GroundTruth, error) {
	var gt models.GroundTruth
	err := r.db.Get(&gt, r.db.Rebind(`SELECT * FROM ground_truth WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ground truth %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ground truth: %w", err)
	}
	return &gt, nil
}
