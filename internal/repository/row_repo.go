package repository

import (
	"fmt"

	"sentiment-labeler/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// RowRepository stores the input rows submitted for labeling, keyed by id.
type RowRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRowRepository(db *sqlx.DB, logger *zap.Logger) *RowRepository {
	return &RowRepository{db: db, logger: logger}
}

// UpsertRows inserts rows, replacing existing rows with the same id.
func (r *RowRepository) UpsertRows(rows []models.InputRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO input_rows (id, text, likes, is_reply, posted, platform, vader_label, vader)
		VALUES (:id, :text, :likes, :is_reply, :posted, :platform, :vader_label, :vader)
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			likes = excluded.likes,
			is_reply = excluded.is_reply,
			posted = excluded.posted,
			platform = excluded.platform,
			vader_label = excluded.vader_label,
			vader = excluded.vader
	`

	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(query)
	if err != nil {
		return fmt.Errorf("failed to prepare row upsert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.Exec(&rows[i]); err != nil {
			return fmt.Errorf("failed to upsert row %d: %w", rows[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rows: %w", err)
	}

	r.logger.Debug("Rows stored", zap.Int("count", len(rows)))
	return nil
}

// ListRows returns every stored row ordered by id.
func (r *RowRepository) ListRows() ([]models.InputRow, error) {
	rows := []models.InputRow{}
	if err := r.db.Select(&rows, `SELECT id, text, likes, is_reply, posted, platform, vader_label, vader FROM input_rows ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	return rows, nil
}

// CountRows returns the number of stored rows.
func (r *RowRepository) CountRows() (int, error) {
	var n int
	if err := r.db.Get(&n, `SELECT COUNT(*) FROM input_rows`); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}
