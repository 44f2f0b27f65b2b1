package service

import (
	"fmt"

	"sentiment-labeler/internal/evaluate"
	"sentiment-labeler/internal/export"
	"sentiment-labeler/internal/models"

	"go.uber.org/zap"
)

// TruthStore keeps human annotations. *repository.GroundTruthRepository satisfies it.
type TruthStore interface {
	Upsert(truth []models.GroundTruth) error
	List() ([]models.GroundTruth, error)
}

// Reports joins stored rows, ledgers and ground truth.
type Reports struct {
	runner *Runner
	truth  TruthStore
	logger *zap.Logger
}

func NewReports(runner *Runner, truth TruthStore, logger *zap.Logger) *Reports {
	return &Reports{runner: runner, truth: truth, logger: logger}
}

// ImportGroundTruth stores annotations, replacing earlier ones per id.
func (s *Reports) ImportGroundTruth(truth []models.GroundTruth) error {
	for _, gt := range truth {
		if gt.ID < 0 {
			return fmt.Errorf("ground truth id %d is negative", gt.ID)
		}
	}
	return s.truth.Upsert(truth)
}

// GroundTruth returns every annotation ordered by id.
func (s *Reports) GroundTruth() ([]models.GroundTruth, error) {
	return s.truth.List()
}

// Table builds the wide comparison table over every stored row.
func (s *Reports) Table() (*export.Table, error) {
	rows, err := s.runner.Rows()
	if err != nil {
		return nil, err
	}
	truth, err := s.truth.List()
	if err != nil {
		return nil, err
	}
	return export.Build(rows, s.runner.Ledgers(), truth), nil
}

// Evaluate scores every model against the ground truth.
func (s *Reports) Evaluate() (*evaluate.Report, error) {
	table, err := s.Table()
	if err != nil {
		return nil, err
	}
	report := evaluate.Evaluate(table)
	s.logger.Debug("Evaluation computed",
		zap.Int("rows", len(table.Rows)),
		zap.Int("predictors", len(report.Overall)))
	return report, nil
}
