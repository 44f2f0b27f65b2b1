package models

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle of an async labeling job.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Run represents an async labeling job over one or more models.
type Run struct {
	ID           string     `json:"id" db:"id"`
	Status       RunStatus  `json:"status" db:"status"`
	Models       string     `json:"models" db:"models"` // comma separated, in run order
	TotalRows    int        `json:"total_rows" db:"total_rows"`
	Planned      int        `json:"planned" db:"planned"`
	Made         int        `json:"made" db:"made"`
	CacheHits    int        `json:"cache_hits" db:"cache_hits"`
	Unresolved   int        `json:"unresolved" db:"unresolved"`
	CurrentModel string     `json:"current_model,omitempty" db:"current_model"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// ModelList splits Models back into names.
func (r *Run) ModelList() []string {
	if r.Models == "" {
		return nil
	}
	return strings.Split(r.Models, ",")
}

// RunRequest starts a labeling job over rows for the given models.
type RunRequest struct {
	Rows   []InputRow `json:"rows" binding:"required,min=1,dive"`
	Models []string   `json:"models"`
}
