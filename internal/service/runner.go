// Package service runs labeling jobs across models and serves their results.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentiment-labeler/internal/labeler"
	"sentiment-labeler/internal/ledger"
	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a job is submitted while another runs.
var ErrRunInProgress = errors.New("a labeling run is already in progress")

// RunStore persists job status. *repository.RunRepository satisfies it.
type RunStore interface {
	CreateRun(run *models.Run) error
	UpdateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit int) ([]models.Run, error)
}

// RowStore keeps submitted rows. *repository.RowRepository satisfies it.
type RowStore interface {
	UpsertRows(rows []models.InputRow) error
	ListRows() ([]models.InputRow, error)
}

// Settings are the labeling knobs shared by every model.
type Settings struct {
	LedgerDir      string
	MaxPromptChars int
	TokensPerRow   int
	RepairPasses   int
	IncludeContext bool
}

// Runner labels rows with each requested model in turn. At most one async
// job runs at a time.
type Runner struct {
	catalog  llm.Catalog
	factory  llm.Factory
	runs     RunStore
	rows     RowStore
	notifier notify.Notifier
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	active string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. A nil factory uses llm.NewCompleter and a nil
// notifier discards notifications.
func NewRunner(
	catalog llm.Catalog,
	factory llm.Factory,
	runs RunStore,
	rows RowStore,
	notifier notify.Notifier,
	settings Settings,
	logger *zap.Logger,
) *Runner {
	if factory == nil {
		factory = llm.NewCompleter
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		catalog:  catalog,
		factory:  factory,
		runs:     runs,
		rows:     rows,
		notifier: notifier,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Models returns the configured models in run order.
func (r *Runner) Models() []string {
	return r.catalog.Models()
}

// Label runs every model over rows synchronously. Models default to the
// catalog. A failing model does not stop the others; the returned error
// joins every failure and results hold the models that finished.
func (r *Runner) Label(ctx context.Context, rows []models.InputRow, modelNames []string, progress func(labeler.Progress)) ([]*labeler.Result, error) {
	if len(modelNames) == 0 {
		modelNames = r.catalog.Models()
	}
	if len(modelNames) == 0 {
		return nil, fmt.Errorf("no models configured")
	}

	var (
		results []*labeler.Result
		errs    []error
	)
	for _, model := range modelNames {
		res, err := r.labelModel(ctx, rows, model, progress)
		if res != nil && err == nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", model, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return results, errors.Join(errs...)
}

func (r *Runner) labelModel(ctx context.Context, rows []models.InputRow, model string, progress func(labeler.Progress)) (*labeler.Result, error) {
	cfg, err := r.catalog.Resolve(model)
	if err != nil {
		return nil, err
	}

	completer, err := r.factory(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer completer.Close()

	r.logger.Info("Labeling with model",
		zap.String("model", model),
		zap.String("provider", string(cfg.Type)),
		zap.Int("rows", len(rows)))

	return labeler.New(completer, r.logger).Run(ctx, rows, labeler.Options{
		Model:             model,
		LedgerDir:         r.settings.LedgerDir,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxPromptChars:    r.settings.MaxPromptChars,
		TokensPerRow:      r.settings.TokensPerRow,
		RepairPasses:      r.settings.RepairPasses,
		IncludeContext:    r.settings.IncludeContext,
		Progress:          progress,
	})
}

// Start stores rows and launches an async job over modelNames.
func (r *Runner) Start(rows []models.InputRow, modelNames []string) (*models.Run, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to label")
	}
	for _, row := range rows {
		if row.ID < 0 {
			return nil, fmt.Errorf("row id %d is negative", row.ID)
		}
	}
	if len(modelNames) == 0 {
		modelNames = r.catalog.Models()
	}
	for _, model := range modelNames {
		if _, err := r.catalog.Resolve(model); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return nil, ErrRunInProgress
	}

	if err := r.rows.UpsertRows(rows); err != nil {
		return nil, fmt.Errorf("failed to store rows: %w", err)
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Status:    models.RunPending,
		Models:    strings.Join(modelNames, ","),
		TotalRows: len(rows),
		CreatedAt: r.now().UTC(),
	}
	if err := r.runs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	r.active = run.ID
	r.wg.Add(1)
	snapshot := *run
	go r.process(run, rows, modelNames)

	return &snapshot, nil
}

// process executes a job started by Start.
func (r *Runner) process(run *models.Run, rows []models.InputRow, modelNames []string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.active = ""
		r.mu.Unlock()
	}()

	run.Status = models.RunProcessing
	r.save(run)

	// Counters of models that already finished.
	var done models.Run
	progress := func(p labeler.Progress) {
		run.CurrentModel = p.Model
		run.Planned = done.Planned + p.Planned
		run.Made = done.Made + p.Made
		run.CacheHits = done.CacheHits + p.CacheHits
		switch p.State {
		case labeler.StateChunked, labeler.StateMerged, labeler.StateDone:
			r.save(run)
		}
	}

	var errs []error
	for _, model := range modelNames {
		res, err := r.labelModel(r.ctx, rows, model, progress)
		if res != nil {
			done.Planned += res.Planned
			done.Made += res.Made
			done.CacheHits += res.CacheHits
			done.Unresolved += len(res.Unresolved)
		}
		run.Planned, run.Made, run.CacheHits, run.Unresolved = done.Planned, done.Made, done.CacheHits, done.Unresolved
		if err != nil {
			r.logger.Error("Model failed during run",
				zap.String("run_id", run.ID),
				zap.String("model", model),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", model, err))
			if r.ctx.Err() != nil {
				break
			}
		}
	}

	completedAt := r.now().UTC()
	run.CompletedAt = &completedAt
	run.Status = models.RunCompleted
	if err := errors.Join(errs...); err != nil {
		run.Status = models.RunFailed
		run.ErrorMessage = err.Error()
	}
	r.save(run)

	if err := r.notifier.RunFinished(run); err != nil {
		r.logger.Warn("Run notification failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	r.logger.Info("Labeling run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("made", run.Made),
		zap.Int("cache_hits", run.CacheHits),
		zap.Int("unresolved", run.Unresolved))
}

func (r *Runner) save(run *models.Run) {
	if err := r.runs.UpdateRun(run); err != nil {
		r.logger.Error("Failed to update run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// Active returns the id of the running job, if any.
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// GetRun returns job status
func (r *Runner) GetRun(id string) (*models.Run, error) {
	return r.runs.GetRun(id)
}

// ListRuns returns recent jobs, newest first.
func (r *Runner) ListRuns(limit int) ([]models.Run, error) {
	return r.runs.ListRuns(limit)
}

// Rows returns every stored row.
func (r *Runner) Rows() ([]models.InputRow, error) {
	return r.rows.ListRows()
}

// Ledger loads the cache ledger of model.
func (r *Runner) Ledger(model string) *ledger.Ledger {
	return ledger.Load(ledger.PathFor(r.settings.LedgerDir, model), r.logger)
}

// Ledgers loads the ledger of every configured model.
func (r *Runner) Ledgers() map[string]*ledger.Ledger {
	out := make(map[string]*ledger.Ledger)
	for _, model := range r.catalog.Models() {
		out[model] = r.Ledger(model)
	}
	return out
}

// Shutdown cancels the active job and waits for it to persist its state.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
