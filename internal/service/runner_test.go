package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sentiment-labeler/internal/chunker"
	"sentiment-labeler/internal/labeler"
	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	qwen  = "qwen/qwen3-coder:free"
	llama = "meta-llama/llama-4-maverick:free"
)

// fakeCompleter labels every requested row positive. When release is set,
// each call blocks until it is closed.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req models.CompletionRequest) string {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ""
		}
	}

	body := strings.TrimPrefix(req.User, chunker.Header)
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		id, _, _ := strings.Cut(line, "\t")
		lines = append(lines, id+"|positive|0.5|0|none")
	}
	return strings.Join(lines, "\n")
}

func (f *fakeCompleter) Close() error { return nil }

func (f *fakeCompleter) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "fake"}
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []models.Run
}

func (n *recordingNotifier) RunFinished(run *models.Run) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, *run)
	return nil
}

func (n *recordingNotifier) Runs() []models.Run {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Run(nil), n.runs...)
}

type fixture struct {
	runner    *Runner
	reports   *Reports
	completer *fakeCompleter
	notifier  *recordingNotifier
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	db, err := repository.Open(repository.DriverSQLite, filepath.Join(dir, "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fc := &fakeCompleter{}
	factory := func(cfg llm.ProviderConfig, _ *zap.Logger) (llm.Completer, error) {
		if cfg.ModelName == "broken" {
			return nil, errors.New("no api key")
		}
		return fc, nil
	}

	catalog := llm.Catalog{
		{Type: llm.ProviderOpenRouter, APIKey: "k", ModelName: qwen},
		{Type: llm.ProviderOpenRouter, APIKey: "k", ModelName: llama},
	}

	notifier := &recordingNotifier{}
	runner := NewRunner(catalog, factory,
		repository.NewRunRepository(db, logger),
		repository.NewRowRepository(db, logger),
		notifier,
		Settings{LedgerDir: filepath.Join(dir, "ledgers")},
		logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})

	return &fixture{
		runner:    runner,
		reports:   NewReports(runner, repository.NewGroundTruthRepository(db, logger), logger),
		completer: fc,
		notifier:  notifier,
		dir:       dir,
	}
}

func sampleRows() []models.InputRow {
	return []models.InputRow{
		{ID: 1, Text: "great", Platform: models.PlatformTwitter},
		{ID: 2, Text: "awful", Platform: models.PlatformYouTube},
	}
}

func waitForStatus(t *testing.T, r *Runner, id string) *models.Run {
	t.Helper()
	var run *models.Run
	require.Eventually(t, func() bool {
		got, err := r.GetRun(id)
		if err != nil {
			return false
		}
		run = got
		return got.Status == models.RunCompleted || got.Status == models.RunFailed
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return r.Active() == "" }, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestLabelSynchronous(t *testing.T) {
	f := newFixture(t)

	var states []string
	results, err := f.runner.Label(context.Background(), sampleRows(), nil, func(p labeler.Progress) {
		states = append(states, p.Model+":"+p.Step)
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, qwen, results[0].Model)
	assert.Equal(t, llama, results[1].Model)
	assert.Equal(t, 1, results[0].Made)
	assert.Contains(t, states, qwen+":DONE")
	assert.Contains(t, states, llama+":DONE")

	ledgers := f.runner.Ledgers()
	assert.Equal(t, 2, ledgers[qwen].Len())
	assert.Equal(t, 2, ledgers[llama].Len())

	// Second pass is served from the ledgers.
	results, err = f.runner.Label(context.Background(), sampleRows(), []string{qwen}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].CacheHits)
	assert.Equal(t, 2, f.completer.Calls())
}

func TestLabelCollectsModelErrors(t *testing.T) {
	f := newFixture(t)

	results, err := f.runner.Label(context.Background(), sampleRows(), []string{"broken", qwen}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	require.Len(t, results, 1)
	assert.Equal(t, qwen, results[0].Model)
}

func TestStartRunsAsyncJob(t *testing.T) {
	f := newFixture(t)

	run, err := f.runner.Start(sampleRows(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, run.Status)
	assert.Equal(t, []string{qwen, llama}, run.ModelList())

	done := waitForStatus(t, f.runner, run.ID)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.Equal(t, 2, done.TotalRows)
	assert.Equal(t, 2, done.Planned)
	assert.Equal(t, 2, done.Made)
	assert.Equal(t, 0, done.Unresolved)
	assert.Equal(t, llama, done.CurrentModel)
	assert.NotNil(t, done.CompletedAt)

	require.Len(t, f.notifier.Runs(), 1)
	assert.Equal(t, run.ID, f.notifier.Runs()[0].ID)

	stored, err := f.runner.Rows()
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	runs, err := f.runner.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.completer.release = make(chan struct{})

	run, err := f.runner.Start(sampleRows(), []string{qwen})
	require.NoError(t, err)
	assert.Equal(t, run.ID, f.runner.Active())

	_, err = f.runner.Start(sampleRows(), []string{qwen})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.completer.release)
	done := waitForStatus(t, f.runner, run.ID)
	assert.Equal(t, models.RunCompleted, done.Status)

	_, err = f.runner.Start(sampleRows(), []string{qwen})
	assert.NoError(t, err)
}

func TestStartReportsFailedModel(t *testing.T) {
	f := newFixture(t)

	run, err := f.runner.Start(sampleRows(), []string{"broken", llama})
	require.NoError(t, err)

	done := waitForStatus(t, f.runner, run.ID)
	assert.Equal(t, models.RunFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "broken")
	assert.Equal(t, 1, done.Made)
	assert.Equal(t, 2, f.runner.Ledger(llama).Len())
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.Start(nil, nil)
	assert.Error(t, err)

	_, err = f.runner.Start([]models.InputRow{{ID: -1, Text: "x"}}, nil)
	assert.Error(t, err)

	_, err = f.runner.GetRun("missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestShutdownCancelsActiveRun(t *testing.T) {
	f := newFixture(t)
	f.completer.release = make(chan struct{})

	run, err := f.runner.Start(sampleRows(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.completer.Calls() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Shutdown(ctx))

	got, err := f.runner.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "context canceled")
	assert.Equal(t, 1, f.completer.Calls())
}

func TestReports(t *testing.T) {
	f := newFixture(t)

	run, err := f.runner.Start(sampleRows(), nil)
	require.NoError(t, err)
	waitForStatus(t, f.runner, run.ID)

	require.NoError(t, f.reports.ImportGroundTruth([]models.GroundTruth{
		{ID: 1, Label: models.Positive, Ethics: "none"},
		{ID: 2, Label: models.Negative, Ethics: "none"},
	}))
	assert.Error(t, f.reports.ImportGroundTruth([]models.GroundTruth{{ID: -3}}))

	truth, err := f.reports.GroundTruth()
	require.NoError(t, err)
	assert.Len(t, truth, 2)

	table, err := f.reports.Table()
	require.NoError(t, err)
	assert.Equal(t, []string{"Qwen", "Llama"}, table.Tags)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, models.Positive, table.Rows[1].Models["Llama"].Label)

	report, err := f.reports.Evaluate()
	require.NoError(t, err)
	require.Len(t, report.Overall, 2)
	assert.InDelta(t, 0.5, report.Overall[0].Accuracy, 1e-9)
}
