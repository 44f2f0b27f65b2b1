package repository

import (
	"path/filepath"
	"testing"
	"time"

	"sentiment-labeler/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "data", "labeler.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x", zap.NewNop())
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labeler.db")
	db, err := Open(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(DriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunRepository(t *testing.T) {
	repo := NewRunRepository(openTestDB(t), zap.NewNop())

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &models.Run{
		ID:        "run-1",
		Status:    models.RunPending,
		Models:    "qwen/qwen3:free,meta-llama/llama:free",
		TotalRows: 10,
		CreatedAt: created,
	}
	require.NoError(t, repo.CreateRun(run))

	got, err := repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunPending, got.Status)
	assert.Equal(t, []string{"qwen/qwen3:free", "meta-llama/llama:free"}, got.ModelList())
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.CompletedAt)

	done := created.Add(time.Minute)
	run.Status = models.RunCompleted
	run.Planned, run.Made, run.CacheHits, run.Unresolved = 2, 3, 4, 1
	run.CurrentModel = "meta-llama/llama:free"
	run.CompletedAt = &done
	require.NoError(t, repo.UpdateRun(run))

	got, err = repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 3, got.Made)
	assert.Equal(t, 1, got.Unresolved)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))

	_, err = repo.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.UpdateRun(&models.Run{ID: "missing", Status: models.RunFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRepositoryListAndFailStale(t *testing.T) {
	repo := NewRunRepository(openTestDB(t), zap.NewNop())

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []models.RunStatus{models.RunCompleted, models.RunProcessing, models.RunPending} {
		require.NoError(t, repo.CreateRun(&models.Run{
			ID:        string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := repo.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	n, err := repo.FailStaleRuns("interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.GetRun("b")
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, "interrupted", got.ErrorMessage)

	got, err = repo.GetRun("a")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
}

func TestRowRepository(t *testing.T) {
	repo := NewRowRepository(openTestDB(t), zap.NewNop())

	score := 0.25
	require.NoError(t, repo.UpsertRows([]models.InputRow{
		{ID: 7, Text: "seven", Likes: 3, IsReply: true, Platform: models.PlatformTwitter, LexiconLabel: "positive", LexiconScore: &score},
		{ID: 2, Text: "two"},
	}))
	require.NoError(t, repo.UpsertRows([]models.InputRow{{ID: 2, Text: "two edited", Platform: models.PlatformYouTube}}))
	require.NoError(t, repo.UpsertRows(nil))

	rows, err := repo.ListRows()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, models.InputRow{ID: 2, Text: "two edited", Platform: models.PlatformYouTube}, rows[0])
	assert.Equal(t, models.InputRow{
		ID: 7, Text: "seven", Likes: 3, IsReply: true, Platform: models.PlatformTwitter,
		LexiconLabel: "positive", LexiconScore: &score,
	}, rows[1])

	n, err := repo.CountRows()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGroundTruthRepository(t *testing.T) {
	repo := NewGroundTruthRepository(openTestDB(t), zap.NewNop())
	now := time.Date(2025, 4, 1, 8, 30, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Upsert([]models.GroundTruth{
		{ID: 5, Text: "five", Label: models.Negative, Sarcasm: true, Ethics: "bias"},
		{ID: 1, Text: "one", Label: models.Positive, Ethics: "none"},
	}))
	require.NoError(t, repo.Upsert([]models.GroundTruth{{ID: 1, Text: "one", Label: models.Neutral, Ethics: "none"}}))

	truth, err := repo.List()
	require.NoError(t, err)
	require.Len(t, truth, 2)
	assert.Equal(t, int64(1), truth[0].ID)
	assert.Equal(t, models.Neutral, truth[0].Label)
	assert.True(t, truth[1].Sarcasm)
	assert.True(t, truth[1].UpdatedAt.Equal(now))

	gt, err := repo.Get(5)
	require.NoError(t, err)
	assert.Equal(t, "bias", gt.Ethics)

	_, err = repo.Get(99)
	assert.ErrorIs(t, err, ErrNotFound)
}
