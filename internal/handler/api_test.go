package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sentiment-labeler/internal/chunker"
	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/middleware"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/repository"
	"sentiment-labeler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const qwen = "qwen/qwen3-coder:free"

// echoCompleter labels every row it is sent as negative.
type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, req models.CompletionRequest) string {
	body := strings.TrimPrefix(req.User, chunker.Header)
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		id, _, _ := strings.Cut(line, "\t")
		lines = append(lines, id+"|negative|-0.7|1|privacy")
	}
	return strings.Join(lines, "\n")
}

func (echoCompleter) Close() error { return nil }

func (echoCompleter) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "echo"}
}

func setupRouter(t *testing.T, secret []byte) (*gin.Engine, *service.Runner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	logger := zap.NewNop()
	db, err := repository.Open(repository.DriverSQLite, filepath.Join(dir, "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	factory := func(llm.ProviderConfig, *zap.Logger) (llm.Completer, error) {
		return echoCompleter{}, nil
	}
	runner := service.NewRunner(
		llm.Catalog{{Type: llm.ProviderOpenRouter, APIKey: "k", ModelName: qwen}},
		factory,
		repository.NewRunRepository(db, logger),
		repository.NewRowRepository(db, logger),
		nil,
		service.Settings{LedgerDir: filepath.Join(dir, "ledgers")},
		logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})
	reports := service.NewReports(runner, repository.NewGroundTruthRepository(db, logger), logger)

	r := gin.New()
	NewHandler(runner, reports, logger).RegisterRoutes(r, secret)
	return r, runner
}

func do(r http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startAndWait(t *testing.T, r *gin.Engine, runner *service.Runner) string {
	t.Helper()
	w := do(r, http.MethodPost, "/api/v1/runs", "application/json",
		`{"rows":[{"id":1,"text":"terrible","platform":"twitter"},{"id":2,"text":"bad","platform":"youtube"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Run models.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Run.ID)

	require.Eventually(t, func() bool {
		run, err := runner.GetRun(resp.Run.ID)
		return err == nil && run.Status == models.RunCompleted && runner.Active() == ""
	}, 5*time.Second, 10*time.Millisecond)
	return resp.Run.ID
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := do(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestRunLifecycle(t *testing.T) {
	r, runner := setupRouter(t, nil)
	id := startAndWait(t, r, runner)

	w := do(r, http.MethodGet, "/api/v1/runs/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var run models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 2, run.TotalRows)
	assert.Equal(t, 1, run.Made)

	w = do(r, http.MethodGet, "/api/v1/runs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = do(r, http.MethodGet, "/api/v1/runs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRunRejectsBadInput(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := do(r, http.MethodPost, "/api/v1/runs", "application/json", `{"rows":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/runs", "application/json", `{"rows":[{"id":-1,"text":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/runs", "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLabelsByEscapedModel(t *testing.T) {
	r, runner := setupRouter(t, nil)
	startAndWait(t, r, runner)

	w := do(r, http.MethodGet, "/api/v1/models", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), qwen)

	escaped := url.PathEscape(qwen)
	require.Contains(t, escaped, "%2F")

	w = do(r, http.MethodGet, "/api/v1/labels/"+escaped, "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Model  string               `json:"model"`
		Labels []models.LabelRecord `json:"labels"`
		Total  int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, qwen, resp.Model)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, models.Negative, resp.Labels[0].Label)
	assert.True(t, resp.Labels[0].Sarcasm)

	w = do(r, http.MethodGet, "/api/v1/labels/"+escaped+"/csv", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,llm_label,llm_score,llm_sarcasm,llm_ethics,cache_sig\n"))
	assert.Contains(t, w.Body.String(), "1,negative,")
}

func TestGroundTruthAndEvaluation(t *testing.T) {
	r, runner := setupRouter(t, nil)
	startAndWait(t, r, runner)

	w := do(r, http.MethodPut, "/api/v1/ground-truth", "application/json",
		`[{"id":1,"human_label":"NEG","human_ethics":"p"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPut, "/api/v1/ground-truth", "text/csv",
		"id,human_label,human_sarcasm,human_ethics\n2,positive,False,none\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"imported":1`)

	w = do(r, http.MethodGet, "/api/v1/ground-truth", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		GroundTruth []models.GroundTruth `json:"ground_truth"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.GroundTruth, 2)
	assert.Equal(t, models.Negative, resp.GroundTruth[0].Label)
	assert.Equal(t, "privacy", resp.GroundTruth[0].Ethics)
	assert.Equal(t, models.Positive, resp.GroundTruth[1].Label)

	w = do(r, http.MethodGet, "/api/v1/ground-truth/csv", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ground_truth.csv")

	w = do(r, http.MethodGet, "/api/v1/export/csv", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Qwen_label")
	assert.Contains(t, w.Body.String(), "Human_label")

	w = do(r, http.MethodGet, "/api/v1/evaluation", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Qwen"`)

	w = do(r, http.MethodPut, "/api/v1/ground-truth", "application/json", `[{"id":-4,"human_label":"neutral"}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	secret := []byte("test-secret")
	r, _ := setupRouter(t, secret)

	w := do(r, http.MethodGet, "/api/v1/models", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := middleware.IssueToken(secret, "analyst", "admin", time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays public.
	w = do(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
