package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"sentiment-labeler/internal/ingest"
	"sentiment-labeler/internal/ledger"
	"sentiment-labeler/internal/middleware"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/repository"
	"sentiment-labeler/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	runner  *service.Runner
	reports *service.Reports
	logger  *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(runner *service.Runner, reports *service.Reports, logger *zap.Logger) *Handler {
	return &Handler{
		runner:  runner,
		reports: reports,
		logger:  logger,
	}
}

// RegisterRoutes registers all API routes. A non-empty jwtSecret puts the
// /api/v1 group behind bearer-token auth.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret []byte) {
	// Model ids contain slashes; clients send them escaped as %2F.
	r.UseRawPath = true
	r.UnescapePathValues = true

	api := r.Group("/api/v1")
	if len(jwtSecret) > 0 {
		api.Use(middleware.AuthMiddleware(jwtSecret, h.logger))
	}
	{
		// Labeling runs
		api.POST("/runs", h.StartRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)

		// Ledgers
		api.GET("/models", h.ListModels)
		api.GET("/labels/:model", h.GetLabels)
		api.GET("/labels/:model/csv", h.ExportLabelsCSV)

		// Ground truth
		api.GET("/ground-truth", h.GetGroundTruth)
		api.PUT("/ground-truth", h.PutGroundTruth)
		api.GET("/ground-truth/csv", h.ExportGroundTruthCSV)

		// Comparison and evaluation
		api.GET("/export/csv", h.ExportCSV)
		api.GET("/evaluation", h.Evaluation)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
}

// StartRun starts an async labeling job
func (h *Handler) StartRun(c *gin.Context) {
	var req models.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.runner.Start(req.Rows, req.Models)
	if errors.Is(err, service.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "active_run": h.runner.Active()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to start run", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run":     run,
		"message": "Labeling started. Check /api/v1/runs/" + run.ID + " for status",
	})
}

// ListRuns returns recent jobs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runner.ListRuns(limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// GetRun returns job status
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runner.GetRun(c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListModels returns the configured models in run order
func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.runner.Models()})
}

// GetLabels returns the ledger of one model
func (h *Handler) GetLabels(c *gin.Context) {
	model := c.Param("model")
	records := h.runner.Ledger(model).Records()
	c.JSON(http.StatusOK, gin.H{
		"model":  model,
		"labels": records,
		"total":  len(records),
	})
}

// ExportLabelsCSV streams the ledger file of one model
func (h *Handler) ExportLabelsCSV(c *gin.Context) {
	model := c.Param("model")
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+ledger.FileName(model))

	if err := h.runner.Ledger(model).Write(c.Writer); err != nil {
		h.logger.Error("Failed to export ledger", zap.String("model", model), zap.Error(err))
	}
}

// GetGroundTruth returns all human annotations
func (h *Handler) GetGroundTruth(c *gin.Context) {
	truth, err := h.reports.GroundTruth()
	if err != nil {
		h.logger.Error("Failed to get ground truth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get ground truth"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ground_truth": truth, "total": len(truth)})
}

// PutGroundTruth imports annotations from a JSON array or a CSV body
func (h *Handler) PutGroundTruth(c *gin.Context) {
	var truth []models.GroundTruth

	if strings.HasPrefix(c.ContentType(), "text/csv") {
		parsed, err := ingest.ReadGroundTruth(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		truth = parsed
	} else {
		if err := c.ShouldBindJSON(&truth); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for i := range truth {
			truth[i].Label = models.ParseLabel(string(truth[i].Label))
			truth[i].Ethics = models.ParseEthics(truth[i].Ethics).String()
		}
	}

	if err := h.reports.ImportGroundTruth(truth); err != nil {
		h.logger.Error("Failed to import ground truth", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported": len(truth)})
}

// ExportGroundTruthCSV exports annotations to CSV
func (h *Handler) ExportGroundTruthCSV(c *gin.Context) {
	truth, err := h.reports.GroundTruth()
	if err != nil {
		h.logger.Error("Failed to export ground truth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=ground_truth.csv")
	if err := ingest.WriteGroundTruth(c.Writer, truth); err != nil {
		h.logger.Error("Failed to write ground truth", zap.Error(err))
	}
}

// ExportCSV exports the wide comparison table
func (h *Handler) ExportCSV(c *gin.Context) {
	table, err := h.reports.Table()
	if err != nil {
		h.logger.Error("Failed to build comparison table", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=llm_compare_wide.csv")
	if err := table.WriteCSV(c.Writer); err != nil {
		h.logger.Error("Failed to write comparison table", zap.Error(err))
	}
}

// Evaluation scores every model against the ground truth
func (h *Handler) Evaluation(c *gin.Context) {
	report, err := h.reports.Evaluate()
	if err != nil {
		h.logger.Error("Failed to evaluate", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "sentiment-labeler",
		"active_run": h.runner.Active(),
	})
}
