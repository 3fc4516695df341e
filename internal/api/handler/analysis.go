package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/repository"
	"github.com/samrosenbaum/cracker/internal/service"
)

// AnalysisHandler handles analysis triggers and job status endpoints.
type AnalysisHandler struct {
	caseRepo       *repository.CaseRepository
	jobRepo        *repository.JobRepository
	runner         *service.JobRunner
	asyncThreshold int
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(
	caseRepo *repository.CaseRepository,
	jobRepo *repository.JobRepository,
	runner *service.JobRunner,
	asyncThreshold int,
) *AnalysisHandler {
	if asyncThreshold <= 0 {
		asyncThreshold = 1
	}
	return &AnalysisHandler{
		caseRepo:       caseRepo,
		jobRepo:        jobRepo,
		runner:         runner,
		asyncThreshold: asyncThreshold,
	}
}

// AnalyzeCase handles POST /api/v1/cases/:id/analyze. Small workloads run
// inline and return {"mode":"sync"}; larger ones return a job reference with
// {"mode":"async"} for the client to poll.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) AnalyzeCase(c *gin.Context) {
	h.trigger(c, domain.JobKindAnalysis)
}

// PopulateBoard handles POST /api/v1/cases/:id/board/populate with the same
// sync/async contract as AnalyzeCase.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) PopulateBoard(c *gin.Context) {
	h.trigger(c, domain.JobKindBoard)
}

func (h *AnalysisHandler) trigger(c *gin.Context, kind domain.JobKind) {
	caseID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.caseRepo.GetByID(ctx, caseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Case not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get case: " + err.Error(),
		})
		return
	}

	units, err := h.runner.CountUnits(ctx, caseID, kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to inspect case documents: " + err.Error(),
		})
		return
	}
	if units == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Case has no extracted documents to analyze",
		})
		return
	}

	if units < h.asyncThreshold {
		done, err := h.runner.RunInline(ctx, caseID, kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Analysis failed: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"mode":  "sync",
			"units": done,
		})
		return
	}

	job, err := h.runner.StartJob(ctx, caseID, kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"mode":   "async",
		"job_id": job.ID,
	})
}

// jobResponse augments the stored job with its derived progress percentage.
type jobResponse struct {
	*domain.AnalysisJob
	ProgressPercentage int `json:"progress_percentage"`
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) GetJob(c *gin.Context) {
	job, err := h.jobRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, jobResponse{
		AnalysisJob:        job,
		ProgressPercentage: job.Progress(),
	})
}

// ListJobs handles GET /api/v1/cases/:id/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) ListJobs(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20, 100)
	jobs, err := h.jobRepo.ListByCase(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// CancelJob handles POST /api/v1/jobs/:id/cancel. Cancelling a terminal job
// is a no-op; the current job state is returned either way.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) CancelJob(c *gin.Context) {
	job, err := h.runner.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, jobResponse{
		AnalysisJob:        job,
		ProgressPercentage: job.Progress(),
	})
}

// RetryJob handles POST /api/v1/jobs/:id/retry. Only failed and cancelled
// jobs can be retried.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AnalysisHandler) RetryJob(c *gin.Context) {
	job, err := h.runner.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "Failed to retry job: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, jobResponse{
		AnalysisJob:        job,
		ProgressPercentage: job.Progress(),
	})
}
