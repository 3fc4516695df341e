package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/repository"
)

// CaseHandler handles case-related endpoints.
type CaseHandler struct {
	caseRepo  *repository.CaseRepository
	docRepo   *repository.DocumentRepository
	boardRepo *repository.BoardRepository
}

// NewCaseHandler creates a new case handler.
func NewCaseHandler(
	caseRepo *repository.CaseRepository,
	docRepo *repository.DocumentRepository,
	boardRepo *repository.BoardRepository,
) *CaseHandler {
	return &CaseHandler{
		caseRepo:  caseRepo,
		docRepo:   docRepo,
		boardRepo: boardRepo,
	}
}

type createCaseRequest struct {
	Title        string     `json:"title" binding:"required"`
	Summary      string     `json:"summary"`
	Jurisdiction string     `json:"jurisdiction"`
	OpenedAt     *time.Time `json:"opened_at"`
}

// CreateCase handles POST /api/v1/cases.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	now := time.Now()
	cs := &domain.Case{
		ID:           uuid.New().String(),
		Title:        req.Title,
		Summary:      req.Summary,
		Jurisdiction: req.Jurisdiction,
		OpenedAt:     req.OpenedAt,
		Status:       domain.CaseStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.caseRepo.Create(c.Request.Context(), cs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create case: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, cs)
}

// GetCase handles GET /api/v1/cases/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CaseHandler) GetCase(c *gin.Context) {
	cs, err := h.caseRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
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

	c.JSON(http.StatusOK, cs)
}

// ListCases handles GET /api/v1/cases.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CaseHandler) ListCases(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20, 100)
	offset := parseIntQuery(c, "offset", 0, 1<<30)

	cases, err := h.caseRepo.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list cases: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cases": cases,
		"total": len(cases),
	})
}

// GetSnapshot handles GET /api/v1/cases/:id/snapshot. The snapshot bundles
// the case with its documents and every board collection in one response so
// pollers can detect data arrival with a single request.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CaseHandler) GetSnapshot(c *gin.Context) {
	caseID := c.Param("id")
	ctx := c.Request.Context()

	cs, err := h.caseRepo.GetByID(ctx, caseID)
	if err != nil {
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

	docs, err := h.docRepo.ListByCase(ctx, caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list documents: " + err.Error(),
		})
		return
	}

	snapshot, err := h.boardRepo.Snapshot(ctx, caseID, docs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build snapshot: " + err.Error(),
		})
		return
	}
	snapshot.Case = cs

	c.JSON(http.StatusOK, snapshot)
}

func parseIntQuery(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
