package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/samrosenbaum/cracker/internal/repository"
	"github.com/samrosenbaum/cracker/internal/service"
)

// SearchHandler handles evidence search endpoints.
type SearchHandler struct {
	caseRepo      *repository.CaseRepository
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - caseRepo: case lookups.
//   - searchService: search service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(caseRepo *repository.CaseRepository, searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		caseRepo:      caseRepo,
		searchService: searchService,
	}
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

// SearchEvidence handles POST /api/v1/cases/:id/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) SearchEvidence(c *gin.Context) {
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

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	hits, err := h.searchService.Search(ctx, caseID, req.Query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": hits,
		"total":   len(hits),
	})
}
