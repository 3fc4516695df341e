package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/repository"
	"github.com/samrosenbaum/cracker/internal/service"
)

// DocumentHandler handles evidence upload endpoints.
type DocumentHandler struct {
	caseRepo       *repository.CaseRepository
	docRepo        *repository.DocumentRepository
	extraction     *service.ExtractionService
	runner         *service.JobRunner
	asyncThreshold int
	maxFileSize    int64
}

// NewDocumentHandler creates a new document handler.
// Parameters:
//   - caseRepo: case lookups.
//   - docRepo: document listings.
//   - extraction: stores uploads and extracts text.
//   - runner: runs extraction inline or as a background job.
//   - asyncThreshold: file count at or above which extraction becomes a job.
//   - maxFileSizeMB: per-file upload size limit.
//
// Returns:
//   - *DocumentHandler: initialized handler.
func NewDocumentHandler(
	caseRepo *repository.CaseRepository,
	docRepo *repository.DocumentRepository,
	extraction *service.ExtractionService,
	runner *service.JobRunner,
	asyncThreshold int,
	maxFileSizeMB int64,
) *DocumentHandler {
	if asyncThreshold <= 0 {
		asyncThreshold = 1
	}
	return &DocumentHandler{
		caseRepo:       caseRepo,
		docRepo:        docRepo,
		extraction:     extraction,
		runner:         runner,
		asyncThreshold: asyncThreshold,
		maxFileSize:    maxFileSizeMB * 1024 * 1024,
	}
}

// UploadDocuments handles POST /api/v1/cases/:id/documents. It accepts a
// multipart form with one or more "files" parts, stores each file, and then
// extracts text either inline (small batches) or through a background job.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DocumentHandler) UploadDocuments(c *gin.Context) {
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

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form: " + err.Error(),
		})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No files provided (use multipart field 'files')",
		})
		return
	}

	var stored []domain.Document
	skipped := 0
	for _, fh := range files {
		if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "File too large: " + fh.Filename,
			})
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to open upload: " + err.Error(),
			})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read upload: " + err.Error(),
			})
			return
		}

		doc, err := h.extraction.StoreDocument(ctx, caseID, fh.Filename, fh.Header.Get("Content-Type"), data)
		if err != nil {
			if errors.Is(err, service.ErrDuplicateDocument) {
				skipped++
				continue
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to store document: " + err.Error(),
			})
			return
		}
		stored = append(stored, *doc)
	}

	resp := gin.H{
		"documents": stored,
		"stored":    len(stored),
		"skipped":   skipped,
	}

	if len(stored) == 0 {
		resp["mode"] = "sync"
		c.JSON(http.StatusOK, resp)
		return
	}

	if len(stored) < h.asyncThreshold {
		if _, err := h.runner.RunInline(ctx, caseID, domain.JobKindExtraction); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Extraction failed: " + err.Error(),
			})
			return
		}
		resp["mode"] = "sync"
		c.JSON(http.StatusOK, resp)
		return
	}

	job, err := h.runner.StartJob(ctx, caseID, domain.JobKindExtraction)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start extraction job: " + err.Error(),
		})
		return
	}
	resp["mode"] = "async"
	resp["job_id"] = job.ID
	c.JSON(http.StatusAccepted, resp)
}

// ListDocuments handles GET /api/v1/cases/:id/documents.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.docRepo.ListByCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list documents: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}
