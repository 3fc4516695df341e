package api

import (
	"github.com/gin-gonic/gin"

	"github.com/samrosenbaum/cracker/internal/api/handler"
	"github.com/samrosenbaum/cracker/internal/api/middleware"
	"github.com/samrosenbaum/cracker/internal/config"
	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/repository"
	"github.com/samrosenbaum/cracker/internal/service"
)

// RouterDeps bundles everything the HTTP layer needs.
type RouterDeps struct {
	Config     *config.Config
	Logger     *logger.Logger
	CaseRepo   *repository.CaseRepository
	DocRepo    *repository.DocumentRepository
	BoardRepo  *repository.BoardRepository
	JobRepo    *repository.JobRepository
	Extraction *service.ExtractionService
	Runner     *service.JobRunner
	Search     *service.SearchService
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps *RouterDeps) *gin.Engine {
	// Set Gin mode
	switch deps.Config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  deps.Config.Server.CORS.AllowedOrigins,
		AllowAllOrigins: deps.Config.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	caseHandler := handler.NewCaseHandler(deps.CaseRepo, deps.DocRepo, deps.BoardRepo)
	documentHandler := handler.NewDocumentHandler(
		deps.CaseRepo,
		deps.DocRepo,
		deps.Extraction,
		deps.Runner,
		deps.Config.Jobs.AsyncThreshold,
		deps.Config.Upload.MaxFileSizeMB,
	)
	analysisHandler := handler.NewAnalysisHandler(
		deps.CaseRepo,
		deps.JobRepo,
		deps.Runner,
		deps.Config.Jobs.AsyncThreshold,
	)
	searchHandler := handler.NewSearchHandler(deps.CaseRepo, deps.Search)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Cases
		v1.POST("/cases", caseHandler.CreateCase)
		v1.GET("/cases", caseHandler.ListCases)
		v1.GET("/cases/:id", caseHandler.GetCase)
		v1.GET("/cases/:id/snapshot", caseHandler.GetSnapshot)

		// Evidence documents
		v1.POST("/cases/:id/documents", documentHandler.UploadDocuments)
		v1.GET("/cases/:id/documents", documentHandler.ListDocuments)

		// Analysis triggers
		v1.POST("/cases/:id/analyze", analysisHandler.AnalyzeCase)
		v1.POST("/cases/:id/board/populate", analysisHandler.PopulateBoard)
		v1.GET("/cases/:id/jobs", analysisHandler.ListJobs)

		// Jobs
		v1.GET("/jobs/:id", analysisHandler.GetJob)
		v1.POST("/jobs/:id/cancel", analysisHandler.CancelJob)
		v1.POST("/jobs/:id/retry", analysisHandler.RetryJob)

		// Evidence search
		v1.POST("/cases/:id/search", searchHandler.SearchEvidence)
	}

	return r
}
