package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/repository"
)

// Per-unit duration estimates used to stamp EstimatedCompletion when a job
// starts. They only feed the progress display, nothing schedules off them.
const (
	extractionUnitEstimate = 2 * time.Second
	analysisUnitEstimate   = 15 * time.Second
	boardUnitEstimate      = 45 * time.Second
)

// JobRunner executes extraction, analysis, and board population work, either
// inline for small batches or as background jobs tracked by an AnalysisJob
// row. Background jobs run detached from the request context; cancellation
// goes through Cancel, which both stops the workers and marks the row.
type JobRunner struct {
	jobRepo    *repository.JobRepository
	docRepo    *repository.DocumentRepository
	boardRepo  *repository.BoardRepository
	extraction *ExtractionService
	analysis   *AnalysisService
	logger     *logger.Logger
	workers    int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// JobRunnerConfig holds configuration for the job runner.
type JobRunnerConfig struct {
	Workers int
}

// NewJobRunner creates a new job runner.
func NewJobRunner(
	jobRepo *repository.JobRepository,
	docRepo *repository.DocumentRepository,
	boardRepo *repository.BoardRepository,
	extraction *ExtractionService,
	analysis *AnalysisService,
	log *logger.Logger,
	cfg *JobRunnerConfig,
) *JobRunner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &JobRunner{
		jobRepo:    jobRepo,
		docRepo:    docRepo,
		boardRepo:  boardRepo,
		extraction: extraction,
		analysis:   analysis,
		logger:     log,
		workers:    workers,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *JobRunner) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CountUnits reports how many work units a job of the given kind would
// process for the case right now. Handlers use it to choose between inline
// execution and a background job.
func (s *JobRunner) CountUnits(ctx context.Context, caseID string, kind domain.JobKind) (int, error) {
	docs, err := s.collectUnits(ctx, caseID, kind)
	if err != nil {
		return 0, err
	}
	if kind == domain.JobKindBoard {
		if len(docs) == 0 {
			return 0, nil
		}
		return 1, nil
	}
	return len(docs), nil
}

// RunInline executes the work synchronously without creating a job row.
// Parameters:
//   - ctx: request context; cancellation stops between units.
//   - caseID: case to process.
//   - kind: extraction, analysis, or board population.
//
// Returns:
//   - int: units completed.
//   - error: non-nil on a unit or setup failure; inline runs fail fast.
func (s *JobRunner) RunInline(ctx context.Context, caseID string, kind domain.JobKind) (int, error) {
	docs, err := s.collectUnits(ctx, caseID, kind)
	if err != nil {
		return 0, err
	}

	if kind == domain.JobKindBoard {
		if len(docs) == 0 {
			return 0, nil
		}
		if err := s.populateBoard(ctx, caseID, docs); err != nil {
			return 0, err
		}
		return 1, nil
	}

	done := 0
	for i := range docs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.processUnit(ctx, kind, &docs[i]); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// StartJob creates a pending job row and launches its execution in the
// background. The returned job is in pending state; callers poll the status
// endpoint to follow it.
func (s *JobRunner) StartJob(ctx context.Context, caseID string, kind domain.JobKind) (*domain.AnalysisJob, error) {
	job := &domain.AnalysisJob{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Kind:      kind,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	go s.run(job.ID, caseID, kind)

	return job, nil
}

// Cancel requests cancellation of a job. Cancelling a job that is already
// terminal is a no-op and returns the job unchanged, so repeated cancels are
// safe.
func (s *JobRunner) Cancel(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}

	// Mark the row first so a racing worker can't complete over the top,
	// then stop the workers.
	if err := s.jobRepo.MarkTerminal(ctx, jobID, domain.JobStatusCancelled, "cancelled by request"); err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}

	return s.jobRepo.GetByID(ctx, jobID)
}

// Retry returns a failed or cancelled job to pending and relaunches it. The
// work units are re-derived from the case's current document state, so
// documents that succeeded earlier are not processed twice.
func (s *JobRunner) Retry(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	job, err := s.jobRepo.ResetForRetry(ctx, jobID)
	if err != nil {
		return nil, err
	}

	go s.run(job.ID, job.CaseID, job.Kind)

	return job, nil
}

// run drives a background job through its lifecycle. It owns the job's
// cancel function for the duration of the run.
func (s *JobRunner) run(jobID, caseID string, kind domain.JobKind) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
	}()

	log := s.logger.WithFields(logger.Fields{
		logger.FieldJobID:  jobID,
		logger.FieldCaseID: caseID,
		"kind":             kind,
	})

	docs, err := s.collectUnits(ctx, caseID, kind)
	if err != nil {
		log.WithError(err).Error("Failed to collect job units")
		s.markTerminal(ctx, jobID, domain.JobStatusFailed, fmt.Sprintf("failed to collect units: %v", err))
		return
	}

	total := len(docs)
	unitEstimate := extractionUnitEstimate
	switch kind {
	case domain.JobKindAnalysis:
		unitEstimate = analysisUnitEstimate
	case domain.JobKindBoard:
		unitEstimate = boardUnitEstimate
		if total > 0 {
			total = 1
		}
	}

	eta := time.Now().Add(time.Duration(total) * unitEstimate)
	if err := s.jobRepo.MarkRunning(ctx, jobID, total, &eta); err != nil {
		// Most likely cancelled before the first poll.
		log.WithError(err).Warn("Job did not start")
		return
	}

	log.WithField(logger.FieldCount, total).Info("Job started")

	if total == 0 {
		s.markTerminal(ctx, jobID, domain.JobStatusCompleted, "")
		return
	}

	if kind == domain.JobKindBoard {
		if err := s.populateBoard(ctx, caseID, docs); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.markTerminal(ctx, jobID, domain.JobStatusFailed, err.Error())
			return
		}
		if err := s.jobRepo.IncrementProgress(context.Background(), jobID, 1, 0); err != nil {
			log.WithError(err).Error("Failed to record progress")
		}
		s.markTerminal(context.Background(), jobID, domain.JobStatusCompleted, "")
		log.Info("Job completed")
		return
	}

	// Bounded worker pool over documents. A unit failure counts against
	// FailedUnits but never fails the whole job.
	unitsChan := make(chan *domain.Document, s.workers*2)
	var unitErrs []string
	var errMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range unitsChan {
				if ctx.Err() != nil {
					return
				}
				if err := s.processUnit(ctx, kind, doc); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.WithFields(logger.Fields{
						logger.FieldDocumentID: doc.ID,
					}).WithError(err).Error("Failed to process unit")
					errMu.Lock()
					unitErrs = append(unitErrs, fmt.Sprintf("%s: %v", doc.FileName, err))
					errMu.Unlock()
					if perr := s.jobRepo.IncrementProgress(context.Background(), jobID, 0, 1); perr != nil {
						log.WithError(perr).Error("Failed to record progress")
					}
					continue
				}
				if perr := s.jobRepo.IncrementProgress(context.Background(), jobID, 1, 0); perr != nil {
					log.WithError(perr).Error("Failed to record progress")
				}
			}
		}()
	}

	for i := range docs {
		select {
		case unitsChan <- &docs[i]:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(unitsChan)
	wg.Wait()

	if ctx.Err() != nil {
		// Cancel already marked the row; leave it alone.
		log.Info("Job cancelled")
		return
	}

	errorLog := ""
	if len(unitErrs) > 0 {
		errorLog = summarizeUnitErrors(unitErrs)
	}
	s.markTerminal(context.Background(), jobID, domain.JobStatusCompleted, errorLog)
	log.WithField("failed_units", len(unitErrs)).Info("Job completed")
}

// collectUnits loads the documents a job of the given kind should process.
// Extraction targets pending documents; analysis and board population target
// extracted documents with recoverable text.
func (s *JobRunner) collectUnits(ctx context.Context, caseID string, kind domain.JobKind) ([]domain.Document, error) {
	docs, err := s.docRepo.ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list case documents: %w", err)
	}

	var units []domain.Document
	for _, doc := range docs {
		switch kind {
		case domain.JobKindExtraction:
			if doc.Status == domain.DocumentStatusPending {
				units = append(units, doc)
			}
		case domain.JobKindAnalysis, domain.JobKindBoard:
			if doc.Status == domain.DocumentStatusExtracted && doc.ExtractedText != "" {
				units = append(units, doc)
			}
		}
	}
	return units, nil
}

// processUnit handles one document for extraction or analysis jobs.
func (s *JobRunner) processUnit(ctx context.Context, kind domain.JobKind, doc *domain.Document) error {
	switch kind {
	case domain.JobKindExtraction:
		return s.extraction.Extract(ctx, doc)
	case domain.JobKindAnalysis:
		findings, err := s.analysis.AnalyzeDocument(ctx, doc.ExtractedText)
		if err != nil {
			return err
		}
		return s.persistFindings(ctx, ShapeFindings(doc.CaseID, doc.ID, findings))
	}
	return fmt.Errorf("unknown job kind %q", kind)
}

// populateBoard runs the cross-document pass as a single unit of work.
func (s *JobRunner) populateBoard(ctx context.Context, caseID string, docs []domain.Document) error {
	texts := make([]DocumentText, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, DocumentText{FileName: doc.FileName, Text: doc.ExtractedText})
	}

	findings, err := s.analysis.PopulateBoard(ctx, texts)
	if err != nil {
		return err
	}
	return s.persistFindings(ctx, ShapeFindings(caseID, "", findings))
}

func (s *JobRunner) persistFindings(ctx context.Context, rows *BoardRows) error {
	if err := s.boardRepo.CreateEntities(ctx, rows.Entities); err != nil {
		return fmt.Errorf("failed to save entities: %w", err)
	}
	if err := s.boardRepo.CreateConnections(ctx, rows.Connections); err != nil {
		return fmt.Errorf("failed to save connections: %w", err)
	}
	if err := s.boardRepo.CreateTimelineEvents(ctx, rows.TimelineEvents); err != nil {
		return fmt.Errorf("failed to save timeline events: %w", err)
	}
	if err := s.boardRepo.CreateAlibis(ctx, rows.Alibis); err != nil {
		return fmt.Errorf("failed to save alibis: %w", err)
	}
	return nil
}

func (s *JobRunner) markTerminal(ctx context.Context, jobID string, status domain.JobStatus, errorLog string) {
	// Terminal writes must survive a cancelled run context.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := s.jobRepo.MarkTerminal(ctx, jobID, status, errorLog); err != nil {
		s.logger.WithField(logger.FieldJobID, jobID).WithError(err).Error("Failed to mark job terminal")
	}
}

// summarizeUnitErrors caps the error log so a large batch of failures doesn't
// bloat the job row.
func summarizeUnitErrors(errs []string) string {
	const maxListed = 5
	if len(errs) <= maxListed {
		return strings.Join(errs, "; ")
	}
	listed := strings.Join(errs[:maxListed], "; ")
	return fmt.Sprintf("%s; and %d more", listed, len(errs)-maxListed)
}
