package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/samrosenbaum/cracker/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles analysis job persistence. Progress counters are
// updated with SQL-side increments so concurrent workers never lose updates
// and the units-done value is append-only per job.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, job *domain.AnalysisJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.AnalysisJob: job record if found.
//   - error: non-nil if lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByCase returns jobs for a case, newest first.
func (r *JobRepository) ListByCase(ctx context.Context, caseID string, limit int) ([]domain.AnalysisJob, error) {
	var jobs []domain.AnalysisJob
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// MarkRunning transitions a pending job to running and stamps StartedAt.
// The WHERE clause guards the transition so a cancelled job can't be
// resurrected by a slow worker.
func (r *JobRepository) MarkRunning(ctx context.Context, id string, totalUnits int, eta *time.Time) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":               domain.JobStatusRunning,
			"total_units":          totalUnits,
			"started_at":           &now,
			"estimated_completion": eta,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s is not pending", id)
	}
	return nil
}

// IncrementProgress adds to the completed/failed unit counters using
// SQL-side expressions. Counters only grow.
func (r *JobRepository) IncrementProgress(ctx context.Context, id string, completedDelta, failedDelta int) error {
	if completedDelta < 0 || failedDelta < 0 {
		return fmt.Errorf("progress deltas must be non-negative")
	}
	return r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed_units": gorm.Expr("completed_units + ?", completedDelta),
			"failed_units":    gorm.Expr("failed_units + ?", failedDelta),
		}).Error
}

// MarkTerminal moves a job into one of the terminal states and stamps
// CompletedAt. Jobs already terminal are left untouched so the first
// terminal transition wins.
func (r *JobRepository) MarkTerminal(ctx context.Context, id string, status domain.JobStatus, errorLog string) error {
	switch status {
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
	default:
		return fmt.Errorf("status %q is not terminal", status)
	}

	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("id = ? AND status NOT IN ?", id, []domain.JobStatus{
			domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": &now,
			"error_log":    errorLog,
		}).Error
}

// ResetForRetry returns a failed or cancelled job to pending with zeroed
// counters so it can run again. Completed jobs are not retryable.
func (r *JobRepository) ResetForRetry(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	result := r.db.WithContext(ctx).Model(&domain.AnalysisJob{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{
			domain.JobStatusFailed, domain.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":               domain.JobStatusPending,
			"total_units":          0,
			"completed_units":      0,
			"failed_units":         0,
			"started_at":           nil,
			"completed_at":         nil,
			"estimated_completion": nil,
			"error_log":            "",
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("job %s is not retryable", id)
	}
	return r.GetByID(ctx, id)
}
