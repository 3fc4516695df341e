package domain

import "time"

// JobStatus represents the status of an asynchronous analysis job.
// Values include JobStatusPending, JobStatusRunning, JobStatusCompleted,
// JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind identifies what kind of work a job performs.
type JobKind string

const (
	JobKindExtraction JobKind = "extraction"
	JobKindAnalysis   JobKind = "analysis"
	JobKindBoard      JobKind = "board_population"
)

// AnalysisJob represents a long-running server-side job and its progress
// metadata. A job is created in pending, moves to running when work begins,
// and terminates in exactly one of completed, failed, or cancelled. Clients
// never mutate a job directly; they observe it via the status endpoint.
type AnalysisJob struct {
	ID     string    `gorm:"type:text;primaryKey" json:"id"`
	CaseID string    `gorm:"type:text;not null;index" json:"case_id"`
	Kind   JobKind   `gorm:"type:text;not null" json:"kind"`
	Status JobStatus `gorm:"type:text;index;default:pending" json:"status"`

	// Unit counters are append-only per job: completed+failed never exceeds
	// total and never decreases across updates.
	TotalUnits     int `gorm:"default:0" json:"total_units"`
	CompletedUnits int `gorm:"default:0" json:"completed_units"`
	FailedUnits    int `gorm:"default:0" json:"failed_units"`

	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	ErrorLog            string     `json:"error_log,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AnalysisJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// Terminal reports whether the job has reached a final state.
func (j *AnalysisJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// UnitsDone returns the number of units accounted for so far.
func (j *AnalysisJob) UnitsDone() int {
	return j.CompletedUnits + j.FailedUnits
}

// Progress returns the derived progress percentage in [0,100].
// A job with zero total units reports 0.
func (j *AnalysisJob) Progress() int {
	if j.TotalUnits <= 0 {
		return 0
	}
	return 100 * j.UnitsDone() / j.TotalUnits
}
