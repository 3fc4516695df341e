// Package watch observes long-running server-side analysis jobs from a
// stateless client. A Watcher polls the job-status endpoint at a fixed
// interval until the job terminates, the hard timeout elapses, or the caller
// cancels, then performs exactly one authoritative snapshot refetch.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samrosenbaum/cracker/internal/domain"
)

// ErrMalformedResponse indicates the backend answered with something other
// than the expected JSON (wrong content type or undecodable body).
var ErrMalformedResponse = fmt.Errorf("malformed response from backend")

// Job is the client-side view of a server job record.
type Job struct {
	ID                  string           `json:"id"`
	CaseID              string           `json:"case_id"`
	Kind                string           `json:"kind"`
	Status              domain.JobStatus `json:"status"`
	TotalUnits          int              `json:"total_units"`
	CompletedUnits      int              `json:"completed_units"`
	FailedUnits         int              `json:"failed_units"`
	ProgressPercentage  int              `json:"progress_percentage"`
	EstimatedCompletion *time.Time       `json:"estimated_completion,omitempty"`
	ErrorLog            string           `json:"error_log,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		return true
	}
	return false
}

// UnitsDone returns the number of units accounted for so far.
func (j *Job) UnitsDone() int {
	return j.CompletedUnits + j.FailedUnits
}

// TriggerResult is the backend's answer to a job-producing action. Mode
// "sync" means the work already happened and no polling is needed; "async"
// carries the job id to poll.
type TriggerResult struct {
	Mode    string `json:"mode"`
	JobID   string `json:"job_id"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
	Units   int    `json:"units"`
}

// Async reports whether the action left a job running that must be watched.
func (r *TriggerResult) Async() bool {
	return r.Mode == "async" && r.JobID != ""
}

// Client talks to the case backend. All responses pass a content-type check
// before decoding so an HTML error page never reaches the JSON decoder.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a backend client.
// Parameters:
//   - baseURL: backend base URL, e.g. "http://localhost:8080".
//   - timeout: per-request timeout.
//
// Returns:
//   - *Client: initialized client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	return &Client{
		http:    client,
		baseURL: baseURL,
	}
}

// GetJob fetches the current job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/v1/jobs/" + jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	var job Job
	if err := decodeJSON(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ResolveRef builds a JobRef for watching. A watch needs the case id for its
// final snapshot refetch; when the caller only knows the job id, the job
// record supplies the case.
func (c *Client) ResolveRef(ctx context.Context, caseID, jobID string) (JobRef, error) {
	if caseID == "" {
		if jobID == "" {
			return JobRef{}, fmt.Errorf("either a case id or a job id is required")
		}
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return JobRef{}, fmt.Errorf("failed to resolve the job's case: %w", err)
		}
		caseID = job.CaseID
	}
	return JobRef{CaseID: caseID, JobID: jobID}, nil
}

// GetSnapshot fetches the authoritative case snapshot.
func (c *Client) GetSnapshot(ctx context.Context, caseID string) (*domain.CaseSnapshot, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/v1/cases/" + caseID + "/snapshot")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	var snapshot domain.CaseSnapshot
	if err := decodeJSON(resp, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// CreateCase creates a new case and returns it.
func (c *Client) CreateCase(ctx context.Context, title, summary string) (*domain.Case, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"title": title, "summary": summary}).
		Post("/api/v1/cases")
	if err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	var cs domain.Case
	if err := decodeJSON(resp, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

// UploadDocument uploads one evidence file to a case.
func (c *Client) UploadDocument(ctx context.Context, caseID, fileName string, data io.Reader) (*TriggerResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("files", fileName, data).
		Post("/api/v1/cases/" + caseID + "/documents")
	if err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}

	var result TriggerResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TriggerAnalysis asks the backend to analyze a case's extracted documents.
func (c *Client) TriggerAnalysis(ctx context.Context, caseID string) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/v1/cases/"+caseID+"/analyze")
}

// TriggerBoardPopulation asks the backend to build the investigation board.
func (c *Client) TriggerBoardPopulation(ctx context.Context, caseID string) (*TriggerResult, error) {
	return c.trigger(ctx, "/api/v1/cases/"+caseID+"/board/populate")
}

// CancelJob requests server-side cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/api/v1/jobs/" + jobID + "/cancel")
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	var job Job
	if err := decodeJSON(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob asks the backend to rerun a failed or cancelled job.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*Job, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/api/v1/jobs/" + jobID + "/retry")
	if err != nil {
		return nil, fmt.Errorf("failed to retry job: %w", err)
	}

	var job Job
	if err := decodeJSON(resp, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) trigger(ctx context.Context, path string) (*TriggerResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger %s: %w", path, err)
	}

	var result TriggerResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeJSON validates status and content type before touching the body.
func decodeJSON(resp *resty.Response, out interface{}) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("backend returned HTTP %d: %s", resp.StatusCode(), apiErrorMessage(resp.Body()))
	}
	contentType := resp.Header().Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return fmt.Errorf("%w: content type %q", ErrMalformedResponse, contentType)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// apiErrorMessage pulls the "error" field out of an error body when present.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
