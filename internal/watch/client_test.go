package watch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samrosenbaum/cracker/internal/domain"
)

func TestClientRejectsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>gateway error</body></html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.GetJob(context.Background(), "job-1")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Job not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.GetJob(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if got := err.Error(); got != "backend returned HTTP 404: Job not found" {
		t.Errorf("err = %q", got)
	}
}

func TestClientGetJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"job-7","status":"running","total_units":8,"completed_units":2,"failed_units":1,"progress_percentage":37}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	job, err := client.GetJob(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("status = %q", job.Status)
	}
	if job.UnitsDone() != 3 {
		t.Errorf("UnitsDone = %d, want 3", job.UnitsDone())
	}
	if job.Terminal() {
		t.Error("running job reported terminal")
	}
}

func TestClientResolveRef(t *testing.T) {
	var jobGets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobGets++
		if r.URL.Path != "/api/v1/jobs/job-7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"job-7","case_id":"case-3","status":"running"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)

	// Without a case id, the job record supplies it. A ref missing the case
	// would send the final refetch to a snapshot URL that matches no route.
	ref, err := client.ResolveRef(context.Background(), "", "job-7")
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	if ref.CaseID != "case-3" || ref.JobID != "job-7" {
		t.Errorf("ref = %+v, want case-3/job-7", ref)
	}

	// An explicit case id wins and costs no extra fetch.
	ref, err = client.ResolveRef(context.Background(), "case-9", "job-7")
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	if ref.CaseID != "case-9" {
		t.Errorf("case id = %q, want the explicit one", ref.CaseID)
	}
	if jobGets != 1 {
		t.Errorf("job fetches = %d, want 1", jobGets)
	}

	// With neither, there is nothing to watch.
	if _, err := client.ResolveRef(context.Background(), "", ""); err == nil {
		t.Error("expected error when both ids are empty")
	}
}

func TestTriggerResultAsync(t *testing.T) {
	tests := []struct {
		name   string
		result TriggerResult
		want   bool
	}{
		{"async with job id", TriggerResult{Mode: "async", JobID: "j"}, true},
		{"sync", TriggerResult{Mode: "sync"}, false},
		{"async missing job id", TriggerResult{Mode: "async"}, false},
		{"no mode at all", TriggerResult{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Async(); got != tt.want {
				t.Errorf("Async() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientTriggerAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/cases/case-1/analyze" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"mode":"async","job_id":"job-9"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	result, err := client.TriggerAnalysis(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("TriggerAnalysis: %v", err)
	}
	if !result.Async() || result.JobID != "job-9" {
		t.Errorf("result = %+v", result)
	}
}
