package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/logger"
)

type fakeJob struct {
	Status         domain.JobStatus
	TotalUnits     int
	CompletedUnits int
	FailedUnits    int
	HTTPStatus     int  // 0 means 200
	HTML           bool // answer with an HTML error page instead of JSON
}

// fakeBackend scripts job-status responses in order; the last entry repeats
// once the script is exhausted. Snapshot responses are controlled separately.
type fakeBackend struct {
	t *testing.T

	jobPolls          atomic.Int64
	snapshotGets      atomic.Int64
	script            []fakeJob
	snapshotAfter     atomic.Int64 // snapshot reports entities after N snapshot fetches (0 = never)
	snapshotHTMLAfter atomic.Int64 // snapshot answers HTML after N snapshot fetches (0 = never)

	srv *httptest.Server
}

func newFakeBackend(t *testing.T, script []fakeJob) *fakeBackend {
	b := &fakeBackend{t: t, script: script}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := b.jobPolls.Add(1)
		idx := int(n) - 1
		if idx >= len(b.script) {
			idx = len(b.script) - 1
		}
		j := b.script[idx]
		if j.HTTPStatus != 0 && j.HTTPStatus != http.StatusOK {
			w.WriteHeader(j.HTTPStatus)
			return
		}
		if j.HTML {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>proxy error</body></html>")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":              "job-1",
			"case_id":         "case-1",
			"status":          j.Status,
			"total_units":     j.TotalUnits,
			"completed_units": j.CompletedUnits,
			"failed_units":    j.FailedUnits,
		})
	})
	mux.HandleFunc("/api/v1/cases/case-1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		n := b.snapshotGets.Add(1)
		if after := b.snapshotHTMLAfter.Load(); after > 0 && n > after {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>proxy error</body></html>")
			return
		}
		snap := domain.CaseSnapshot{}
		if after := b.snapshotAfter.Load(); after > 0 && n > after {
			snap.Entities = []domain.Entity{{ID: "e1", CaseID: "case-1", Name: "Ray Donnelly"}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) watcher(interval, timeout time.Duration) *Watcher {
	client := NewClient(b.srv.URL, time.Second)
	log := logger.New(nil)
	return NewWatcher(client, log, &WatcherConfig{PollInterval: interval, Timeout: timeout})
}

func waitResult(t *testing.T, sub *Subscription, within time.Duration) Result {
	t.Helper()
	select {
	case res := <-sub.Done():
		return res
	case <-time.After(within):
		t.Fatal("watch did not stop in time")
		return Result{}
	}
}

func TestWatchStopsOnCompletion(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 3},
		{Status: domain.JobStatusCompleted, TotalUnits: 10, CompletedUnits: 10},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCompleted)
	}
	if res.Job == nil || res.Job.CompletedUnits != 10 {
		t.Errorf("final job = %+v, want completed_units 10", res.Job)
	}
	if res.Snapshot == nil {
		t.Error("final refetch missing")
	}

	// Exactly one final refetch for the job-id path, and no tick 3.
	if got := backend.snapshotGets.Load(); got != 1 {
		t.Errorf("snapshot fetches = %d, want exactly 1", got)
	}
	polls := backend.jobPolls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := backend.jobPolls.Load(); got != polls {
		t.Errorf("polls after stop: %d -> %d, want no change", polls, got)
	}
	if polls != 2 {
		t.Errorf("job polls = %d, want 2", polls)
	}
}

func TestWatchTerminatesOnTimeout(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 1},
	})
	interval := 20 * time.Millisecond
	timeout := 150 * time.Millisecond
	w := backend.watcher(interval, timeout)

	start := time.Now()
	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeTimeout)
	}
	if res.Outcome.Terminal() {
		t.Error("timeout must not count as a job conclusion")
	}
	if elapsed := time.Since(start); elapsed > timeout+10*interval {
		t.Errorf("watch ran %v, want under timeout + interval slack", elapsed)
	}

	polls := backend.jobPolls.Load()
	time.Sleep(5 * interval)
	if got := backend.jobPolls.Load(); got != polls {
		t.Errorf("polls after timeout: %d -> %d, want no change", polls, got)
	}
}

func TestWatchSwallowsTransientPollErrors(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{HTTPStatus: http.StatusInternalServerError},
		{HTTPStatus: http.StatusBadGateway},
		{Status: domain.JobStatusCompleted, TotalUnits: 2, CompletedUnits: 2},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeCompleted {
		t.Errorf("outcome = %q, want %q after transient errors", res.Outcome, OutcomeCompleted)
	}
	if got := backend.jobPolls.Load(); got != 3 {
		t.Errorf("job polls = %d, want 3", got)
	}
}

func TestWatchStopsOnMalformedPollResponse(t *testing.T) {
	// A proxy answering HTML is not a transient failure: the watch must stop
	// on the first malformed poll instead of retrying until the timeout.
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 2},
		{HTML: true},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	start := time.Now()
	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeMalformed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeMalformed)
	}
	if !errors.Is(res.Err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", res.Err)
	}
	if !res.Outcome.Terminal() {
		t.Error("malformed response must produce a completion notice")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("watch ran %v, want a stop on the malformed poll, not the timeout", elapsed)
	}
	if res.Snapshot == nil {
		t.Error("final refetch missing")
	}

	// The malformed poll is the last one.
	polls := backend.jobPolls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := backend.jobPolls.Load(); got != polls {
		t.Errorf("polls after stop: %d -> %d, want no change", polls, got)
	}
	if polls != 2 {
		t.Errorf("job polls = %d, want 2", polls)
	}
}

func TestWatchFallbackStopsOnMalformedSnapshot(t *testing.T) {
	backend := newFakeBackend(t, nil)
	// Baseline fetch is snapshot #1 and stays JSON; every later fetch,
	// including the final refetch, answers HTML.
	backend.snapshotHTMLAfter.Store(1)
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeMalformed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeMalformed)
	}
	if !errors.Is(res.Err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", res.Err)
	}
	if res.Snapshot != nil {
		t.Error("refetch against a broken backend cannot yield a snapshot")
	}
}

func TestWatchFailedJobStillRefetches(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusFailed, TotalUnits: 4, CompletedUnits: 1, FailedUnits: 3},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeFailed)
	}
	if res.Snapshot == nil {
		t.Error("failed job must still trigger the final refetch")
	}
}

func TestWatchCancelIsIdempotent(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 1},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	time.Sleep(50 * time.Millisecond)

	sub.Cancel()
	sub.Cancel() // second cancel is a no-op

	res := waitResult(t, sub, 2*time.Second)
	if res.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeCancelled)
	}

	// Cancel after completion is also a no-op.
	sub.Cancel()

	polls := backend.jobPolls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := backend.jobPolls.Load(); got != polls {
		t.Errorf("polls after cancel: %d -> %d, want no change", polls, got)
	}
}

func TestWatchDeliversResultExactlyOnce(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusCompleted, TotalUnits: 1, CompletedUnits: 1},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})

	got := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Done():
			if !ok {
				if got != 1 {
					t.Fatalf("results delivered = %d, want exactly 1", got)
				}
				return
			}
			got++
		case <-deadline:
			t.Fatal("done channel never closed")
		}
	}
}

func TestWatchProgressIsMonotonic(t *testing.T) {
	// Server answers out of order: 5 done, then 3, then terminal.
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 5},
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 3},
		{Status: domain.JobStatusCompleted, TotalUnits: 10, CompletedUnits: 10},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})

	last := -1
	done := false
	for !done {
		select {
		case p, ok := <-sub.Progress():
			if !ok {
				continue
			}
			if p.UnitsDone < last {
				t.Errorf("progress went backwards: %d -> %d", last, p.UnitsDone)
			}
			last = p.UnitsDone
		case <-sub.Done():
			done = true
		case <-time.After(2 * time.Second):
			t.Fatal("watch did not stop in time")
		}
	}
	if last < 5 {
		t.Errorf("last progress = %d, want at least the 5-unit high-water mark", last)
	}
}

func TestWatchFallbackDataArrival(t *testing.T) {
	backend := newFakeBackend(t, nil)
	// Baseline fetch is snapshot #1; data appears from fetch #3 on, so the
	// first poll tick sees nothing and the second one fires.
	backend.snapshotAfter.Store(2)
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeDataArrived {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeDataArrived)
	}
	if res.Snapshot == nil || len(res.Snapshot.Entities) == 0 {
		t.Error("final refetch should carry the arrived data")
	}
	if backend.jobPolls.Load() != 0 {
		t.Error("fallback path must not hit the job endpoint")
	}
}

func TestWatchFallbackTimesOutWhenNothingArrives(t *testing.T) {
	backend := newFakeBackend(t, nil)
	w := backend.watcher(20*time.Millisecond, 120*time.Millisecond)

	sub := w.Watch(context.Background(), JobRef{CaseID: "case-1"})
	res := waitResult(t, sub, 2*time.Second)

	if res.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeTimeout)
	}
}

func TestSessionNotifiesAtMostOnce(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusCompleted, TotalUnits: 1, CompletedUnits: 1},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	var notices atomic.Int64
	session := NewSession(w)
	session.Notify = func(ref JobRef, res Result) {
		notices.Add(1)
	}
	defer session.Close()

	// The session's reaper owns the Done channel; tests wait through the
	// session, not the subscription.
	session.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	session.Wait()

	// Re-watching the same job id must not repeat the notice.
	session.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})
	session.Wait()

	if got := notices.Load(); got != 1 {
		t.Errorf("completion notices = %d, want 1", got)
	}
	if session.Snapshot() == nil {
		t.Error("session should hold the final snapshot")
	}
}

func TestSessionCloseCancelsActiveWatches(t *testing.T) {
	backend := newFakeBackend(t, []fakeJob{
		{Status: domain.JobStatusRunning, TotalUnits: 10, CompletedUnits: 1},
	})
	w := backend.watcher(20*time.Millisecond, 5*time.Second)

	session := NewSession(w)
	session.Watch(context.Background(), JobRef{CaseID: "case-1", JobID: "job-1"})

	time.Sleep(50 * time.Millisecond)
	session.Close()
	session.Close() // idempotent
	session.Wait()

	if got := session.ActiveWatches(); got != 0 {
		t.Errorf("active watches after close = %d, want 0", got)
	}
	polls := backend.jobPolls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := backend.jobPolls.Load(); got != polls {
		t.Errorf("polls after close: %d -> %d, want no change", polls, got)
	}
}

func TestOutcomeTerminal(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    bool
	}{
		{OutcomeCompleted, true},
		{OutcomeFailed, true},
		{OutcomeCancelledJob, true},
		{OutcomeDataArrived, true},
		{OutcomeMalformed, true},
		{OutcomeTimeout, false},
		{OutcomeCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := tt.outcome.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{3, 10, 30},
		{10, 10, 100},
		{1, 3, 33},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.done, tt.total), func(t *testing.T) {
			if got := progressPercent(tt.done, tt.total); got != tt.want {
				t.Errorf("progressPercent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
			}
		})
	}
}
