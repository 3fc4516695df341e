package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/logger"
)

// Outcome classifies why a watch stopped.
type Outcome string

const (
	// OutcomeCompleted: job reported status completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed: job reported status failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelledJob: job reported status cancelled (server-side).
	OutcomeCancelledJob Outcome = "cancelled"
	// OutcomeDataArrived: the data-arrival fallback saw a tracked collection
	// become non-empty. Only possible for watches without a job id.
	OutcomeDataArrived Outcome = "data_arrived"
	// OutcomeMalformed: the backend answered a poll with something other than
	// the expected JSON. Retrying won't help, so the watch stops and the
	// protocol error is surfaced on the Result.
	OutcomeMalformed Outcome = "malformed_response"
	// OutcomeTimeout: the hard timeout elapsed before any terminal signal.
	// The server-side job keeps running; only the client stops waiting.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCancelled: the caller cancelled the watch.
	OutcomeCancelled Outcome = "watch_cancelled"
)

// Terminal reports whether the outcome warrants a completion notice: either
// a real job conclusion, or a protocol failure that ends the watch for good.
// Timeouts and caller cancellations are the client giving up and stay silent.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeCancelledJob, OutcomeDataArrived, OutcomeMalformed:
		return true
	}
	return false
}

// JobRef identifies what to watch. JobID may be empty when the triggering
// endpoint exposed none; the watch then falls back to data-arrival detection
// against the case snapshot.
type JobRef struct {
	CaseID string
	JobID  string
}

// Progress is a per-tick view of job progress. UnitsDone never decreases
// across updates for one watch even if polls resolve out of order server-side.
type Progress struct {
	UnitsDone  int
	TotalUnits int
	Percentage int
}

// Result is delivered exactly once per watch, on its Done channel.
type Result struct {
	Outcome  Outcome
	Job      *Job                 // last observed record; nil on the fallback path
	Snapshot *domain.CaseSnapshot // final authoritative refetch; nil if it failed
	Err      error                // terminal failure detail, if any
}

// Watcher polls jobs at a fixed interval with a hard timeout. Ticks are
// awaited: the next poll is not scheduled until the previous response (or
// error) resolves, so one watch never has overlapping in-flight polls.
type Watcher struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger
}

// WatcherConfig holds the polling policy.
type WatcherConfig struct {
	// PollInterval between status reads. No backoff: polls are cheap status
	// reads and responsiveness wins.
	PollInterval time.Duration
	// Timeout is the absolute ceiling on one watch. After it elapses the
	// client unblocks unconditionally.
	Timeout time.Duration
}

// NewWatcher creates a watcher.
func NewWatcher(client *Client, log *logger.Logger, cfg *WatcherConfig) *Watcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Watcher{
		client:   client,
		interval: interval,
		timeout:  timeout,
		logger:   log,
	}
}

// Subscription is the handle for one running watch.
type Subscription struct {
	progress chan Progress
	done     chan Result

	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// Progress returns a channel of per-tick progress updates. Updates are
// dropped, not queued, when the receiver lags; only Done is guaranteed
// delivery. The channel is closed when the watch stops.
func (s *Subscription) Progress() <-chan Progress {
	return s.progress
}

// Done returns a channel that receives the single Result and is then closed.
func (s *Subscription) Done() <-chan Result {
	return s.done
}

// Cancel stops the watch. It is idempotent: cancelling twice, or after the
// watch already stopped, is a no-op.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Watch begins observing a job. The returned subscription's Done channel
// receives exactly one Result no later than timeout + one poll interval after
// the call, regardless of what the server does.
// Parameters:
//   - ctx: parent context; its cancellation cancels the watch.
//   - ref: job reference from the triggering action.
//
// Returns:
//   - *Subscription: handle carrying progress and completion channels.
func (w *Watcher) Watch(ctx context.Context, ref JobRef) *Subscription {
	wctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		progress: make(chan Progress, 1),
		done:     make(chan Result, 1),
		cancel:   cancel,
	}

	go w.run(wctx, ref, sub)

	return sub
}

func (w *Watcher) run(ctx context.Context, ref JobRef, sub *Subscription) {
	defer sub.cancel() // release the context when the watch stops on its own

	log := w.logger.WithFields(logger.Fields{
		logger.FieldCaseID: ref.CaseID,
		logger.FieldJobID:  ref.JobID,
	})

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Baseline snapshot for the data-arrival fallback. Taken once, before
	// the first tick: the fallback fires on empty-to-non-empty transitions
	// relative to this baseline.
	var baseline *domain.CaseSnapshot
	if ref.JobID == "" {
		snap, err := w.client.GetSnapshot(ctx, ref.CaseID)
		if err != nil {
			log.WithError(err).Warn("Failed to take baseline snapshot")
		} else {
			baseline = snap
		}
	}

	var lastJob *Job
	maxUnitsDone := 0

	for {
		select {
		case <-ctx.Done():
			w.finish(ref, sub, log, Result{Outcome: OutcomeCancelled, Job: lastJob})
			return
		case <-deadline.C:
			w.finish(ref, sub, log, Result{Outcome: OutcomeTimeout, Job: lastJob})
			return
		case <-ticker.C:
		}

		// The poll is awaited inside the loop body, so a slow response
		// delays the next tick instead of overlapping it.
		if ref.JobID != "" {
			job, err := w.client.GetJob(ctx, ref.JobID)
			if err != nil {
				if ctx.Err() != nil {
					w.finish(ref, sub, log, Result{Outcome: OutcomeCancelled, Job: lastJob})
					return
				}
				// A malformed answer means the backend is not speaking the
				// protocol; retrying can't fix that.
				if errors.Is(err, ErrMalformedResponse) {
					w.finish(ref, sub, log, Result{Outcome: OutcomeMalformed, Job: lastJob, Err: err})
					return
				}
				// Transient poll failure: swallow and retry next tick.
				log.WithError(err).Debug("Poll failed, retrying next tick")
				continue
			}
			lastJob = job

			// Progress display is monotonic even if the server answers
			// polls out of order.
			if job.UnitsDone() > maxUnitsDone {
				maxUnitsDone = job.UnitsDone()
			}
			sub.offerProgress(Progress{
				UnitsDone:  maxUnitsDone,
				TotalUnits: job.TotalUnits,
				Percentage: progressPercent(maxUnitsDone, job.TotalUnits),
			})

			if job.Terminal() {
				w.finish(ref, sub, log, Result{Outcome: outcomeForStatus(job.Status), Job: job})
				return
			}
			continue
		}

		// Fallback path: no job id was exposed, infer completion from the
		// snapshot. Can false-negative (zero net new rows) and
		// false-positive (unrelated writer); used only when nothing better
		// exists.
		snap, err := w.client.GetSnapshot(ctx, ref.CaseID)
		if err != nil {
			if ctx.Err() != nil {
				w.finish(ref, sub, log, Result{Outcome: OutcomeCancelled})
				return
			}
			if errors.Is(err, ErrMalformedResponse) {
				w.finish(ref, sub, log, Result{Outcome: OutcomeMalformed, Err: err})
				return
			}
			log.WithError(err).Debug("Snapshot poll failed, retrying next tick")
			continue
		}
		if snap.HasNewDataSince(baseline) {
			w.finish(ref, sub, log, Result{Outcome: OutcomeDataArrived})
			return
		}
	}
}

// finish performs the single final refetch and delivers the Result. Every
// stop path funnels through here exactly once per watch.
func (w *Watcher) finish(ref JobRef, sub *Subscription, log *logger.Logger, res Result) {
	// The watch context may already be cancelled; the final authoritative
	// refetch still has to happen, on a bounded fresh context.
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	snap, err := w.client.GetSnapshot(ctx, ref.CaseID)
	if err != nil {
		log.WithError(err).Warn("Final snapshot refetch failed")
	} else {
		res.Snapshot = snap
	}

	if res.Outcome == OutcomeFailed && res.Job != nil && res.Job.ErrorLog != "" {
		res.Err = &JobError{JobID: res.Job.ID, Detail: res.Job.ErrorLog}
	}

	log.WithField("outcome", string(res.Outcome)).Info("Watch stopped")

	close(sub.progress)
	sub.done <- res
	close(sub.done)
}

// offerProgress publishes an update without blocking the poll loop. A stale
// pending update is replaced by the newer one.
func (s *Subscription) offerProgress(p Progress) {
	for {
		select {
		case s.progress <- p:
			return
		default:
		}
		select {
		case <-s.progress:
		default:
		}
	}
}

// JobError carries the server-reported failure detail for a failed job.
type JobError struct {
	JobID  string
	Detail string
}

func (e *JobError) Error() string {
	return "job " + e.JobID + " failed: " + e.Detail
}

func outcomeForStatus(status domain.JobStatus) Outcome {
	switch status {
	case domain.JobStatusCompleted:
		return OutcomeCompleted
	case domain.JobStatusFailed:
		return OutcomeFailed
	case domain.JobStatusCancelled:
		return OutcomeCancelledJob
	}
	return OutcomeCompleted
}

func progressPercent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return 100 * done / total
}
