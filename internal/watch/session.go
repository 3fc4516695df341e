package watch

import (
	"context"
	"sync"

	"github.com/samrosenbaum/cracker/internal/domain"
)

// Session is a view-state container scoped to one client "mount" (a CLI
// invocation, a UI page, a test). It owns the active watches and the
// last-fetched snapshot, and tears everything down exactly once on Close.
// State is rebuilt from authoritative refetches, never patched piecemeal.
type Session struct {
	watcher *Watcher

	mu       sync.Mutex
	wg       sync.WaitGroup
	active   map[*Subscription]struct{}
	snapshot *domain.CaseSnapshot
	noticed  map[string]bool
	closed   bool

	// Notify, when set, receives one completion notice per watched job. It
	// is invoked at most once per job id regardless of how many stopping
	// conditions fire. Fallback watches carry no job id, so all of them on
	// one case share a single notice key: per-job identity is unknowable on
	// that path, and one notice per case per session is the deliberate trade.
	Notify func(ref JobRef, res Result)
}

// NewSession creates an empty session bound to a watcher.
func NewSession(watcher *Watcher) *Session {
	return &Session{
		watcher: watcher,
		active:  make(map[*Subscription]struct{}),
		noticed: make(map[string]bool),
	}
}

// Watch starts observing a job within this session. The session applies the
// final snapshot to its view state and emits the completion notice; callers
// that need per-tick progress read the subscription's Progress channel.
// Watching on a closed session returns a subscription that is already
// cancelled.
func (s *Session) Watch(ctx context.Context, ref JobRef) *Subscription {
	sub := s.watcher.Watch(ctx, ref)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return sub
	}
	s.active[sub] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.reap(ref, sub)

	return sub
}

// reap waits for the watch to stop, folds its snapshot into the session, and
// delivers the at-most-once completion notice.
func (s *Session) reap(ref JobRef, sub *Subscription) {
	defer s.wg.Done()
	res, ok := <-sub.Done()

	s.mu.Lock()
	delete(s.active, sub)
	if !ok {
		s.mu.Unlock()
		return
	}
	if res.Snapshot != nil {
		// Read-modify-write on the latest state under the lock, so racing
		// completions can't clobber each other with stale snapshots.
		s.snapshot = res.Snapshot
	}

	notify := false
	if res.Outcome.Terminal() {
		key := ref.JobID
		if key == "" {
			key = "case:" + ref.CaseID
		}
		if !s.noticed[key] {
			s.noticed[key] = true
			notify = true
		}
	}
	notifyFn := s.Notify
	s.mu.Unlock()

	if notify && notifyFn != nil {
		notifyFn(ref, res)
	}
}

// Snapshot returns the last authoritative snapshot seen by any watch in this
// session, or nil before the first one lands.
func (s *Session) Snapshot() *domain.CaseSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Wait blocks until every watch started through this session has delivered
// its result (or been cancelled).
func (s *Session) Wait() {
	s.wg.Wait()
}

// ActiveWatches reports how many watches are still running.
func (s *Session) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close cancels every active watch. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.active))
	for sub := range s.active {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
