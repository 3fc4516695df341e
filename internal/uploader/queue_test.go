package uploader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/watch"
)

func newUploadServer(t *testing.T, maxSeen *atomic.Int64) *httptest.Server {
	var inFlight atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxSeen.Load()
			if cur <= seen || maxSeen.CompareAndSwap(seen, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mode":"sync","stored":1,"skipped":0}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTempFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("statement-%d.txt", i))
		if err := os.WriteFile(paths[i], []byte(fmt.Sprintf("witness statement %d", i)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestQueueBoundsConcurrency(t *testing.T) {
	var maxSeen atomic.Int64
	srv := newUploadServer(t, &maxSeen)

	client := watch.NewClient(srv.URL, 5*time.Second)
	q := NewQueue(client, logger.New(nil), 3)

	paths := writeTempFiles(t, 10)
	results := q.Run(context.Background(), "case-1", paths)

	if len(results) != 10 {
		t.Fatalf("results = %d, want 10", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Errorf("upload %d failed: %v", i, res.Err)
		}
		if res.Path != paths[i] {
			t.Errorf("result %d path = %q, want %q (order must be preserved)", i, res.Path, paths[i])
		}
		if res.Result == nil || res.Result.Stored != 1 {
			t.Errorf("upload %d result = %+v", i, res.Result)
		}
	}

	if got := maxSeen.Load(); got > 3 {
		t.Errorf("max in-flight uploads = %d, want at most 3", got)
	}
}

func TestQueueRecordsPerItemFailures(t *testing.T) {
	var maxSeen atomic.Int64
	srv := newUploadServer(t, &maxSeen)

	client := watch.NewClient(srv.URL, 5*time.Second)
	q := NewQueue(client, logger.New(nil), 3)

	paths := writeTempFiles(t, 2)
	paths = append(paths, filepath.Join(t.TempDir(), "does-not-exist.txt"))

	results := q.Run(context.Background(), "case-1", paths)

	if results[0].Err != nil || results[1].Err != nil {
		t.Error("existing files should upload despite a sibling failure")
	}
	if results[2].Err == nil {
		t.Error("missing file should record an error")
	}
}

func TestQueueStopsOnCancelledContext(t *testing.T) {
	var maxSeen atomic.Int64
	srv := newUploadServer(t, &maxSeen)

	client := watch.NewClient(srv.URL, 5*time.Second)
	q := NewQueue(client, logger.New(nil), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := q.Run(ctx, "case-1", writeTempFiles(t, 5))
	for i, res := range results {
		if res.Err == nil {
			t.Errorf("upload %d succeeded under a cancelled context", i)
		}
	}
}
