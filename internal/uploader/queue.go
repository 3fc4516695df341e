// Package uploader pushes batches of evidence files to the backend with a
// fixed cap on in-flight uploads. Workers claim items from a shared queue;
// nothing mutates shared counters from callbacks.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/watch"
)

// ItemResult is the per-file outcome of a batch upload. Exactly one of
// Result and Err is set.
type ItemResult struct {
	Path   string
	Result *watch.TriggerResult
	Err    error
}

// Queue uploads files with bounded concurrency.
type Queue struct {
	client      *watch.Client
	logger      *logger.Logger
	concurrency int
}

// NewQueue creates an upload queue.
// Parameters:
//   - client: backend client used for uploads.
//   - log: logger.
//   - concurrency: maximum in-flight uploads; values < 1 fall back to 3.
//
// Returns:
//   - *Queue: initialized queue.
func NewQueue(client *watch.Client, log *logger.Logger, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Queue{
		client:      client,
		logger:      log,
		concurrency: concurrency,
	}
}

// Run uploads the given files to a case and returns one result per input, in
// input order. A failed upload records its error and does not stop the rest
// of the batch; cancellation via ctx stops claiming new items.
// Parameters:
//   - ctx: context for cancellation.
//   - caseID: target case.
//   - paths: local file paths to upload.
//
// Returns:
//   - []ItemResult: per-file outcomes aligned with paths.
func (q *Queue) Run(ctx context.Context, caseID string, paths []string) []ItemResult {
	results := make([]ItemResult, len(paths))

	// Workers claim the next pending index from the channel; the channel is
	// the claim discipline, so no two workers ever take the same item.
	pending := make(chan int)
	go func() {
		defer close(pending)
		for i := range paths {
			select {
			case pending <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < q.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range pending {
				results[i] = q.upload(ctx, caseID, paths[i])
			}
		}()
	}
	wg.Wait()

	// Items never claimed because of cancellation still get an answer.
	for i := range results {
		if results[i].Path == "" {
			results[i] = ItemResult{Path: paths[i], Err: ctx.Err()}
		}
	}

	return results
}

func (q *Queue) upload(ctx context.Context, caseID, path string) ItemResult {
	f, err := os.Open(path)
	if err != nil {
		return ItemResult{Path: path, Err: fmt.Errorf("failed to open %s: %w", path, err)}
	}
	defer f.Close()

	result, err := q.client.UploadDocument(ctx, caseID, filepath.Base(path), f)
	if err != nil {
		q.logger.WithField("path", path).WithError(err).Error("Upload failed")
		return ItemResult{Path: path, Err: err}
	}

	q.logger.WithFields(logger.Fields{
		"path":    path,
		"stored":  result.Stored,
		"skipped": result.Skipped,
	}).Debug("Upload finished")

	return ItemResult{Path: path, Result: result}
}
