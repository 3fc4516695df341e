package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samrosenbaum/cracker/internal/config"
	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/uploader"
	"github.com/samrosenbaum/cracker/internal/watch"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "cracker-casectl",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	serverURL := flag.String("server", "http://localhost:8080", "Base URL of the cracker API server")
	caseID := flag.String("case", "", "Case ID to operate on")
	title := flag.String("title", "", "Create a new case with this title before other actions")
	summary := flag.String("summary", "", "Summary for the new case (with -title)")
	analyze := flag.Bool("analyze", false, "Trigger document analysis for the case")
	board := flag.Bool("board", false, "Trigger investigation board population for the case")
	watchJob := flag.String("watch-job", "", "Watch an existing job until it stops")
	cancelJob := flag.String("cancel-job", "", "Cancel a running job")
	retryJob := flag.String("retry-job", "", "Retry a failed or cancelled job")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	client := watch.NewClient(*serverURL, cfg.Watch.Timeout)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	// One-shot job controls don't need a case or a watch session.
	if *cancelJob != "" {
		job, err := client.CancelJob(ctx, *cancelJob)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to cancel job")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldJobID:  job.ID,
			logger.FieldStatus: string(job.Status),
		}).Info("Cancel requested")
		return
	}
	if *retryJob != "" {
		job, err := client.RetryJob(ctx, *retryJob)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to retry job")
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldJobID:  job.ID,
			logger.FieldStatus: string(job.Status),
		}).Info("Retry requested")
		*watchJob = job.ID
		if *caseID == "" {
			*caseID = job.CaseID
		}
	}

	if *title != "" {
		cs, err := client.CreateCase(ctx, *title, *summary)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to create case")
		}
		*caseID = cs.ID
		appLogger.WithFields(logger.Fields{
			logger.FieldCaseID: cs.ID,
			"title":            cs.Title,
		}).Info("Case created")
		fmt.Println(cs.ID)
	}

	files := flag.Args()
	if (len(files) > 0 || *analyze || *board) && *caseID == "" {
		appLogger.Fatal("A case is required: pass -case <id> or -title to create one")
	}

	watcher := watch.NewWatcher(client, appLogger, &watch.WatcherConfig{
		PollInterval: cfg.Watch.PollInterval,
		Timeout:      cfg.Watch.Timeout,
	})
	session := watch.NewSession(watcher)
	session.Notify = func(ref watch.JobRef, res watch.Result) {
		log := appLogger.WithFields(logger.Fields{
			logger.FieldCaseID: ref.CaseID,
			logger.FieldJobID:  ref.JobID,
			"outcome":          string(res.Outcome),
		})
		if res.Err != nil {
			log.WithError(res.Err).Warn("Job finished with errors")
			return
		}
		log.Info("Job finished")
	}
	defer session.Close()

	if len(files) > 0 {
		uploadFiles(ctx, cfg, client, session, appLogger, *caseID, files)
	}

	if *analyze {
		triggerAndWatch(ctx, session, appLogger, *caseID, "analysis", func() (*watch.TriggerResult, error) {
			return client.TriggerAnalysis(ctx, *caseID)
		})
	}
	if *board {
		triggerAndWatch(ctx, session, appLogger, *caseID, "board", func() (*watch.TriggerResult, error) {
			return client.TriggerBoardPopulation(ctx, *caseID)
		})
	}
	if *watchJob != "" {
		// -watch-job alone is allowed: the job record supplies the case id
		// the final refetch needs.
		ref, err := client.ResolveRef(ctx, *caseID, *watchJob)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to resolve job")
		}
		if *caseID == "" {
			*caseID = ref.CaseID
		}
		watchWithProgress(ctx, session, appLogger, ref)
	}

	session.Wait()

	if snap := session.Snapshot(); snap != nil {
		appLogger.WithFields(logger.Fields{
			logger.FieldCaseID: *caseID,
			"entities":         len(snap.Entities),
			"connections":      len(snap.Connections),
			"timeline_events":  len(snap.TimelineEvents),
			"alibis":           len(snap.Alibis),
			"documents":        len(snap.Documents),
		}).Info("Final case snapshot")
	}
}

// uploadFiles pushes the given paths through the bounded upload queue and
// watches whichever uploads kicked off async extraction jobs.
func uploadFiles(ctx context.Context, cfg *config.Config, client *watch.Client, session *watch.Session, log *logger.Logger, caseID string, files []string) {
	queue := uploader.NewQueue(client, log, cfg.Upload.Concurrency)
	results := queue.Run(ctx, caseID, files)

	var stored, skipped, failed int
	for _, item := range results {
		if item.Err != nil {
			failed++
			continue
		}
		stored += item.Result.Stored
		skipped += item.Result.Skipped
		if item.Result.Async() {
			watchWithProgress(ctx, session, log, watch.JobRef{CaseID: caseID, JobID: item.Result.JobID})
		}
	}
	log.WithFields(logger.Fields{
		logger.FieldCaseID: caseID,
		"stored":           stored,
		"skipped":          skipped,
		"failed":           failed,
	}).Info("Upload completed")
}

// triggerAndWatch fires a case-level action and, when the server chose the
// async path, watches the returned job. Small batches finish synchronously
// and need no watch at all.
func triggerAndWatch(ctx context.Context, session *watch.Session, log *logger.Logger, caseID, action string, trigger func() (*watch.TriggerResult, error)) {
	res, err := trigger()
	if err != nil {
		log.WithError(err).WithField("action", action).Fatal("Failed to trigger action")
	}
	if !res.Async() {
		log.WithFields(logger.Fields{
			logger.FieldCaseID: caseID,
			"action":           action,
			"units":            res.Units,
		}).Info("Completed synchronously")
		return
	}
	log.WithFields(logger.Fields{
		logger.FieldCaseID: caseID,
		logger.FieldJobID:  res.JobID,
		"action":           action,
	}).Info("Job started")
	watchWithProgress(ctx, session, log, watch.JobRef{CaseID: caseID, JobID: res.JobID})
}

// watchWithProgress registers a watch on the session and logs each progress
// update until the watch stops.
func watchWithProgress(ctx context.Context, session *watch.Session, log *logger.Logger, ref watch.JobRef) {
	sub := session.Watch(ctx, ref)
	go func() {
		for p := range sub.Progress() {
			log.WithFields(logger.Fields{
				logger.FieldJobID: ref.JobID,
				"done":            p.UnitsDone,
				"total":           p.TotalUnits,
				"percent":         p.Percentage,
			}).Info("Job progress")
		}
	}()
}
