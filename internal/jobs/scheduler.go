package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pixelry/internal/config"
	"pixelry/internal/database"
	"pixelry/internal/visits"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	snapshotJob  *SnapshotJob
	summarizeJob *SummarizeJob

	// Tickers for each job type
	snapshotTicker  *time.Ticker
	summarizeTicker *time.Ticker
}

func NewScheduler(cfg *config.Config, dbManager *database.DBManager, summarizer *visits.Summarizer, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
	}

	// Initialize job instances
	s.snapshotJob = NewSnapshotJob(cfg, dbManager, logger)
	s.summarizeJob = NewSummarizeJob(summarizer, logger)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	s.startSnapshotJob()
	s.startSummarizeJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startSnapshotJob() {
	interval := time.Duration(s.cfg.SnapshotIntervalSeconds) * time.Second
	s.logger.Info("Starting snapshot job", slog.Duration("interval", interval))
	s.snapshotTicker = time.NewTicker(interval)

	go func() {
		// Publish a snapshot shortly after boot so a fresh deployment has an
		// artifact to serve without waiting a full interval.
		s.executeJobSafely("snapshot", s.snapshotJob.Run)

		for {
			select {
			case <-s.snapshotTicker.C:
				s.executeJobSafely("snapshot", s.snapshotJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Snapshot job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startSummarizeJob() {
	interval := time.Duration(s.cfg.SummarizeIntervalSeconds) * time.Second
	s.logger.Info("Starting summarize job", slog.Duration("interval", interval))
	s.summarizeTicker = time.NewTicker(interval)

	go func() {
		// Warm-up run so restarts mid-month still refresh last month's docs.
		s.executeJobSafely("summarize", s.summarizeJob.RunWarmup)

		for {
			select {
			case <-s.summarizeTicker.C:
				s.executeJobSafely("summarize", s.summarizeJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Summarize job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.snapshotTicker != nil {
		s.snapshotTicker.Stop()
	}
	if s.summarizeTicker != nil {
		s.summarizeTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunSnapshotNow triggers a snapshot outside the schedule.
func (s *Scheduler) RunSnapshotNow() error {
	if !s.enabled {
		return nil
	}
	return s.snapshotJob.Run()
}

// RunSummarizeNow triggers summarization outside the schedule.
func (s *Scheduler) RunSummarizeNow() error {
	if !s.enabled {
		return nil
	}
	return s.summarizeJob.RunWarmup()
}
