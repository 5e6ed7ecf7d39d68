package jobs

import (
	"log/slog"
	"sync"
	"time"

	"pixelry/internal/visits"
)

// SummarizeJob closes out each month's aggregates. The ticker fires far more
// often than months roll over, so Run gates on the period: the closed month is
// summarized once, shortly after it ends, and then left alone.
type SummarizeJob struct {
	summarizer *visits.Summarizer
	logger     *slog.Logger

	mu         sync.Mutex
	lastPeriod string
}

func NewSummarizeJob(summarizer *visits.Summarizer, logger *slog.Logger) *SummarizeJob {
	return &SummarizeJob{
		summarizer: summarizer,
		logger:     logger,
	}
}

// Run summarizes the previous month if this process has not done so yet.
func (j *SummarizeJob) Run() error {
	period := visits.PreviousMonth(time.Now())

	j.mu.Lock()
	done := j.lastPeriod == period
	j.mu.Unlock()
	if done {
		return nil
	}

	return j.runPeriod(period)
}

// RunWarmup summarizes the previous month unconditionally. It runs once at
// boot so a restart never leaves last month's documents stale.
func (j *SummarizeJob) RunWarmup() error {
	return j.runPeriod(visits.PreviousMonth(time.Now()))
}

func (j *SummarizeJob) runPeriod(period string) error {
	j.logger.Info("Summarizing period", slog.String("period", period))
	if err := j.summarizer.SummarizeAll(period); err != nil {
		return err
	}

	j.mu.Lock()
	j.lastPeriod = period
	j.mu.Unlock()
	return nil
}
