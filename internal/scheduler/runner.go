package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Trigger is the surface jobs act on. The agent satisfies it; tests use
// fakes.
type Trigger interface {
	// TriggerCycle runs one remediation cycle unless one is already in
	// flight. It reports whether the cycle actually ran.
	TriggerCycle(ctx context.Context) (bool, error)
	// CleanupApprovals purges settled approval requests older than age.
	CleanupApprovals(age time.Duration) int
	// RenderReport generates and persists a performance report.
	RenderReport(ctx context.Context) error
}

// JobRunner executes a single job on schedule.
type JobRunner struct {
	job     *Job
	trigger Trigger
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJobRunner creates a runner for one job.
func NewJobRunner(job *Job, trigger Trigger, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunner{
		job:     job,
		trigger: trigger,
		logger:  logger.With("job", job.ID),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the job on its schedule until the context is cancelled or
// Stop is called.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	nextRun, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.job.State.NextRunAt = nextRun
	r.logger.Info("job runner started", "next_run", nextRun.Format(time.RFC3339))

	var tickerDuration time.Duration
	switch r.job.Schedule.Kind {
	case "interval":
		tickerDuration = time.Duration(r.job.Schedule.IntervalMs) * time.Millisecond
	case "cron":
		// cron resolution is one minute
		tickerDuration = time.Minute
	}

	ticker := time.NewTicker(tickerDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("job runner stopped")
			return
		case now := <-ticker.C:
			shouldRun := r.job.Schedule.Kind == "interval" || !now.Before(r.job.State.NextRunAt)
			if !shouldRun {
				continue
			}

			r.executeJob(ctx)

			nextRun, err := r.job.NextRun(time.Now())
			if err != nil {
				r.logger.Error("failed to calculate next run", "error", err)
			} else {
				r.job.State.NextRunAt = nextRun
			}
		}
	}
}

// Stop stops the runner and waits for it to exit.
func (r *JobRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// executeJob runs the job's task once and updates its state.
func (r *JobRunner) executeJob(ctx context.Context) {
	start := time.Now()
	r.logger.Info("executing job", "task", r.job.Task)

	var (
		err     error
		skipped bool
	)
	switch r.job.Task {
	case TaskCycle:
		var ran bool
		ran, err = r.trigger.TriggerCycle(ctx)
		skipped = err == nil && !ran
	case TaskCleanup:
		removed := r.trigger.CleanupApprovals(30 * 24 * time.Hour)
		r.logger.Info("approval cleanup done", "removed", removed)
	case TaskReport:
		err = r.trigger.RenderReport(ctx)
	default:
		err = fmt.Errorf("unknown task: %s", r.job.Task)
	}

	duration := time.Since(start)
	r.job.State.LastRunAt = time.Now()
	r.job.State.LastDuration = duration
	r.job.State.RunCount++

	switch {
	case err != nil:
		r.job.State.ErrorCount++
		r.job.State.LastError = err.Error()
		r.logger.Error("job failed",
			"error", err,
			"duration", duration,
			"error_count", r.job.State.ErrorCount,
		)
	case skipped:
		r.job.State.SkippedCount++
		r.logger.Info("job skipped, cycle already running")
	default:
		r.logger.Info("job completed", "duration", duration)
	}
}
