package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stratoml/sentinel/internal/config"
)

// Task kinds a job can trigger.
const (
	TaskCycle   = "cycle"   // run one remediation cycle
	TaskCleanup = "cleanup" // purge settled approval requests
	TaskReport  = "report"  // render a performance report
)

// Job is one scheduled task.
type Job struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Task     string                `json:"task"`
	Schedule config.ScheduleConfig `json:"schedule"`
	Enabled  bool                  `json:"enabled"`
	State    JobState              `json:"state"`
}

// JobState tracks job execution state.
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time     `json:"nextRunAt,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	SkippedCount int64         `json:"skippedCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// FromConfig builds a Job from its config entry.
func FromConfig(cfg config.SchedulerJobConfig) *Job {
	return &Job{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Task:     cfg.Task,
		Schedule: cfg.Schedule,
		Enabled:  cfg.Enabled,
	}
}

// Validate checks the job configuration.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}

	switch j.Task {
	case TaskCycle, TaskCleanup, TaskReport:
	default:
		return fmt.Errorf("unknown task: %s", j.Task)
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
	return nil
}

// NextRun returns the next time the job should fire after the given time.
func (j *Job) NextRun(after time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		return after.Add(time.Duration(j.Schedule.IntervalMs) * time.Millisecond), nil
	case "cron":
		sched, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return sched.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}
