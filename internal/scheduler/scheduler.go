// Package scheduler runs periodic jobs against the agent: remediation
// cycles, approval queue cleanup and report generation.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Scheduler manages all scheduled jobs.
type Scheduler struct {
	jobs    map[string]*Job
	runners map[string]*JobRunner
	trigger Trigger
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(trigger Trigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*JobRunner),
		trigger: trigger,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start launches runners for all enabled jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		runner := NewJobRunner(job, s.trigger, s.logger)
		s.runners[id] = runner
		go runner.Start(s.ctx)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
	return nil
}

// Stop stops all job runners and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	for id, runner := range s.runners {
		runner.Stop()
		s.logger.Debug("stopped job runner", "job", id)
	}
	s.runners = make(map[string]*JobRunner)
	s.logger.Info("scheduler stopped")
}

// AddJob registers a job, starting it immediately when the scheduler is
// already running.
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		runner := NewJobRunner(job, s.trigger, s.logger)
		s.runners[job.ID] = runner
		go runner.Start(s.ctx)
		s.logger.Info("job added and started", "job", job.ID)
	} else {
		s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	}
	return nil
}

// RemoveJob stops and deletes a job.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job %s not found", id)
	}
	if runner, ok := s.runners[id]; ok {
		runner.Stop()
		delete(s.runners, id)
	}
	delete(s.jobs, id)
	s.logger.Info("job removed", "job", id)
	return nil
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}
