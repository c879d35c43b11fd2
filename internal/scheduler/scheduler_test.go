package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stratoml/sentinel/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type fakeTrigger struct {
	mu       sync.Mutex
	cycles   int
	cleanups int
	reports  int
	busy     bool
}

func (f *fakeTrigger) TriggerCycle(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false, nil
	}
	f.cycles++
	return true, nil
}

func (f *fakeTrigger) CleanupApprovals(time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0
}

func (f *fakeTrigger) RenderReport(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports++
	return nil
}

func (f *fakeTrigger) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles, f.cleanups, f.reports
}

func intervalJob(id, task string, intervalMs int64) *Job {
	return &Job{
		ID:      id,
		Name:    id,
		Task:    task,
		Enabled: true,
		Schedule: config.ScheduleConfig{
			Kind:       "interval",
			IntervalMs: intervalMs,
		},
	}
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name string
		job  *Job
		ok   bool
	}{
		{"valid interval", intervalJob("a", TaskCycle, 100), true},
		{"valid cron", &Job{ID: "b", Name: "b", Task: TaskReport, Enabled: true,
			Schedule: config.ScheduleConfig{Kind: "cron", Expr: "0 3 * * *"}}, true},
		{"missing id", &Job{Name: "x", Task: TaskCycle,
			Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 100}}, false},
		{"bad task", &Job{ID: "c", Name: "c", Task: "reboot",
			Schedule: config.ScheduleConfig{Kind: "interval", IntervalMs: 100}}, false},
		{"bad cron", &Job{ID: "d", Name: "d", Task: TaskCycle,
			Schedule: config.ScheduleConfig{Kind: "cron", Expr: "not a cron"}}, false},
		{"zero interval", intervalJob("e", TaskCycle, 0), false},
	}
	for _, tc := range cases {
		err := tc.job.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestNextRunInterval(t *testing.T) {
	job := intervalJob("a", TaskCycle, 5000)
	now := time.Now()
	next, err := job.NextRun(now)
	if err != nil {
		t.Fatal(err)
	}
	if got := next.Sub(now); got != 5*time.Second {
		t.Fatalf("next run in %v", got)
	}
}

func TestSchedulerRunsIntervalJob(t *testing.T) {
	trigger := &fakeTrigger{}
	s := NewScheduler(trigger, testLogger())

	if err := s.AddJob(intervalJob("cycle", TaskCycle, 20)); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	cycles, _, _ := trigger.counts()
	if cycles < 2 {
		t.Fatalf("expected multiple cycles, got %d", cycles)
	}
}

func TestSchedulerSkipsWhenBusy(t *testing.T) {
	trigger := &fakeTrigger{busy: true}
	s := NewScheduler(trigger, testLogger())

	job := intervalJob("cycle", TaskCycle, 20)
	if err := s.AddJob(job); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	cycles, _, _ := trigger.counts()
	if cycles != 0 {
		t.Fatalf("busy trigger ran %d cycles", cycles)
	}
	if job.State.SkippedCount == 0 {
		t.Fatal("skips not recorded")
	}
}

func TestSchedulerDuplicateJob(t *testing.T) {
	s := NewScheduler(&fakeTrigger{}, testLogger())
	if err := s.AddJob(intervalJob("a", TaskCycle, 100)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(intervalJob("a", TaskCleanup, 100)); err == nil {
		t.Fatal("duplicate job ID accepted")
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	s := NewScheduler(&fakeTrigger{}, testLogger())
	if err := s.AddJob(intervalJob("a", TaskCycle, 100)); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("a"); err == nil {
		t.Fatal("removing missing job should fail")
	}
	if len(s.Jobs()) != 0 {
		t.Fatal("job list not empty")
	}
}

func TestFromConfig(t *testing.T) {
	job := FromConfig(config.SchedulerJobConfig{
		ID:       "nightly-report",
		Name:     "Nightly report",
		Task:     TaskReport,
		Enabled:  true,
		Schedule: config.ScheduleConfig{Kind: "cron", Expr: "0 3 * * *"},
	})
	if err := job.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if job.Task != TaskReport || !job.Enabled {
		t.Fatalf("job = %+v", job)
	}
}
