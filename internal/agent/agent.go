// Package agent runs the remediation loop: diagnose issues, decide on
// actions, gate risky ones behind approval and execute the rest.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stratoml/sentinel/internal/approval"
	"github.com/stratoml/sentinel/internal/config"
	"github.com/stratoml/sentinel/internal/decision"
	"github.com/stratoml/sentinel/internal/diagnosis"
	"github.com/stratoml/sentinel/internal/executor"
	"github.com/stratoml/sentinel/internal/types"
)

// InputProvider supplies the dataset and prediction samples for one
// diagnosis pass. It is called at the start of every cycle.
type InputProvider func(ctx context.Context) (diagnosis.Input, error)

// ActionResult is the per-action line in an execution summary.
type ActionResult struct {
	ActionID   string           `json:"action_id"`
	ActionType types.ActionType `json:"action_type"`
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
}

// ExecutionSummary describes what one execution cycle did.
type ExecutionSummary struct {
	AutoExecuted         int            `json:"auto_executed"`
	AutoResults          []ActionResult `json:"auto_results"`
	SubmittedForApproval int            `json:"submitted_for_approval"`
	ApprovedExecuted     int            `json:"approved_executed"`
	ApprovedResults      []ActionResult `json:"approved_results"`
	TotalExecuted        int            `json:"total_executed"`
}

// CycleSummary is the full record of one diagnose-decide-execute cycle.
type CycleSummary struct {
	CycleNumber        int              `json:"cycle_number"`
	Timestamp          time.Time        `json:"timestamp"`
	DurationSeconds    float64          `json:"duration_seconds"`
	IssuesDetected     int              `json:"issues_detected"`
	ActionsRecommended int              `json:"actions_recommended"`
	Execution          ExecutionSummary `json:"execution"`
	Issues             []types.Issue    `json:"issues"`
	Actions            []types.Action   `json:"actions"`
}

// Status is a point-in-time view of the agent for the API.
type Status struct {
	Running            bool           `json:"running"`
	CycleCount         int            `json:"cycle_count"`
	LastCheck          *time.Time     `json:"last_check,omitempty"`
	CheckIntervalSec   int            `json:"check_interval_sec"`
	DryRun             bool           `json:"dry_run"`
	PendingApprovals   int            `json:"pending_approvals"`
	ApprovalStats      map[string]int `json:"approval_stats"`
	RecommendedActions int            `json:"recommended_actions"`
}

// Agent wires the diagnosis, decision, approval and execution stages
// together. Cycles never overlap; a cycle requested while one is running
// is skipped.
type Agent struct {
	cfg       config.AgentConfig
	diagnosis *diagnosis.Engine
	decision  *decision.Engine
	executor  *executor.Executor
	approvals *approval.Manager
	input     InputProvider
	logger    *slog.Logger

	cycleMu sync.Mutex // held for the duration of a cycle

	mu          sync.Mutex
	running     bool
	cycleCount  int
	lastCheck   *time.Time
	lastSummary *CycleSummary
	subscribers map[chan CycleSummary]struct{}
}

// New assembles an agent.
func New(cfg config.AgentConfig, diag *diagnosis.Engine, dec *decision.Engine, exec *executor.Executor, approvals *approval.Manager, input InputProvider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if input == nil {
		input = func(context.Context) (diagnosis.Input, error) {
			return diagnosis.Input{}, nil
		}
	}
	logger = logger.With("component", "agent")
	logger.Info("agent initialized",
		"check_interval_sec", cfg.CheckIntervalSec,
		"dry_run", cfg.DryRun,
	)
	return &Agent{
		cfg:         cfg,
		diagnosis:   diag,
		decision:    dec,
		executor:    exec,
		approvals:   approvals,
		input:       input,
		logger:      logger,
		subscribers: make(map[chan CycleSummary]struct{}),
	}
}

// Approvals exposes the approval manager for the API layer.
func (a *Agent) Approvals() *approval.Manager { return a.approvals }

// Executor exposes the executor for the API layer.
func (a *Agent) Executor() *executor.Executor { return a.executor }

// RunSingleCycle runs one diagnose-decide-execute pass. Concurrent
// callers serialize on the cycle lock.
func (a *Agent) RunSingleCycle(ctx context.Context) (CycleSummary, error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	return a.runSingleCycleLocked(ctx)
}

// runSingleCycleLocked does the work; the caller holds cycleMu.
func (a *Agent) runSingleCycleLocked(ctx context.Context) (CycleSummary, error) {
	start := time.Now()

	a.mu.Lock()
	a.cycleCount++
	cycle := a.cycleCount
	a.mu.Unlock()

	a.logger.Info("starting diagnosis cycle", "cycle", cycle)

	// diagnostic failures never abort the cycle; a bad input or a dead
	// metric store reads as zero issues and the summary still lands
	in, err := a.input(ctx)
	if err != nil {
		a.logger.Error("cycle input failed", "error", err)
		in = diagnosis.Input{}
	}

	issues := a.diagnosis.RunFullDiagnosis(ctx, in)

	actions := a.decision.RecommendActions(issues)
	execSummary := a.runExecution(ctx, actions)

	now := time.Now().UTC()
	summary := CycleSummary{
		CycleNumber:        cycle,
		Timestamp:          now,
		DurationSeconds:    time.Since(start).Seconds(),
		IssuesDetected:     len(issues),
		ActionsRecommended: len(actions),
		Execution:          execSummary,
		Issues:             issues,
		Actions:            actions,
	}

	a.mu.Lock()
	a.lastCheck = &now
	a.lastSummary = &summary
	a.mu.Unlock()

	a.publish(summary)

	a.logger.Info("cycle completed",
		"cycle", cycle,
		"duration_sec", fmt.Sprintf("%.2f", summary.DurationSeconds),
		"issues", len(issues),
		"actions", len(actions),
		"executed", execSummary.TotalExecuted,
	)
	return summary, nil
}

// TryRunCycle runs a cycle unless one is already in flight, in which
// case it reports the skip. The lock is held for the whole cycle so a
// racing trigger skips instead of queueing. Used by scheduled triggers.
func (a *Agent) TryRunCycle(ctx context.Context) (CycleSummary, bool, error) {
	if !a.cycleMu.TryLock() {
		a.logger.Warn("cycle already running, skipping trigger")
		return CycleSummary{}, false, nil
	}
	defer a.cycleMu.Unlock()

	summary, err := a.runSingleCycleLocked(ctx)
	return summary, err == nil, err
}

// runExecution splits actions by approval requirement, queues the gated
// ones and executes the rest, then drains any previously approved
// actions.
func (a *Agent) runExecution(ctx context.Context, actions []types.Action) ExecutionSummary {
	var autoExecute, needsApproval []types.Action
	for _, action := range actions {
		if action.RequiresApproval {
			needsApproval = append(needsApproval, action)
		} else {
			autoExecute = append(autoExecute, action)
		}
	}
	a.logger.Info("execution cycle",
		"auto_execute", len(autoExecute),
		"needs_approval", len(needsApproval),
	)

	for _, action := range needsApproval {
		if _, err := a.approvals.Submit(action); err != nil {
			a.logger.Error("approval submit failed", "action_id", action.ID, "error", err)
		}
	}

	summary := ExecutionSummary{SubmittedForApproval: len(needsApproval)}
	for i := range autoExecute {
		result := a.executor.Execute(ctx, &autoExecute[i])
		summary.AutoResults = append(summary.AutoResults, ActionResult{
			ActionID:   autoExecute[i].ID,
			ActionType: autoExecute[i].Type,
			Success:    result.Success,
			Message:    result.Message,
		})
	}
	summary.AutoExecuted = len(summary.AutoResults)

	approved := a.approvals.ApprovedActions()
	for i := range approved {
		a.logger.Info("executing approved action", "action_id", approved[i].ID)
		result := a.executor.Execute(ctx, &approved[i])
		summary.ApprovedResults = append(summary.ApprovedResults, ActionResult{
			ActionID:   approved[i].ID,
			ActionType: approved[i].Type,
			Success:    result.Success,
			Message:    result.Message,
		})
	}
	summary.ApprovedExecuted = len(summary.ApprovedResults)
	summary.TotalExecuted = summary.AutoExecuted + summary.ApprovedExecuted
	return summary
}

// Run executes cycles at the configured interval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	interval := time.Duration(a.cfg.CheckIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.logger.Info("agent stopped",
			"cycles", a.CycleCount(),
			"approval_stats", a.approvals.Statistics(),
		)
	}()

	a.logger.Info("agent running", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunSingleCycle(ctx); err != nil {
			a.logger.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CycleCount returns how many cycles have run.
func (a *Agent) CycleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycleCount
}

// LastSummary returns the most recent cycle summary, or nil before the
// first cycle.
func (a *Agent) LastSummary() *CycleSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSummary == nil {
		return nil
	}
	summary := *a.lastSummary
	return &summary
}

// Status reports the agent's current state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	running := a.running
	cycleCount := a.cycleCount
	lastCheck := a.lastCheck
	a.mu.Unlock()

	return Status{
		Running:            running,
		CycleCount:         cycleCount,
		LastCheck:          lastCheck,
		CheckIntervalSec:   a.cfg.CheckIntervalSec,
		DryRun:             a.cfg.DryRun,
		PendingApprovals:   len(a.approvals.Pending(false)),
		ApprovalStats:      a.approvals.Statistics(),
		RecommendedActions: len(a.decision.Recommended()),
	}
}

// Subscribe registers a cycle summary listener. Slow listeners miss
// summaries rather than blocking the loop.
func (a *Agent) Subscribe() chan CycleSummary {
	ch := make(chan CycleSummary, 8)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (a *Agent) Unsubscribe(ch chan CycleSummary) {
	a.mu.Lock()
	if _, ok := a.subscribers[ch]; ok {
		delete(a.subscribers, ch)
		close(ch)
	}
	a.mu.Unlock()
}

func (a *Agent) publish(summary CycleSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subscribers {
		select {
		case ch <- summary:
		default:
		}
	}
}
