// Package decision maps diagnosed issues to remediation actions using a
// per-issue-type rule table and a set of action templates.
package decision

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stratoml/sentinel/internal/types"
)

// Engine turns issues into recommended actions.
type Engine struct {
	templates          Templates
	autoApproveLowRisk bool
	logger             *slog.Logger

	mu          sync.Mutex
	recommended []types.Action
}

// New creates a decision engine.
func New(templates Templates, autoApproveLowRisk bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Engine{
		templates:          templates,
		autoApproveLowRisk: autoApproveLowRisk,
		logger:             logger.With("component", "decision"),
	}
}

// newAction builds an action of the given type from its template.
func (e *Engine) newAction(typ types.ActionType, issue types.Issue, description, reason string, params map[string]any) types.Action {
	tpl := e.templates[typ]
	if params == nil {
		params = map[string]any{}
	}
	return types.Action{
		ID:               types.NewID("ACT"),
		Type:             typ,
		RiskLevel:        tpl.RiskLevel,
		Description:      description,
		Parameters:       params,
		Reason:           reason,
		EstimatedImpact:  tpl.EstimatedImpact,
		RequiresApproval: tpl.RequiresApproval,
		Status:           types.StatusPending,
		Timestamp:        time.Now().UTC(),
		RelatedIssueID:   issue.ID,
	}
}

// DecideForIssue returns the actions recommended for one issue.
func (e *Engine) DecideForIssue(issue types.Issue) []types.Action {
	switch issue.Type {
	case types.IssueDataDrift:
		return e.handleDataDrift(issue)
	case types.IssuePerfDegradation:
		return e.handlePerfDegradation(issue)
	case types.IssuePredAnomaly:
		return e.handlePredAnomaly(issue)
	case types.IssueLowConfidence:
		return e.handleLowConfidence(issue)
	case types.IssueDataQuality:
		return e.handleDataQuality(issue)
	default:
		return []types.Action{
			e.alertAction(issue, "", "normal"),
			e.diagnosticsAction(issue),
		}
	}
}

func (e *Engine) handleDataDrift(issue types.Issue) []types.Action {
	nDrifted, _ := issue.Details["n_drifted_features"].(int)

	actions := []types.Action{
		e.alertAction(issue, fmt.Sprintf("Data drift detected on %d features", nDrifted), "normal"),
	}

	if issue.Severity.AtLeast(types.SeverityHigh) || nDrifted >= 5 {
		actions = append(actions, e.newAction(types.ActionRetrainModel, issue,
			fmt.Sprintf("Retrain model due to drift on %d features", nDrifted),
			fmt.Sprintf("Significant data drift detected (%d features)", nDrifted),
			map[string]any{
				"trigger":          "data_drift",
				"drifted_features": issue.Details["drifted_features"],
				"use_latest_data":  true,
			}))
	}

	actions = append(actions, e.reportAction(issue, "drift_analysis"))
	return actions
}

func (e *Engine) handlePerfDegradation(issue types.Issue) []types.Action {
	metric, _ := issue.Details["metric"].(string)
	current, _ := issue.Details["current_value"].(float64)
	threshold, _ := issue.Details["threshold"].(float64)

	actions := []types.Action{
		e.alertAction(issue,
			fmt.Sprintf("Performance degradation: %s = %.4f (threshold: %.4f)", metric, current, threshold),
			"high"),
		e.diagnosticsAction(issue),
	}

	if issue.Severity == types.SeverityCritical {
		rollback := e.newAction(types.ActionRollbackModel, issue,
			"Rollback to previous model version",
			fmt.Sprintf("Critical performance drop: %s below threshold", metric),
			map[string]any{
				"trigger":       "performance_degradation",
				"metric":        metric,
				"current_value": current,
				"rollback_to":   "previous_production",
			})
		// rollbacks are always gated, whatever the template says
		rollback.RequiresApproval = true
		actions = append(actions, rollback)
	} else {
		actions = append(actions, e.newAction(types.ActionRetrainModel, issue,
			"Retrain model to recover performance",
			fmt.Sprintf("Performance below acceptable threshold: %s", metric),
			map[string]any{
				"trigger":         "performance_degradation",
				"metric":          metric,
				"use_latest_data": true,
			}))
	}
	return actions
}

func (e *Engine) handlePredAnomaly(issue types.Issue) []types.Action {
	return []types.Action{
		e.alertAction(issue, "", "normal"),
		e.diagnosticsAction(issue),
		e.newAction(types.ActionValidateData, issue,
			"Validate recent input data for anomalies",
			"Unusual prediction patterns detected",
			map[string]any{"validation_type": "schema_and_distribution"}),
	}
}

func (e *Engine) handleLowConfidence(issue types.Issue) []types.Action {
	actions := []types.Action{e.alertAction(issue, "", "normal")}

	share, _ := issue.Details["low_confidence_share"].(float64)
	if share > 0.4 {
		actions = append(actions, e.newAction(types.ActionRetrainModel, issue,
			"Retrain model to improve confidence",
			fmt.Sprintf("High proportion of low-confidence predictions: %.0f%%", share*100),
			map[string]any{
				"trigger":              "low_confidence",
				"low_confidence_share": share,
			}))
	}
	return actions
}

func (e *Engine) handleDataQuality(issue types.Issue) []types.Action {
	return []types.Action{
		e.alertAction(issue, "", "normal"),
		e.newAction(types.ActionValidateData, issue,
			"Run comprehensive data quality validation",
			"Data quality issues detected",
			map[string]any{"validation_type": "full"}),
	}
}

func (e *Engine) alertAction(issue types.Issue, message, priority string) types.Action {
	if message == "" {
		message = "Alert: " + issue.Description
	}
	return e.newAction(types.ActionSendAlert, issue,
		message,
		fmt.Sprintf("Notify team about %s", issue.Type),
		map[string]any{
			"priority":    priority,
			"issue_type":  string(issue.Type),
			"description": issue.Description,
		})
}

func (e *Engine) diagnosticsAction(issue types.Issue) types.Action {
	return e.newAction(types.ActionCollectDiagnostics, issue,
		"Collect system diagnostics for analysis",
		"Gather information for troubleshooting",
		map[string]any{"issue_type": string(issue.Type)})
}

func (e *Engine) reportAction(issue types.Issue, reportType string) types.Action {
	return e.newAction(types.ActionGenerateReport, issue,
		fmt.Sprintf("Generate %s report", reportType),
		fmt.Sprintf("Document %s for records", issue.Type),
		map[string]any{"report_type": reportType, "issue_id": issue.ID})
}

// RecommendActions runs the rule table over all issues and applies
// auto-approval to low risk actions. The recommended set replaces the
// previous cycle's set.
func (e *Engine) RecommendActions(issues []types.Issue) []types.Action {
	var all []types.Action
	for _, issue := range issues {
		actions := e.DecideForIssue(issue)
		all = append(all, actions...)
		e.logger.Info("actions recommended",
			"issue_id", issue.ID,
			"severity", issue.Severity,
			"count", len(actions),
		)
	}

	needsApproval := 0
	for i := range all {
		if e.autoApproveLowRisk && all[i].RiskLevel == types.RiskLow {
			all[i].RequiresApproval = false
		}
		if all[i].RequiresApproval {
			needsApproval++
		}
	}

	e.mu.Lock()
	e.recommended = all
	e.mu.Unlock()

	e.logger.Info("recommendation complete",
		"total", len(all),
		"auto_execute", len(all)-needsApproval,
		"needs_approval", needsApproval,
	)
	return all
}

// Recommended returns a copy of the last recommended action set.
func (e *Engine) Recommended() []types.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Action, len(e.recommended))
	copy(out, e.recommended)
	return out
}

// ActionsByApproval filters the last recommendation by approval requirement.
func (e *Engine) ActionsByApproval(requiresApproval bool) []types.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Action
	for _, action := range e.recommended {
		if action.RequiresApproval == requiresApproval {
			out = append(out, action)
		}
	}
	return out
}

// HighPriorityActions returns high risk actions from the last recommendation.
func (e *Engine) HighPriorityActions() []types.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Action
	for _, action := range e.recommended {
		if action.RiskLevel == types.RiskHigh {
			out = append(out, action)
		}
	}
	return out
}
