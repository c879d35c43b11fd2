// Package types provides the shared records that flow through the
// remediation loop (Issue, Action, ExecutionResult) to avoid import
// cycles between the diagnosis, decision, approval and executor packages.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IssueType classifies a detected problem.
type IssueType string

const (
	IssueDataDrift       IssueType = "data_drift"
	IssuePerfDegradation IssueType = "performance_degradation"
	IssuePredAnomaly     IssueType = "prediction_anomaly"
	IssueLowConfidence   IssueType = "low_confidence"
	IssueDataQuality     IssueType = "data_quality"
	IssueOther           IssueType = "other"
)

// Severity is an ordered issue severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// RiskLevel classifies an action's blast radius and drives approval gating.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionType identifies the remediation an action performs.
type ActionType string

const (
	ActionRetrainModel       ActionType = "retrain_model"
	ActionRollbackModel      ActionType = "rollback_model"
	ActionSendAlert          ActionType = "send_alert"
	ActionAdjustThreshold    ActionType = "adjust_threshold"
	ActionCollectDiagnostics ActionType = "collect_diagnostics"
	ActionValidateData       ActionType = "validate_data"
	ActionGenerateReport     ActionType = "generate_report"
)

// ActionStatus tracks the execution outcome of an action.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// Issue is a detected problem emitted by the diagnosis engine.
// Immutable once created.
type Issue struct {
	ID          string         `json:"issue_id"`
	Type        IssueType      `json:"issue_type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewIssue creates an Issue with a generated ID and current timestamp.
func NewIssue(typ IssueType, sev Severity, description string, details map[string]any) Issue {
	if details == nil {
		details = map[string]any{}
	}
	return Issue{
		ID:          NewID("ISS"),
		Type:        typ,
		Severity:    sev,
		Description: description,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
}

func (i Issue) String() string {
	return fmt.Sprintf("Issue(%s, %s, %s)", i.ID, i.Severity, i.Type)
}

// Action is a recommended remediation derived from an issue.
// Only Status mutates after creation, and only by the executor.
type Action struct {
	ID               string         `json:"action_id"`
	Type             ActionType     `json:"action_type"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	Description      string         `json:"description"`
	Parameters       map[string]any `json:"parameters"`
	Reason           string         `json:"reason"`
	EstimatedImpact  string         `json:"estimated_impact"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           ActionStatus   `json:"status"`
	Timestamp        time.Time      `json:"timestamp"`
	// RelatedIssueID is a weak reference: the action stays valid even if
	// the originating issue is discarded.
	RelatedIssueID string `json:"related_issue_id,omitempty"`
}

func (a *Action) String() string {
	return fmt.Sprintf("Action(%s, %s, %s)", a.ID, a.Type, a.RiskLevel)
}

// ExecutionResult is the outcome of one execution attempt of an action.
// Append-only; never mutated after creation.
type ExecutionResult struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Succeed builds a successful result.
func Succeed(message string, details map[string]any) ExecutionResult {
	return ExecutionResult{
		Success:   true,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Fail builds a failed result carrying the error text.
func Fail(message, errText string) ExecutionResult {
	return ExecutionResult{
		Success:   false,
		Message:   message,
		Error:     errText,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a collision-resistant identifier with a human-readable
// prefix, e.g. "ACT-1b9d6bcd-...". Timestamp-derived IDs collide under
// concurrent creation within the same second, so a UUID carries uniqueness.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
