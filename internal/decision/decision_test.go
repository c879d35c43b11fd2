package decision

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratoml/sentinel/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testIssue(typ types.IssueType, sev types.Severity, details map[string]any) types.Issue {
	return types.NewIssue(typ, sev, "test issue", details)
}

func actionTypes(actions []types.Action) []types.ActionType {
	out := make([]types.ActionType, len(actions))
	for i, a := range actions {
		out[i] = a.Type
	}
	return out
}

func hasType(actions []types.Action, typ types.ActionType) bool {
	for _, a := range actions {
		if a.Type == typ {
			return true
		}
	}
	return false
}

func TestLoadTemplatesDefaults(t *testing.T) {
	templates, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	retrain := templates[types.ActionRetrainModel]
	if retrain.RiskLevel != types.RiskMedium || !retrain.RequiresApproval {
		t.Fatalf("unexpected retrain template %+v", retrain)
	}
	rollback := templates[types.ActionRollbackModel]
	if rollback.RiskLevel != types.RiskHigh || !rollback.RequiresApproval {
		t.Fatalf("unexpected rollback template %+v", rollback)
	}
	alert := templates[types.ActionSendAlert]
	if alert.RiskLevel != types.RiskLow || alert.RequiresApproval {
		t.Fatalf("unexpected alert template %+v", alert)
	}
}

func TestLoadTemplatesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	data := "[retrain_model]\nrisk_level = \"high\"\nrequires_approval = true\nestimated_impact = \"long\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	templates, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if templates[types.ActionRetrainModel].RiskLevel != types.RiskHigh {
		t.Fatalf("override not applied: %+v", templates[types.ActionRetrainModel])
	}
	// other entries keep defaults
	if templates[types.ActionSendAlert].RiskLevel != types.RiskLow {
		t.Fatalf("default lost: %+v", templates[types.ActionSendAlert])
	}
}

func TestDecideDataDriftHighSeverity(t *testing.T) {
	e := New(nil, false, testLogger())
	issue := testIssue(types.IssueDataDrift, types.SeverityHigh, map[string]any{
		"n_drifted_features": 6,
		"drifted_features":   []string{"f1", "f2"},
	})

	actions := e.DecideForIssue(issue)
	if !hasType(actions, types.ActionSendAlert) {
		t.Fatalf("expected alert, got %v", actionTypes(actions))
	}
	if !hasType(actions, types.ActionRetrainModel) {
		t.Fatalf("expected retrain for severe drift, got %v", actionTypes(actions))
	}
	if !hasType(actions, types.ActionGenerateReport) {
		t.Fatalf("expected report, got %v", actionTypes(actions))
	}
	for _, a := range actions {
		if a.RelatedIssueID != issue.ID {
			t.Fatalf("action %s not linked to issue", a.ID)
		}
	}
}

func TestDecideDataDriftLowSeverity(t *testing.T) {
	e := New(nil, false, testLogger())
	issue := testIssue(types.IssueDataDrift, types.SeverityLow, map[string]any{
		"n_drifted_features": 1,
	})
	actions := e.DecideForIssue(issue)
	if hasType(actions, types.ActionRetrainModel) {
		t.Fatalf("mild drift must not trigger retrain: %v", actionTypes(actions))
	}
}

func TestDecidePerfDegradation(t *testing.T) {
	e := New(nil, false, testLogger())

	critical := testIssue(types.IssuePerfDegradation, types.SeverityCritical, map[string]any{
		"metric": "f1_score", "current_value": 0.5, "threshold": 0.75,
	})
	actions := e.DecideForIssue(critical)
	if !hasType(actions, types.ActionRollbackModel) {
		t.Fatalf("critical degradation should propose rollback: %v", actionTypes(actions))
	}
	if hasType(actions, types.ActionRetrainModel) {
		t.Fatalf("rollback path must not also retrain: %v", actionTypes(actions))
	}

	// high severity recovers with a retrain, not a rollback
	high := testIssue(types.IssuePerfDegradation, types.SeverityHigh, map[string]any{
		"metric": "accuracy", "current_value": 0.70, "threshold": 0.75,
	})
	actions = e.DecideForIssue(high)
	if !hasType(actions, types.ActionRetrainModel) {
		t.Fatalf("high degradation should propose retrain: %v", actionTypes(actions))
	}
	if hasType(actions, types.ActionRollbackModel) {
		t.Fatalf("high degradation must not rollback: %v", actionTypes(actions))
	}
}

func TestRollbackApprovalIgnoresTemplateOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	data := "[rollback_model]\nrisk_level = \"high\"\nrequires_approval = false\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	templates, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	e := New(templates, false, testLogger())

	issue := testIssue(types.IssuePerfDegradation, types.SeverityCritical, map[string]any{
		"metric": "f1_score", "current_value": 0.5, "threshold": 0.75,
	})
	for _, a := range e.DecideForIssue(issue) {
		if a.Type == types.ActionRollbackModel && !a.RequiresApproval {
			t.Fatal("template override must not un-gate rollback")
		}
	}
}

func TestDecideUnknownIssueType(t *testing.T) {
	e := New(nil, false, testLogger())
	actions := e.DecideForIssue(testIssue(types.IssueOther, types.SeverityLow, nil))
	if !hasType(actions, types.ActionSendAlert) || !hasType(actions, types.ActionCollectDiagnostics) {
		t.Fatalf("fallback should alert and collect diagnostics: %v", actionTypes(actions))
	}
}

func TestRecommendActionsAutoApproval(t *testing.T) {
	e := New(nil, true, testLogger())
	issues := []types.Issue{
		testIssue(types.IssuePerfDegradation, types.SeverityCritical, map[string]any{
			"metric": "f1_score", "current_value": 0.5, "threshold": 0.75,
		}),
	}
	actions := e.RecommendActions(issues)

	for _, a := range actions {
		if a.RiskLevel == types.RiskLow && a.RequiresApproval {
			t.Fatalf("low risk action %s not auto-approved", a.ID)
		}
		if a.Type == types.ActionRollbackModel && !a.RequiresApproval {
			t.Fatal("rollback must still require approval")
		}
	}

	gated := e.ActionsByApproval(true)
	if len(gated) != 1 || gated[0].Type != types.ActionRollbackModel {
		t.Fatalf("expected only rollback gated, got %v", actionTypes(gated))
	}

	high := e.HighPriorityActions()
	if len(high) != 1 || high[0].Type != types.ActionRollbackModel {
		t.Fatalf("expected rollback as high priority, got %v", actionTypes(high))
	}
}
