package decision

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/stratoml/sentinel/internal/types"
)

// Template carries the fixed attributes of an action type: how risky it
// is, whether a human must sign off, and the impact text shown to
// reviewers.
type Template struct {
	RiskLevel        types.RiskLevel `toml:"risk_level"`
	RequiresApproval bool            `toml:"requires_approval"`
	EstimatedImpact  string          `toml:"estimated_impact"`
}

// Templates maps action type to its template.
type Templates map[types.ActionType]Template

// DefaultTemplates returns the built-in action templates.
func DefaultTemplates() Templates {
	return Templates{
		types.ActionRetrainModel: {
			RiskLevel:        types.RiskMedium,
			RequiresApproval: true,
			EstimatedImpact:  "Training time: 15-30 minutes, Resources: 2 CPU cores",
		},
		types.ActionRollbackModel: {
			RiskLevel:        types.RiskHigh,
			RequiresApproval: true,
			EstimatedImpact:  "Service downtime: 2-5 minutes",
		},
		types.ActionSendAlert: {
			RiskLevel:        types.RiskLow,
			RequiresApproval: false,
			EstimatedImpact:  "Notification sent to team channels",
		},
		types.ActionAdjustThreshold: {
			RiskLevel:        types.RiskLow,
			RequiresApproval: false,
			EstimatedImpact:  "Minimal - threshold configuration update",
		},
		types.ActionCollectDiagnostics: {
			RiskLevel:        types.RiskLow,
			RequiresApproval: false,
			EstimatedImpact:  "System diagnostics collected for analysis",
		},
		types.ActionValidateData: {
			RiskLevel:        types.RiskLow,
			RequiresApproval: false,
			EstimatedImpact:  "Data validation check, no changes made",
		},
		types.ActionGenerateReport: {
			RiskLevel:        types.RiskLow,
			RequiresApproval: false,
			EstimatedImpact:  "Performance report generated",
		},
	}
}

// LoadTemplates reads a TOML templates file, layering entries over the
// defaults. A missing file returns the defaults without error.
func LoadTemplates(path string) (Templates, error) {
	templates := DefaultTemplates()
	if path == "" {
		return templates, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return templates, nil
		}
		return templates, fmt.Errorf("read templates: %w", err)
	}

	var overrides map[string]Template
	if err := toml.Unmarshal(data, &overrides); err != nil {
		return templates, fmt.Errorf("parse templates: %w", err)
	}
	for name, tpl := range overrides {
		templates[types.ActionType(name)] = tpl
	}
	return templates, nil
}
