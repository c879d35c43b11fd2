// Package diagnosis inspects model metrics, predictions and incoming data
// and raises typed issues for the decision engine to act on.
package diagnosis

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/stratoml/sentinel/internal/drift"
	"github.com/stratoml/sentinel/internal/types"
)

// MetricSource is the slice of the metric store the engine needs.
type MetricSource interface {
	CheckDegradation(ctx context.Context, metric string, threshold float64, window int) (bool, error)
	LatestMetrics(ctx context.Context) (map[string]float64, error)
}

// Engine runs the diagnostic checks.
type Engine struct {
	policy   Policy
	metrics  MetricSource
	detector drift.Detector
	logger   *slog.Logger
}

// New creates a diagnosis engine. detector may be nil when no reference
// data is available; the drift check is then skipped.
func New(policy Policy, metrics MetricSource, detector drift.Detector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policy:   policy,
		metrics:  metrics,
		detector: detector,
		logger:   logger.With("component", "diagnosis"),
	}
}

// Policy returns the thresholds the engine was built with.
func (e *Engine) Policy() Policy { return e.policy }

// CheckPerformance raises one issue per metric whose recent window has
// degraded below its threshold. Severity is high, upgraded to critical
// when the latest value sits more than the critical drop below the
// threshold. A failing metric store is logged and raises no issues;
// diagnosis never aborts the cycle.
func (e *Engine) CheckPerformance(ctx context.Context) []types.Issue {
	latest, err := e.metrics.LatestMetrics(ctx)
	if err != nil {
		e.logger.Error("performance check failed", "error", err)
		return nil
	}

	var issues []types.Issue
	for metric, threshold := range e.policy.MetricThresholds {
		degraded, err := e.metrics.CheckDegradation(ctx, metric, threshold, e.policy.Window)
		if err != nil {
			e.logger.Error("degradation check failed", "metric", metric, "error", err)
			continue
		}
		if !degraded {
			continue
		}

		current, ok := latest[metric]
		severity := types.SeverityHigh
		if ok && current < threshold-e.policy.CriticalDrop {
			severity = types.SeverityCritical
		}
		details := map[string]any{
			"metric":    metric,
			"threshold": threshold,
		}
		if ok {
			details["current_value"] = current
		}
		issue := types.NewIssue(types.IssuePerfDegradation, severity,
			fmt.Sprintf("metric %s degraded below %.2f", metric, threshold), details)
		issues = append(issues, issue)

		e.logger.Warn("performance degradation",
			"metric", metric,
			"severity", severity,
		)
	}
	return issues
}

// CheckDrift runs the drift detector against the current dataset and
// returns an issue when dataset-level drift is flagged. Severity scales
// with how many features moved.
func (e *Engine) CheckDrift(current *types.Dataset) (*types.Issue, error) {
	if e.detector == nil {
		return nil, nil
	}
	drifted, summary, err := e.detector.DetectDrift(current)
	if err != nil {
		return nil, fmt.Errorf("detect drift: %w", err)
	}
	if !drifted {
		return nil, nil
	}

	severity := types.SeverityLow
	switch {
	case summary.NDrifted >= 5:
		severity = types.SeverityHigh
	case summary.NDrifted >= 3:
		severity = types.SeverityMedium
	}

	issue := types.NewIssue(types.IssueDataDrift, severity,
		fmt.Sprintf("data drift in %d features", summary.NDrifted), map[string]any{
			"drifted_features":   summary.DriftedFeatures,
			"drift_share":        summary.DriftShare,
			"n_drifted_features": summary.NDrifted,
		})
	return &issue, nil
}

// CheckPredictions looks for anomalies in the model's recent output:
// a collapsing class balance, and predictions piling up near the
// decision boundary.
func (e *Engine) CheckPredictions(predictions []float64, probabilities []float64) []types.Issue {
	var issues []types.Issue

	if len(predictions) > 0 {
		counts := make(map[float64]int)
		for _, p := range predictions {
			counts[p]++
		}
		minority := math.MaxFloat64
		for _, c := range counts {
			ratio := float64(c) / float64(len(predictions))
			if ratio < minority {
				minority = ratio
			}
		}
		if len(counts) > 1 && minority < e.policy.MinorityRatio {
			issues = append(issues, types.NewIssue(types.IssuePredAnomaly, types.SeverityMedium,
				"prediction class balance collapsed", map[string]any{
					"minority_ratio": minority,
					"n_classes":      len(counts),
				}))
		}
	}

	if len(probabilities) > 0 {
		lo, hi := e.policy.LowConfidenceBand[0], e.policy.LowConfidenceBand[1]
		uncertain := 0
		for _, p := range probabilities {
			if p > lo && p < hi {
				uncertain++
			}
		}
		share := float64(uncertain) / float64(len(probabilities))
		if share > e.policy.LowConfidenceShare {
			issues = append(issues, types.NewIssue(types.IssueLowConfidence, types.SeverityMedium,
				fmt.Sprintf("%.0f%% of predictions fall in the uncertainty band", share*100),
				map[string]any{
					"low_confidence_share": share,
					"band":                 []float64{lo, hi},
				}))
		}
	}

	return issues
}

// CheckDataQuality inspects the current dataset for missing values and
// duplicate rows.
func (e *Engine) CheckDataQuality(ds *types.Dataset) []types.Issue {
	if ds == nil || ds.Len() == 0 {
		return nil
	}
	var issues []types.Issue

	missing := ds.MissingFraction()
	var worstCol string
	var worst float64
	for col, frac := range missing {
		if frac > worst {
			worst, worstCol = frac, col
		}
	}
	if worst > e.policy.MissingFraction {
		issues = append(issues, types.NewIssue(types.IssueDataQuality, types.SeverityMedium,
			fmt.Sprintf("column %s is %.0f%% missing", worstCol, worst*100), map[string]any{
				"column":           worstCol,
				"missing_fraction": worst,
			}))
	}

	if dup := ds.DuplicateFraction(); dup > e.policy.DuplicateFraction {
		issues = append(issues, types.NewIssue(types.IssueDataQuality, types.SeverityLow,
			fmt.Sprintf("%.0f%% duplicate rows", dup*100), map[string]any{
				"duplicate_fraction": dup,
			}))
	}

	return issues
}

// Input bundles everything a full diagnosis pass can look at. Any field
// may be empty; the corresponding check is skipped.
type Input struct {
	Current       *types.Dataset
	Predictions   []float64
	Probabilities []float64
}

// RunFullDiagnosis runs every check and returns the combined issue
// list. Check failures are contained at the check boundary, so a pass
// always completes.
func (e *Engine) RunFullDiagnosis(ctx context.Context, in Input) []types.Issue {
	issues := e.CheckPerformance(ctx)

	if in.Current != nil {
		if driftIssue, err := e.CheckDrift(in.Current); err != nil {
			e.logger.Error("drift check failed", "error", err)
		} else if driftIssue != nil {
			issues = append(issues, *driftIssue)
		}
		issues = append(issues, e.CheckDataQuality(in.Current)...)
	}

	issues = append(issues, e.CheckPredictions(in.Predictions, in.Probabilities)...)

	e.logger.Info("diagnosis complete", "issues", len(issues))
	return issues
}

// IssuesBySeverity filters issues at or above the given severity.
func IssuesBySeverity(issues []types.Issue, min types.Severity) []types.Issue {
	var out []types.Issue
	for _, issue := range issues {
		if issue.Severity.AtLeast(min) {
			out = append(out, issue)
		}
	}
	return out
}

// CriticalIssues returns the high and critical severity issues.
func CriticalIssues(issues []types.Issue) []types.Issue {
	return IssuesBySeverity(issues, types.SeverityHigh)
}
