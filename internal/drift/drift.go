// Package drift detects distribution shift between a fixed reference
// dataset and the data currently flowing through the model.
package drift

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/stratoml/sentinel/internal/types"
)

// ErrNoReference is returned when drift is checked before a reference
// dataset has been set.
var ErrNoReference = errors.New("drift: reference data not set")

// Summary describes the outcome of one drift check.
type Summary struct {
	DriftDetected   bool      `json:"drift_detected"`
	DriftedFeatures []string  `json:"drifted_features"`
	NDrifted        int       `json:"n_drifted_features"`
	DriftShare      float64   `json:"drift_share"`
	Threshold       float64   `json:"threshold"`
	ReferenceSize   int       `json:"reference_size"`
	CurrentSize     int       `json:"current_size"`
	Timestamp       time.Time `json:"timestamp"`
}

// Detector is the drift collaborator contract the diagnosis engine
// depends on. Implementations compare against a previously set reference.
type Detector interface {
	SetReference(ref *types.Dataset, targetCol string)
	DetectDrift(current *types.Dataset) (bool, Summary, error)
}

// StatsDetector flags a feature as drifted when the standardized difference
// of means between reference and current exceeds a fixed z threshold.
// It stands in for a heavier drift-report library behind the Detector
// interface.
type StatsDetector struct {
	driftShare float64 // share of drifted features that flags dataset drift
	zThreshold float64
	logger     *slog.Logger

	ref      *types.Dataset
	features []string // numeric features, target excluded
}

// NewStatsDetector creates a detector. driftShare is the fraction of
// drifted features above which the dataset as a whole counts as drifted.
func NewStatsDetector(driftShare float64, logger *slog.Logger) *StatsDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if driftShare <= 0 {
		driftShare = 0.1
	}
	return &StatsDetector{
		driftShare: driftShare,
		zThreshold: 3.0,
		logger:     logger.With("component", "drift"),
	}
}

// SetReference fixes the baseline dataset. targetCol is excluded from the
// drift comparison.
func (d *StatsDetector) SetReference(ref *types.Dataset, targetCol string) {
	d.ref = ref
	d.features = d.features[:0]
	for _, feat := range ref.Features {
		if feat != targetCol {
			d.features = append(d.features, feat)
		}
	}
	d.logger.Info("reference data set",
		"samples", ref.Len(),
		"features", len(d.features),
	)
}

// DetectDrift compares current against the reference dataset.
func (d *StatsDetector) DetectDrift(current *types.Dataset) (bool, Summary, error) {
	if d.ref == nil {
		return false, Summary{}, ErrNoReference
	}

	var drifted []string
	for _, feat := range d.features {
		refCol, ok := d.ref.Columns[feat]
		if !ok {
			continue
		}
		curCol, ok := current.Columns[feat]
		if !ok {
			continue
		}
		if meanShifted(refCol, curCol, d.zThreshold) {
			drifted = append(drifted, feat)
		}
	}
	sort.Strings(drifted)

	share := 0.0
	if len(d.features) > 0 {
		share = float64(len(drifted)) / float64(len(d.features))
	}

	summary := Summary{
		DriftDetected:   share > d.driftShare,
		DriftedFeatures: drifted,
		NDrifted:        len(drifted),
		DriftShare:      share,
		Threshold:       d.driftShare,
		ReferenceSize:   d.ref.Len(),
		CurrentSize:     current.Len(),
		Timestamp:       time.Now().UTC(),
	}

	if summary.DriftDetected {
		d.logger.Warn("data drift detected",
			"n_drifted", summary.NDrifted,
			"share", fmt.Sprintf("%.2f", share),
		)
	}
	return summary.DriftDetected, summary, nil
}

// meanShifted runs a two-sample z test on the column means, ignoring NaNs.
func meanShifted(ref, cur []float64, z float64) bool {
	refMean, refVar, refN := moments(ref)
	curMean, curVar, curN := moments(cur)
	if refN < 2 || curN < 2 {
		return false
	}
	se := math.Sqrt(refVar/float64(refN) + curVar/float64(curN))
	if se == 0 {
		return refMean != curMean
	}
	return math.Abs(curMean-refMean)/se > z
}

func moments(values []float64) (mean, variance float64, n int) {
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	return mean, variance, n
}
