package diagnosis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable thresholds the diagnosis checks run against.
// It is loaded from a YAML file so operators can retune without a rebuild.
type Policy struct {
	// MetricThresholds maps metric name to the minimum acceptable value.
	MetricThresholds map[string]float64 `yaml:"metric_thresholds"`

	// Window is how many recent samples a degradation check looks at.
	Window int `yaml:"window"`

	// CriticalDrop below the threshold upgrades degradation to high severity.
	CriticalDrop float64 `yaml:"critical_drop"`

	// MinorityRatio below which class balance counts as anomalous.
	MinorityRatio float64 `yaml:"minority_ratio"`

	// LowConfidenceBand is the half-open band around 0.5 that counts as
	// uncertain; LowConfidenceShare is the fraction of uncertain
	// predictions above which an issue is raised.
	LowConfidenceBand  [2]float64 `yaml:"low_confidence_band"`
	LowConfidenceShare float64    `yaml:"low_confidence_share"`

	// MissingFraction and DuplicateFraction are per-dataset quality limits.
	MissingFraction   float64 `yaml:"missing_fraction"`
	DuplicateFraction float64 `yaml:"duplicate_fraction"`
}

// DefaultPolicy returns the thresholds used when no policy file exists.
func DefaultPolicy() Policy {
	return Policy{
		MetricThresholds: map[string]float64{
			"f1_score":  0.75,
			"accuracy":  0.75,
			"precision": 0.70,
			"recall":    0.70,
		},
		Window:             10,
		CriticalDrop:       0.1,
		MinorityRatio:      0.05,
		LowConfidenceBand:  [2]float64{0.4, 0.6},
		LowConfidenceShare: 0.3,
		MissingFraction:    0.10,
		DuplicateFraction:  0.05,
	}
}

// LoadPolicy reads a YAML policy file, layering it over the defaults.
// A missing file returns the defaults without error.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return policy, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy: %w", err)
	}
	if policy.Window <= 0 {
		policy.Window = 10
	}
	return policy, nil
}
