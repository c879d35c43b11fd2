package types

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Dataset is a column-major tabular dataset. Missing values are NaN.
type Dataset struct {
	Features []string
	Columns  map[string][]float64
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	for _, col := range d.Columns {
		return len(col)
	}
	return 0
}

// MissingFraction returns the fraction of NaN values per feature.
func (d *Dataset) MissingFraction() map[string]float64 {
	out := make(map[string]float64, len(d.Features))
	n := d.Len()
	if n == 0 {
		return out
	}
	for _, feat := range d.Features {
		missing := 0
		for _, v := range d.Columns[feat] {
			if math.IsNaN(v) {
				missing++
			}
		}
		out[feat] = float64(missing) / float64(n)
	}
	return out
}

// DuplicateFraction returns the fraction of rows that are exact duplicates
// of an earlier row.
func (d *Dataset) DuplicateFraction() float64 {
	n := d.Len()
	if n == 0 {
		return 0
	}
	seen := make(map[string]bool, n)
	dups := 0
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.Reset()
		for _, feat := range d.Features {
			fmt.Fprintf(&b, "%v|", d.Columns[feat][i])
		}
		key := b.String()
		if seen[key] {
			dups++
		}
		seen[key] = true
	}
	return float64(dups) / float64(n)
}

// LoadCSV reads a numeric CSV file with a header row into a Dataset.
// Empty and non-numeric cells become NaN.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("dataset %s: missing header row", path)
	}

	ds := &Dataset{
		Features: records[0],
		Columns:  make(map[string][]float64, len(records[0])),
	}
	for _, feat := range ds.Features {
		ds.Columns[feat] = make([]float64, 0, len(records)-1)
	}
	for _, row := range records[1:] {
		for i, feat := range ds.Features {
			v := math.NaN()
			if i < len(row) {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64); err == nil {
					v = parsed
				}
			}
			ds.Columns[feat] = append(ds.Columns[feat], v)
		}
	}
	return ds, nil
}
