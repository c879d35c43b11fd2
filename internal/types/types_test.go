package types

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewIssue(t *testing.T) {
	issue := NewIssue(IssueDataDrift, SeverityHigh, "drift on 6 features", map[string]any{
		"n_drifted": 6,
	})

	if !strings.HasPrefix(issue.ID, "ISS-") {
		t.Errorf("issue ID = %q, want ISS- prefix", issue.ID)
	}
	if issue.Type != IssueDataDrift {
		t.Errorf("type = %q, want %q", issue.Type, IssueDataDrift)
	}
	if issue.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	// nil details must come back as an empty, writable map
	bare := NewIssue(IssueOther, SeverityLow, "noop", nil)
	if bare.Details == nil {
		t.Fatal("details is nil")
	}
	bare.Details["k"] = "v"
}

func TestSeverityAtLeast(t *testing.T) {
	tests := []struct {
		s, other Severity
		want     bool
	}{
		{SeverityHigh, SeverityMedium, true},
		{SeverityHigh, SeverityHigh, true},
		{SeverityMedium, SeverityHigh, false},
		{SeverityLow, SeverityCritical, false},
		{SeverityCritical, SeverityHigh, true},
	}
	for _, tt := range tests {
		if got := tt.s.AtLeast(tt.other); got != tt.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", tt.s, tt.other, got, tt.want)
		}
	}
}

func TestExecutionResults(t *testing.T) {
	ok := Succeed("done", map[string]any{"rows": 10})
	if !ok.Success || ok.Error != "" {
		t.Errorf("Succeed produced %+v", ok)
	}

	bad := Fail("retrain failed", "exit status 1")
	if bad.Success {
		t.Error("Fail marked success")
	}
	if bad.Error != "exit status 1" {
		t.Errorf("error = %q", bad.Error)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID("ACT")
		if !strings.HasPrefix(id, "ACT-") {
			t.Fatalf("id = %q, want ACT- prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	csvData := "a,b\n1.0,2.0\n3.0,\n1.0,2.0\nx,4.0\n"
	if err := os.WriteFile(path, []byte(csvData), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if ds.Len() != 4 {
		t.Fatalf("rows = %d, want 4", ds.Len())
	}
	if len(ds.Features) != 2 || ds.Features[0] != "a" {
		t.Fatalf("features = %v", ds.Features)
	}
	if !math.IsNaN(ds.Columns["b"][1]) {
		t.Error("empty cell did not parse as NaN")
	}
	if !math.IsNaN(ds.Columns["a"][3]) {
		t.Error("non-numeric cell did not parse as NaN")
	}

	missing := ds.MissingFraction()
	if got := missing["b"]; got != 0.25 {
		t.Errorf("missing fraction b = %v, want 0.25", got)
	}
	if got := ds.DuplicateFraction(); got != 0.25 {
		t.Errorf("duplicate fraction = %v, want 0.25", got)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}
