package monitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "metrics.db"), testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func logSeries(t *testing.T, s *Store, metric string, values []float64) {
	t.Helper()
	ctx := context.Background()
	for _, v := range values {
		if err := s.LogMetrics(ctx, map[string]float64{metric: v}, nil); err != nil {
			t.Fatalf("LogMetrics failed: %v", err)
		}
	}
}

func TestLogAndHistory(t *testing.T) {
	s := testStore(t)
	logSeries(t, s, "f1_score", []float64{0.8, 0.82, 0.79})

	samples, err := s.History(context.Background(), "f1_score", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	// Chronological order
	if samples[0].Value != 0.8 || samples[2].Value != 0.79 {
		t.Errorf("history not chronological: %v", samples)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := testStore(t)
	logSeries(t, s, "accuracy", []float64{0.1, 0.2, 0.3, 0.4, 0.5})

	samples, err := s.History(context.Background(), "accuracy", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	// Newest two, oldest first
	if samples[0].Value != 0.4 || samples[1].Value != 0.5 {
		t.Errorf("wrong window: %v", samples)
	}
}

func TestLatestMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.LogMetrics(ctx, map[string]float64{"f1_score": 0.8, "accuracy": 0.85}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.LogMetrics(ctx, map[string]float64{"f1_score": 0.7}, map[string]string{"model": "v2"}); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestMetrics(ctx)
	if err != nil {
		t.Fatalf("LatestMetrics failed: %v", err)
	}
	if latest["f1_score"] != 0.7 {
		t.Errorf("expected latest f1 0.7, got %v", latest["f1_score"])
	}
	if latest["accuracy"] != 0.85 {
		t.Errorf("expected accuracy 0.85, got %v", latest["accuracy"])
	}
}

func TestCheckDegradation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// 7 of 10 below 0.75 is a majority, so degraded
	logSeries(t, s, "f1_score", []float64{0.8, 0.78, 0.74, 0.73, 0.7, 0.72, 0.69, 0.71, 0.8, 0.68})
	degraded, err := s.CheckDegradation(ctx, "f1_score", 0.75, 10)
	if err != nil {
		t.Fatalf("CheckDegradation failed: %v", err)
	}
	if !degraded {
		t.Error("expected degradation with 7/10 below threshold")
	}

	// Exactly half below is not a majority
	s2 := testStore(t)
	logSeries(t, s2, "recall", []float64{0.8, 0.8, 0.8, 0.8, 0.8, 0.6, 0.6, 0.6, 0.6, 0.6})
	degraded, err = s2.CheckDegradation(ctx, "recall", 0.75, 10)
	if err != nil {
		t.Fatal(err)
	}
	if degraded {
		t.Error("50% below threshold must not count as degradation")
	}
}

func TestAlertIfDegraded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	logSeries(t, s, "f1_score", []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5})
	logSeries(t, s, "accuracy", []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9})

	degraded, err := s.AlertIfDegraded(ctx, map[string]float64{
		"f1_score": 0.75,
		"accuracy": 0.75,
	}, 10)
	if err != nil {
		t.Fatalf("AlertIfDegraded failed: %v", err)
	}
	if len(degraded) != 1 || degraded[0] != "f1_score" {
		t.Errorf("degraded = %v, want [f1_score]", degraded)
	}
}

func TestCheckDegradationNoData(t *testing.T) {
	s := testStore(t)
	degraded, err := s.CheckDegradation(context.Background(), "missing", 0.75, 10)
	if err != nil {
		t.Fatalf("CheckDegradation failed: %v", err)
	}
	if degraded {
		t.Error("missing metric must not report degradation")
	}
}

func TestCalculateStatistics(t *testing.T) {
	s := testStore(t)
	logSeries(t, s, "precision", []float64{0.6, 0.8, 1.0})

	stats, ok, err := s.CalculateStatistics(context.Background(), "precision", 10)
	if err != nil {
		t.Fatalf("CalculateStatistics failed: %v", err)
	}
	if !ok {
		t.Fatal("expected statistics for existing metric")
	}
	if stats.Mean < 0.799 || stats.Mean > 0.801 {
		t.Errorf("mean = %v, want 0.8", stats.Mean)
	}
	if stats.Min != 0.6 || stats.Max != 1.0 {
		t.Errorf("min/max = %v/%v", stats.Min, stats.Max)
	}
	if stats.Median != 0.8 {
		t.Errorf("median = %v, want 0.8", stats.Median)
	}
	if stats.Current != 1.0 {
		t.Errorf("current = %v, want 1.0", stats.Current)
	}

	_, ok, err = s.CalculateStatistics(context.Background(), "missing", 10)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("missing metric should report no statistics")
	}
}

func TestTrend(t *testing.T) {
	ctx := context.Background()

	s := testStore(t)
	logSeries(t, s, "up", []float64{0.5, 0.6, 0.7, 0.8, 0.9})
	if trend, _ := s.Trend(ctx, "up", 30); trend != TrendImproving {
		t.Errorf("expected improving, got %s", trend)
	}

	logSeries(t, s, "down", []float64{0.9, 0.8, 0.7, 0.6, 0.5})
	if trend, _ := s.Trend(ctx, "down", 30); trend != TrendDegrading {
		t.Errorf("expected degrading, got %s", trend)
	}

	logSeries(t, s, "flat", []float64{0.7, 0.7, 0.7, 0.7, 0.7})
	if trend, _ := s.Trend(ctx, "flat", 30); trend != TrendStable {
		t.Errorf("expected stable, got %s", trend)
	}

	// Too few samples
	logSeries(t, s, "short", []float64{0.1, 0.9})
	if trend, _ := s.Trend(ctx, "short", 30); trend != TrendStable {
		t.Errorf("short series should be stable, got %s", trend)
	}
}

func TestGenerateReport(t *testing.T) {
	s := testStore(t)
	logSeries(t, s, "f1_score", []float64{0.5, 0.6, 0.7, 0.8, 0.9})

	report, err := s.GenerateReport(context.Background(), 30)
	if err != nil {
		t.Fatalf("GenerateReport failed: %v", err)
	}
	if report.Latest["f1_score"] != 0.9 {
		t.Errorf("latest f1 = %v", report.Latest["f1_score"])
	}
	if report.Trends["f1_score"] != TrendImproving {
		t.Errorf("trend = %s", report.Trends["f1_score"])
	}
	if _, ok := report.Statistics["f1_score"]; !ok {
		t.Error("missing statistics for f1_score")
	}
}
