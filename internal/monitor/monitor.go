// Package monitor tracks model performance metrics over time and answers
// the degradation queries the diagnosis engine runs every cycle.
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one recorded value of a metric.
type Sample struct {
	Timestamp time.Time         `json:"timestamp"`
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Statistics summarises a metric over a window.
type Statistics struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Median  float64 `json:"median"`
	Current float64 `json:"current"`
}

// Trend classifications.
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// Store persists metric history in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// New opens (or creates) the metric store at the given path.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("monitor: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: wal mode: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "monitor")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, ts)`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogMetrics records one observation of each metric in the map, all at the
// same timestamp.
func (s *Store) LogMetrics(ctx context.Context, metrics map[string]float64, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var meta []byte
	if len(metadata) > 0 {
		var err error
		meta, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("monitor: marshal metadata: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("monitor: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixNano()
	for name, value := range metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (ts, name, value, metadata) VALUES (?, ?, ?, ?)`,
			now, name, value, string(meta)); err != nil {
			return fmt.Errorf("monitor: insert %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("monitor: commit: %w", err)
	}

	s.logger.Debug("metrics logged", "count", len(metrics))
	return nil
}

// History returns the most recent samples for a metric, oldest first.
// limit <= 0 returns everything.
func (s *Store) History(ctx context.Context, metric string, limit int) ([]Sample, error) {
	query := `SELECT ts, value, metadata FROM metrics WHERE name = ? ORDER BY ts DESC, id DESC`
	args := []any{metric}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: query history: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var ts int64
		var value float64
		var meta sql.NullString
		if err := rows.Scan(&ts, &value, &meta); err != nil {
			return nil, fmt.Errorf("monitor: scan: %w", err)
		}
		sample := Sample{
			Timestamp: time.Unix(0, ts).UTC(),
			Metric:    metric,
			Value:     value,
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &sample.Metadata)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: rows: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// LatestMetrics returns the most recent value of every tracked metric.
func (s *Store) LatestMetrics(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.name, m.value FROM metrics m
		JOIN (SELECT name, MAX(id) AS mid FROM metrics GROUP BY name) latest
		ON m.id = latest.mid`)
	if err != nil {
		return nil, fmt.Errorf("monitor: query latest: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("monitor: scan latest: %w", err)
		}
		latest[name] = value
	}
	return latest, rows.Err()
}

// CheckDegradation reports whether a majority of the last window samples of
// the metric sit below the threshold. No data means no degradation.
func (s *Store) CheckDegradation(ctx context.Context, metric string, threshold float64, window int) (bool, error) {
	samples, err := s.History(ctx, metric, window)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		s.logger.Warn("no data for metric", "metric", metric)
		return false, nil
	}

	below := 0
	for _, sample := range samples {
		if sample.Value < threshold {
			below++
		}
	}

	degraded := float64(below)/float64(len(samples)) > 0.5
	if degraded {
		s.logger.Warn("performance degradation detected",
			"metric", metric,
			"threshold", threshold,
			"below", below,
			"samples", len(samples),
		)
	}
	return degraded, nil
}

// AlertIfDegraded checks every threshold and returns the names of
// degraded metrics, sorted. Logged at warn level for operators tailing
// the daemon.
func (s *Store) AlertIfDegraded(ctx context.Context, thresholds map[string]float64, window int) ([]string, error) {
	var degraded []string
	for metric, threshold := range thresholds {
		bad, err := s.CheckDegradation(ctx, metric, threshold, window)
		if err != nil {
			return nil, err
		}
		if bad {
			degraded = append(degraded, metric)
		}
	}
	sort.Strings(degraded)
	if len(degraded) > 0 {
		s.logger.Warn("metrics degraded", "metrics", degraded)
	}
	return degraded, nil
}

// CalculateStatistics computes summary statistics over the last window
// samples of the metric. Returns false when no data exists.
func (s *Store) CalculateStatistics(ctx context.Context, metric string, window int) (Statistics, bool, error) {
	samples, err := s.History(ctx, metric, window)
	if err != nil {
		return Statistics{}, false, err
	}
	if len(samples) == 0 {
		return Statistics{}, false, nil
	}

	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
	}

	stats := Statistics{
		Min:     values[0],
		Max:     values[0],
		Current: values[len(values)-1],
	}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - stats.Mean
		variance += d * d
	}
	stats.Std = math.Sqrt(variance / float64(len(values)))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		stats.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		stats.Median = sorted[mid]
	}

	return stats, true, nil
}

// Trend classifies the recent direction of a metric using a least-squares
// slope over the last window samples. Fewer than 5 samples reads as stable.
func (s *Store) Trend(ctx context.Context, metric string, window int) (string, error) {
	samples, err := s.History(ctx, metric, window)
	if err != nil {
		return "", err
	}
	if len(samples) < 5 {
		return TrendStable, nil
	}

	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for i, sample := range samples {
		x := float64(i)
		sumX += x
		sumY += sample.Value
		sumXY += x * sample.Value
		sumXX += x * x
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)

	switch {
	case math.Abs(slope) < 0.001:
		return TrendStable, nil
	case slope > 0:
		return TrendImproving, nil
	default:
		return TrendDegrading, nil
	}
}

// Report bundles the latest values with per-metric trend and statistics.
type Report struct {
	Timestamp  time.Time             `json:"timestamp"`
	Latest     map[string]float64    `json:"latest_metrics"`
	Trends     map[string]string     `json:"trends"`
	Statistics map[string]Statistics `json:"statistics"`
}

// GenerateReport produces a performance report over the last window samples
// of every tracked metric.
func (s *Store) GenerateReport(ctx context.Context, window int) (Report, error) {
	latest, err := s.LatestMetrics(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Timestamp:  time.Now().UTC(),
		Latest:     latest,
		Trends:     make(map[string]string, len(latest)),
		Statistics: make(map[string]Statistics, len(latest)),
	}
	for name := range latest {
		trend, err := s.Trend(ctx, name, window)
		if err != nil {
			return Report{}, err
		}
		report.Trends[name] = trend

		stats, ok, err := s.CalculateStatistics(ctx, name, window)
		if err != nil {
			return Report{}, err
		}
		if ok {
			report.Statistics[name] = stats
		}
	}
	return report, nil
}
