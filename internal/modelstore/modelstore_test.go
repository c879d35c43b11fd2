package modelstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func writeModel(t *testing.T, dir, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestArtifactsSortedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "model_v1.pkl", "v1", 2*time.Hour)
	writeModel(t, dir, "model_v2.pkl", "v2", time.Hour)
	writeModel(t, dir, "model_v3.pkl", "v3", 0)

	s, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	artifacts, err := s.Artifacts()
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("got %d artifacts", len(artifacts))
	}
	if artifacts[0].Name != "model_v3.pkl" || artifacts[2].Name != "model_v1.pkl" {
		t.Fatalf("wrong order: %v", artifacts)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest.Name != "model_v3.pkl" {
		t.Fatalf("latest = %s", latest.Name)
	}
}

func TestArtifactsCacheAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "model_v1.pkl", "v1", time.Hour)

	s, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Artifacts(); err != nil {
		t.Fatal(err)
	}

	// a write the store has not been told about is invisible
	writeModel(t, dir, "model_v2.pkl", "v2", 0)
	artifacts, _ := s.Artifacts()
	if len(artifacts) != 1 {
		t.Fatalf("cache miss: got %d artifacts", len(artifacts))
	}

	s.Invalidate()
	artifacts, _ = s.Artifacts()
	if len(artifacts) != 2 {
		t.Fatalf("after invalidate: got %d artifacts", len(artifacts))
	}
}

func TestRollback(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "model_old.pkl", "old weights", time.Hour)
	current := writeModel(t, dir, "model_new.pkl", "new weights", 0)

	s, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	result, err := s.Rollback()
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if result.RolledBackFrom != "model_new.pkl" || result.RolledBackTo != "model_old.pkl" {
		t.Fatalf("result = %+v", result)
	}

	// the current path now carries the previous contents
	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old weights" {
		t.Fatalf("current model content = %q", data)
	}

	// the replaced model was backed up
	backup, err := os.ReadFile(result.BackupPath)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "new weights" {
		t.Fatalf("backup content = %q", backup)
	}
}

func TestRollbackInsufficientVersions(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "model_only.pkl", "v1", 0)

	s, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Rollback(); !errors.Is(err, ErrInsufficientVersions) {
		t.Fatalf("expected ErrInsufficientVersions, got %v", err)
	}
}
