// Package modelstore manages the production model directory: listing
// artifact versions and rolling the live model back to the previous one.
package modelstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrInsufficientVersions is returned when a rollback is requested but
// fewer than two artifacts exist.
var ErrInsufficientVersions = errors.New("modelstore: insufficient model versions")

// Artifact is one model file in the production directory.
type Artifact struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"mod_time"`
}

// Store lists and manipulates model artifacts. Directory scans are
// cached and deduplicated so concurrent API reads hit the disk once.
type Store struct {
	dir    string
	logger *slog.Logger
	group  singleflight.Group

	mu     sync.Mutex
	cached []Artifact
	valid  bool
}

// New creates a store over dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "modelstore"),
	}, nil
}

// Dir returns the production model directory.
func (s *Store) Dir() string { return s.dir }

// Artifacts returns model files sorted newest first. Concurrent callers
// share one scan; the result is cached until Invalidate.
func (s *Store) Artifacts() ([]Artifact, error) {
	s.mu.Lock()
	if s.valid {
		out := make([]Artifact, len(s.cached))
		copy(out, s.cached)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("scan", func() (any, error) {
		artifacts, err := s.scan()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = artifacts
		s.valid = true
		s.mu.Unlock()
		return artifacts, nil
	})
	if err != nil {
		return nil, err
	}

	artifacts := v.([]Artifact)
	out := make([]Artifact, len(artifacts))
	copy(out, artifacts)
	return out, nil
}

// Invalidate drops the cached listing. Call after anything writes to the
// model directory.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// Latest returns the newest artifact.
func (s *Store) Latest() (Artifact, error) {
	artifacts, err := s.Artifacts()
	if err != nil {
		return Artifact{}, err
	}
	if len(artifacts) == 0 {
		return Artifact{}, fmt.Errorf("modelstore: no artifacts in %s", s.dir)
	}
	return artifacts[0], nil
}

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	RolledBackFrom string `json:"rolled_back_from"`
	RolledBackTo   string `json:"rolled_back_to"`
	BackupPath     string `json:"backup_path"`
}

// Rollback replaces the current model with the previous version. The
// current file is first copied aside with a .backup suffix, then
// overwritten in place so its path stays stable for serving.
func (s *Store) Rollback() (RollbackResult, error) {
	artifacts, err := s.Artifacts()
	if err != nil {
		return RollbackResult{}, err
	}
	if len(artifacts) < 2 {
		return RollbackResult{}, ErrInsufficientVersions
	}

	current, previous := artifacts[0], artifacts[1]
	backup := current.Path + ".backup"

	if err := copyFile(current.Path, backup); err != nil {
		return RollbackResult{}, fmt.Errorf("backup current model: %w", err)
	}
	if err := copyFile(previous.Path, current.Path); err != nil {
		return RollbackResult{}, fmt.Errorf("restore previous model: %w", err)
	}

	s.Invalidate()
	s.logger.Info("model rolled back",
		"from", current.Name,
		"to", previous.Name,
		"backup", backup,
	)
	return RollbackResult{
		RolledBackFrom: current.Name,
		RolledBackTo:   previous.Name,
		BackupPath:     backup,
	}, nil
}

// scan reads the directory, skipping subdirectories and backup files.
func (s *Store) scan() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".backup" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		artifacts = append(artifacts, Artifact{
			Name:    entry.Name(),
			Path:    filepath.Join(s.dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
