package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crusty/internal/trace"
)

const (
	runFile     = "run.json"
	traceFile   = "trace.json"
	failureFile = "failure.json"
)

// Store keeps one directory per build under <cacheDir>/.crusty/runs.
// Records are replaced atomically, so a reader never sees a torn file.
type Store struct {
	dir string
}

func NewStore(cacheDir string) (*Store, error) {
	if strings.TrimSpace(cacheDir) == "" {
		return nil, errors.New("cache directory is required")
	}
	return &Store{dir: filepath.Join(cacheDir, ".crusty", "runs")}, nil
}

func (s *Store) path(runID, name string) string {
	return filepath.Join(s.dir, runID, name)
}

// RunIDs lists the recorded runs in sorted order, oldest first for
// time-ordered IDs.
func (s *Store) RunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRunID returns the most recent run, or "" when there is none.
func (s *Store) LatestRunID() (string, error) {
	ids, err := s.RunIDs()
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[len(ids)-1], nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.saveJSON(run.RunID, runFile, run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if err := s.loadJSON(runID, runFile, &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid %s for run %s: %w", runFile, runID, err)
	}
	return run, nil
}

// SaveTrace stores the canonical encoding, so the file hashes to the same
// value as the in-memory trace.
func (s *Store) SaveTrace(runID string, tr trace.StageTrace) error {
	data, err := tr.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	return s.write(runID, traceFile, append(data, '\n'))
}

func (s *Store) LoadTrace(runID string) (trace.StageTrace, error) {
	var tr trace.StageTrace
	if strings.TrimSpace(runID) == "" {
		return tr, errors.New("run ID is required")
	}
	data, err := os.ReadFile(s.path(runID, traceFile))
	if err != nil {
		return tr, err
	}
	if err := json.Unmarshal(data, &tr); err != nil {
		return tr, fmt.Errorf("invalid %s for run %s: %w", traceFile, runID, err)
	}
	return tr, tr.Validate()
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.saveJSON(runID, failureFile, failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if err := s.loadJSON(runID, failureFile, &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid %s for run %s: %w", failureFile, runID, err)
	}
	return failure, nil
}

func (s *Store) saveJSON(runID, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return s.write(runID, name, append(data, '\n'))
}

// loadJSON rejects unknown fields and trailing content; a record written by
// another version is an error, not a partial read.
func (s *Store) loadJSON(runID, name string, dst any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run ID is required")
	}
	f, err := os.Open(s.path(runID, name))
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid %s for run %s: %w", name, runID, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("invalid %s for run %s: trailing content", name, runID)
	}
	return nil
}

func (s *Store) write(runID, name string, data []byte) (err error) {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run ID is required")
	}
	dir := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
