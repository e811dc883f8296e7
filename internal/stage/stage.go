// Package stage implements the per-artifact marker protocol that makes every
// pipeline stage resumable.
//
// Each artifact path P has a sibling marker P+".marker". A marker means a run
// claimed the stage and has not finished it. The protocol:
//
//	marker present            -> delete P, rebuild (a previous run crashed mid-stage)
//	no marker, P present      -> already built, skip
//	neither                   -> create marker, build
//
// Commit removes the marker once P is complete. There is no multi-file
// transaction: each stage is tracked on its own and re-running is always safe.
// The cache directory assumes a single writer.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"crusty/internal/logging"
)

// MarkerSuffix is appended to an artifact path to form its marker.
const MarkerSuffix = ".marker"

// State is the observable condition of an artifact.
type State string

const (
	StateMissing State = "missing"
	StateClaimed State = "claimed"
	StateBuilt   State = "built"
)

// Outcome describes what a gated build did.
type Outcome string

const (
	// OutcomeSkipped means the artifact was already built.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBuilt means the artifact was absent and has been built.
	OutcomeBuilt Outcome = "built"
	// OutcomeRecovered means a leftover marker was found, the partial
	// artifact discarded and the stage rebuilt.
	OutcomeRecovered Outcome = "recovered"
)

// MarkerPath returns the marker path for artifact.
func MarkerPath(artifact string) string {
	return artifact + MarkerSuffix
}

// Cache applies the marker protocol. The zero value is usable.
type Cache struct {
	Logger *zap.Logger
}

// New returns a Cache that logs recoveries to logger.
func New(logger *zap.Logger) *Cache {
	return &Cache{Logger: logger}
}

// NeedsRebuild reports whether artifact must be (re)built, claiming it when so.
func (c *Cache) NeedsRebuild(artifact string) (bool, error) {
	rebuild, _, err := c.claim(artifact)
	return rebuild, err
}

func (c *Cache) claim(artifact string) (bool, Outcome, error) {
	marker := MarkerPath(artifact)

	markerExists, err := exists(marker)
	if err != nil {
		return false, "", fmt.Errorf("checking marker: %w", err)
	}
	if markerExists {
		logging.OrNop(c.logger()).Warn("Discarding partial artifact left by an interrupted run",
			zap.String("artifact", artifact))
		if err := os.RemoveAll(artifact); err != nil {
			return false, "", fmt.Errorf("removing partial artifact: %w", err)
		}
		return true, OutcomeRecovered, nil
	}

	artifactExists, err := exists(artifact)
	if err != nil {
		return false, "", fmt.Errorf("checking artifact: %w", err)
	}
	if artifactExists {
		return false, OutcomeSkipped, nil
	}

	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return false, "", fmt.Errorf("creating artifact directory: %w", err)
	}
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false, "", fmt.Errorf("creating marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, "", fmt.Errorf("creating marker: %w", err)
	}
	return true, OutcomeBuilt, nil
}

// Commit marks artifact as complete by removing its marker.
func (c *Cache) Commit(artifact string) error {
	if err := os.Remove(MarkerPath(artifact)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing marker: %w", err)
	}
	return nil
}

// Run gates build behind the protocol: it is skipped when artifact is built,
// otherwise run and committed. A failing build leaves the marker in place.
func (c *Cache) Run(artifact string, build func() error) (Outcome, error) {
	rebuild, outcome, err := c.claim(artifact)
	if err != nil {
		return "", err
	}
	if !rebuild {
		return outcome, nil
	}
	if err := build(); err != nil {
		return "", err
	}
	if err := c.Commit(artifact); err != nil {
		return "", err
	}
	return outcome, nil
}

// Inspect reports the artifact's state without side effects.
func Inspect(artifact string) (State, error) {
	claimed, err := exists(MarkerPath(artifact))
	if err != nil {
		return "", err
	}
	if claimed {
		return StateClaimed, nil
	}
	built, err := exists(artifact)
	if err != nil {
		return "", err
	}
	if built {
		return StateBuilt, nil
	}
	return StateMissing, nil
}

func (c *Cache) logger() *zap.Logger {
	if c == nil {
		return nil
	}
	return c.Logger
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
