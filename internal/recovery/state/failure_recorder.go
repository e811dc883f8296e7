package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crusty/internal/trace"
)

// FailureRecorder writes run.json, trace.json and failure.json for runs.
type FailureRecorder struct {
	Store *Store
	// Now is overridable in tests.
	Now func() time.Time
}

// NewRunID returns a time-ordered identifier, so sorted IDs are
// chronological.
func (r *FailureRecorder) NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (r *FailureRecorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *FailureRecorder) StartRun(run Run) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	if run.StartTime.IsZero() {
		run.StartTime = r.now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return r.Store.SaveRun(run)
}

// FinishRun marks the run succeeded or failed, persists its trace and, on
// failure, the classified failure record.
func (r *FailureRecorder) FinishRun(runID string, tr trace.StageTrace, output string, runErr error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	run, err := r.Store.LoadRun(runID)
	if err != nil {
		return err
	}
	end := r.now()
	run.EndTime = &end
	run.Output = output
	run.Status = RunStatusSucceeded
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Output = ""
	}
	if len(tr.Events) > 0 {
		sum, err := tr.Hash()
		if err != nil {
			return err
		}
		run.TraceHash = sum.String()
		if err := r.Store.SaveTrace(runID, tr); err != nil {
			return err
		}
	}
	if err := r.Store.SaveRun(run); err != nil {
		return err
	}
	if runErr != nil {
		return r.RecordFailure(runID, runErr)
	}
	return nil
}

func (r *FailureRecorder) RecordFailure(runID string, err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(runID, f)
}
