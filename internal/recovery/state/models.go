package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the terminal output a run was asked for.
type Mode string

const (
	ModeJar     Mode = "jar"
	ModeSources Mode = "sources"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted metadata of one pipeline invocation.
type Run struct {
	RunID string `json:"run_id"`
	// BuildData is the fingerprint of the build data archive the run used.
	BuildData        string     `json:"build_data"`
	MinecraftVersion string     `json:"minecraft_version,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Mode             Mode       `json:"mode"`
	Status           RunStatus  `json:"status"`
	Output           string     `json:"output,omitempty"`
	// TraceHash is the fingerprint of trace.json, empty when no stage ran.
	TraceHash     string  `json:"trace_hash,omitempty"`
	PreviousRunID *string `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.BuildData) == "" {
		errs = append(errs, errors.New("build_data is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ModeJar, ModeSources:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time precedes start_time"))
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassConfig    FailureClass = "config"
	FailureClassTransport FailureClass = "transport"
	FailureClassMapping   FailureClass = "mapping"
	FailureClassTool      FailureClass = "tool"
	FailureClassSystem    FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Stage        *string      `json:"stage,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	// Resumable means re-running with the same inputs may succeed; the stage
	// that failed still holds its marker.
	Resumable bool `json:"resumable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassConfig, FailureClassTransport, FailureClassMapping, FailureClassTool, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Stage != nil && strings.TrimSpace(*f.Stage) == "" {
		errs = append(errs, errors.New("stage must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}
