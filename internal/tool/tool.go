// Package tool runs the external transformations of the pipeline: the
// renamers and the decompiler. A Tool is either a spawned process or an
// in-process Go function; the pipeline picks one per stage from config.
package tool

import (
	"context"
	"fmt"
	"strings"

	"crusty/internal/config"
)

// Tool runs one invocation and reports its exit status. A non-nil error
// means the tool could not be run or was interrupted.
type Tool interface {
	Run(ctx context.Context, args []string) (int, error)
}

// ExitError reports a tool that ran but did not succeed.
type ExitError struct {
	Stage string
	Args  []string
	Code  int
	// Err is set by builtins that fail with an error value.
	Err error
}

func (e *ExitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s exited with status %d", e.Stage, strings.Join(e.Args, " "), e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Invoke runs t and turns a non-zero status into *ExitError.
func Invoke(ctx context.Context, t Tool, stage string, args []string) error {
	code, err := t.Run(ctx, args)
	if err != nil {
		if code > 0 {
			return &ExitError{Stage: stage, Args: args, Code: code, Err: err}
		}
		return fmt.Errorf("%s: %w", stage, err)
	}
	if code != 0 {
		return &ExitError{Stage: stage, Args: args, Code: code}
	}
	return nil
}

// Select returns the tool for a stage: proc for process stages, or the
// builtin registered under name for builtin stages.
func Select(kind config.ToolKind, name string, proc *Process, builtins *Registry) (Tool, error) {
	switch kind {
	case config.ToolProcess, "":
		if proc == nil {
			return nil, fmt.Errorf("stage %s: no process runner configured", name)
		}
		return proc, nil
	case config.ToolBuiltin:
		b, ok := builtins.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("stage %s: %w", name, ErrNoBuiltin)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("stage %s: unknown tool kind %q", name, kind)
	}
}
