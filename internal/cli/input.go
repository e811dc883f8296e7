package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"crusty/internal/recovery/state"
)

const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// BuildInvocation is the canonical description of one build.
//
// All paths are cleaned, and relative paths are resolved against WorkDir,
// which must be absolute.
type BuildInvocation struct {
	WorkDir    string
	ConfigPath string
	// CacheDir overrides the configured cache directory when set.
	CacheDir string
	Archive  string
	Commit   string
	Sources  bool
	// Offline, Strict and Intermediary can only switch the config value on.
	Offline      bool
	Strict       bool
	Intermediary bool
	Verbose      bool
	TracePath    string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// internalError marks a bug: a panic or a broken invariant inside crusty.
type internalError struct {
	err error
}

func (e *internalError) Error() string { return "internal error: " + e.err.Error() }
func (e *internalError) Unwrap() error { return e.err }

// Canonicalize validates inv and resolves its paths.
func (inv BuildInvocation) Canonicalize() (BuildInvocation, error) {
	workDir := filepath.Clean(inv.WorkDir)
	if inv.WorkDir == "" {
		return BuildInvocation{}, invalidInvocationf("working directory is required")
	}
	if !filepath.IsAbs(workDir) {
		return BuildInvocation{}, invalidInvocationf("working directory must be absolute (got %q)", inv.WorkDir)
	}
	if inv.Archive != "" && inv.Commit != "" {
		return BuildInvocation{}, invalidInvocationf("--archive and --commit are mutually exclusive")
	}
	if strings.ContainsAny(inv.Commit, "/?&# ") {
		return BuildInvocation{}, invalidInvocationf("invalid --commit %q", inv.Commit)
	}

	out := inv
	out.WorkDir = workDir
	var err error
	for _, p := range []*string{&out.ConfigPath, &out.CacheDir, &out.Archive, &out.TracePath} {
		if *p == "" {
			continue
		}
		if *p, err = resolveUnderWorkDir(workDir, *p); err != nil {
			return BuildInvocation{}, err
		}
	}
	return out, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var ie *internalError
	if errors.As(err, &ie) {
		return ExitInternalError
	}
	if state.Classify(err) == state.FailureClassConfig {
		return ExitConfigError
	}
	return ExitPipelineFailure
}
