package cli

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"crusty/internal/descriptor"
	"crusty/internal/fetch"
	"crusty/internal/recovery/state"
	"crusty/internal/tool"
)

func TestCanonicalize_DeterministicStruct(t *testing.T) {
	workDir := t.TempDir()
	inv := BuildInvocation{
		WorkDir:   workDir,
		CacheDir:  "./cache/..//cache",
		Archive:   "data/../builddata.zip",
		TracePath: "traces/./trace.json",
	}

	inv1, err := inv.Canonicalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv2, err := inv.Canonicalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(inv1, inv2) {
		t.Fatalf("expected identical invocations, got\n%#v\n%#v", inv1, inv2)
	}

	if inv1.CacheDir != filepath.Join(workDir, "cache") {
		t.Fatalf("cache dir not resolved/canonicalized: %q", inv1.CacheDir)
	}
	if inv1.Archive != filepath.Join(workDir, "builddata.zip") {
		t.Fatalf("archive not resolved/canonicalized: %q", inv1.Archive)
	}
	if inv1.TracePath != filepath.Join(workDir, "traces", "trace.json") {
		t.Fatalf("trace not resolved/canonicalized: %q", inv1.TracePath)
	}
	if inv1.ConfigPath != "" {
		t.Fatalf("empty config path must stay empty, got %q", inv1.ConfigPath)
	}
}

func TestCanonicalize_ResolvesRelativePathsAgainstWorkDir_NotCwd(t *testing.T) {
	workDir := t.TempDir()
	otherCwd := t.TempDir()

	oldCwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	if err := os.Chdir(otherCwd); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}

	inv, err := BuildInvocation{WorkDir: workDir, ConfigPath: "crusty.yaml"}.Canonicalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ConfigPath != filepath.Join(workDir, "crusty.yaml") {
		t.Fatalf("expected config under workdir, got %q", inv.ConfigPath)
	}
}

func TestCanonicalize_RejectsBadInvocations(t *testing.T) {
	abs := t.TempDir()
	for name, inv := range map[string]BuildInvocation{
		"missing workdir":    {},
		"relative workdir":   {WorkDir: "relative"},
		"archive and commit": {WorkDir: abs, Archive: "a.zip", Commit: "abc"},
		"commit with slash":  {WorkDir: abs, Commit: "../x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := inv.Canonicalize()
			if err == nil {
				t.Fatalf("expected error")
			}
			if ExitCode(err) != ExitInvalidInvocation {
				t.Fatalf("expected exit code %d, got %d", ExitInvalidInvocation, ExitCode(err))
			}
		})
	}
}

func TestExitCode_FollowsFailureClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"invocation", invalidInvocationf("bad flag"), ExitInvalidInvocation},
		{"config", &state.ConfigFailureError{Code: "ConfigLoad", Message: "bad yaml"}, ExitConfigError},
		{"no mapping source", &state.StageFailureError{Stage: "x", Cause: descriptor.ErrNoMappingSource}, ExitConfigError},
		{"transport", &state.StageFailureError{Stage: "fetch-server", Cause: &fetch.TransportError{StatusCode: 500}}, ExitPipelineFailure},
		{"tool", &tool.ExitError{Stage: "rename-final", Code: 3}, ExitPipelineFailure},
		{"other", errors.New("disk full"), ExitPipelineFailure},
		{"internal", &internalError{err: errors.New("panic: boom")}, ExitInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
