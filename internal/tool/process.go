package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"crusty/internal/logging"
)

// Process spawns args[0] with args[1:] in Dir. The host environment is
// inherited (java must be on PATH). Output is logged line by line unless
// Stdout/Stderr are set.
type Process struct {
	Dir    string
	Env    []string // appended to the host environment
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// Run starts the command in its own process group and waits for it.
// Cancelling ctx kills the whole group.
func (p *Process) Run(ctx context.Context, args []string) (int, error) {
	if len(args) == 0 {
		return -1, errors.New("empty command line")
	}
	log := logging.OrNop(p.Logger)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}

	// Setpgid lets cancellation reach the JVM's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, stderr := p.Stdout, p.Stderr
	if stdout == nil {
		w := &zapio.Writer{Log: log.With(zap.String("stream", "stdout")), Level: zapcore.DebugLevel}
		defer w.Close()
		stdout = w
	}
	if stderr == nil {
		w := &zapio.Writer{Log: log.With(zap.String("stream", "stderr")), Level: zapcore.InfoLevel}
		defer w.Close()
		stderr = w
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Debug("Running tool", zap.Strings("args", args), zap.String("dir", p.Dir))
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return -1, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
	return -1, fmt.Errorf("failed to execute %s: %w", args[0], err)
}
