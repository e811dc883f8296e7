package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"crusty/internal/config"
	"crusty/internal/logging"
	"crusty/internal/pipeline"
	"crusty/internal/recovery/state"
	"crusty/internal/trace"
)

type CLIResult struct {
	ExitCode int
	RunID    string
	Output   string
	Pipeline *pipeline.Result
}

// Hooks lets callers adjust what Execute builds. Tests use it to register
// builtin tools and to swap the HTTP client.
type Hooks struct {
	Logger    *zap.Logger
	Configure func(*pipeline.Pipeline)
}

// Execute runs a canonical build invocation with default wiring.
func Execute(ctx context.Context, inv BuildInvocation) (CLIResult, error) {
	return ExecuteWith(ctx, inv, Hooks{})
}

// ExecuteWith runs the build and records it under the cache's run store.
//
// The run record is written before the pipeline starts and finalized after
// it stops, including on panic, so a failed run always leaves run.json,
// failure.json and the trace of the stages that ran.
func ExecuteWith(ctx context.Context, inv BuildInvocation, hooks Hooks) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError

	cfg, err := loadConfig(inv.ConfigPath, inv.CacheDir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	cfg.Offline = cfg.Offline || inv.Offline
	cfg.Strict = cfg.Strict || inv.Strict
	cfg.Intermediary.Enabled = cfg.Intermediary.Enabled || inv.Intermediary

	logger := hooks.Logger
	if logger == nil {
		logger, err = logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Verbose: inv.Verbose})
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, &state.ConfigFailureError{Code: "LogLevel", Message: err.Error(), Cause: err}
		}
		defer func() { _ = logger.Sync() }()
	}

	p := pipeline.New(cfg, logger)
	if hooks.Configure != nil {
		hooks.Configure(p)
	}

	st, err := state.NewStore(cfg.CacheDir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, &state.ConfigFailureError{Code: "CacheDir", Message: err.Error(), Cause: err}
	}
	rec := &state.FailureRecorder{Store: st}
	runID, err := rec.NewRunID()
	if err != nil {
		return res, &internalError{err: err}
	}
	res.RunID = runID

	source := inv.Archive
	if source == "" {
		source = p.BuildDataURL(inv.Commit)
	}
	mode := state.ModeJar
	if inv.Sources {
		mode = state.ModeSources
	}
	run := state.Run{RunID: runID, BuildData: source, Mode: mode}
	if prev, err := st.LatestRunID(); err == nil && prev != "" {
		run.PreviousRunID = &prev
	}
	if err := rec.StartRun(run); err != nil {
		logger.Warn("Could not record run", zap.Error(err))
	}

	var pres *pipeline.Result
	defer func() {
		if r := recover(); r != nil {
			execErr = &internalError{err: fmt.Errorf("panic: %v", r)}
			res.ExitCode = ExitInternalError
		}
		if err := finishRun(st, rec, runID, pres, execErr); err != nil {
			logger.Warn("Could not finalize run record", zap.String("run", runID), zap.Error(err))
		}
		if inv.TracePath != "" && pres != nil {
			if err := writeTrace(inv.TracePath, pres); err != nil && execErr == nil {
				execErr = err
				res.ExitCode = ExitInternalError
			}
		}
	}()

	pres, execErr = p.Run(ctx, pipeline.Request{Archive: inv.Archive, Commit: inv.Commit, Sources: inv.Sources})
	res.Pipeline = pres
	res.ExitCode = ExitCode(execErr)
	if execErr == nil {
		res.Output = pres.Output
	}
	return res, execErr
}

func loadConfig(path, cacheDir string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &state.ConfigFailureError{Code: "ConfigLoad", Message: err.Error(), Cause: err}
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	return cfg, nil
}

func finishRun(st *state.Store, rec *state.FailureRecorder, runID string, pres *pipeline.Result, runErr error) error {
	if pres == nil {
		return rec.FinishRun(runID, trace.StageTrace{}, "", runErr)
	}
	if pres.Descriptor != nil {
		if run, err := st.LoadRun(runID); err == nil {
			run.MinecraftVersion = pres.Descriptor.MinecraftVersion
			_ = st.SaveRun(run)
		}
	}
	return rec.FinishRun(runID, pres.Trace, pres.Output, runErr)
}

func writeTrace(path string, pres *pipeline.Result) error {
	data, err := pres.Trace.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
