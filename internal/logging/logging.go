// Package logging builds the zap logger handed to every component.
//
// Components never reach for a global logger; they take a *zap.Logger and
// treat nil as "discard".
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var isTerminal = term.IsTerminal

// Options selects the encoder and level.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Verbose forces debug regardless of Level.
	Verbose bool
	// JSON selects the production JSON encoder instead of the console one.
	JSON bool
	// OutputPaths defaults to stderr.
	OutputPaths []string
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
	}

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}
	// Colors only for a console encoder writing straight to a terminal.
	if !opts.JSON && len(cfg.OutputPaths) == 1 && cfg.OutputPaths[0] == "stderr" && isTerminal(int(os.Stderr.Fd())) {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Timer logs msg with the elapsed duration when the returned func is called.
//
//	defer logging.Timer(log, "Decompiling sources")()
func Timer(l *zap.Logger, msg string, fields ...zap.Field) func() {
	l = OrNop(l)
	start := time.Now()
	return func() {
		l.Info(msg, append(fields, zap.Duration("took", time.Since(start)))...)
	}
}
