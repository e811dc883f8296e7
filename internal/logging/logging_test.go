package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = parseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	l, err := New(Options{Level: "error", Verbose: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestTimer_LogsDuration(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	done := Timer(zap.New(core), "Mapping Class Names")
	done()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Mapping Class Names", entry.Message)
	_, ok := entry.ContextMap()["took"]
	assert.True(t, ok)
}

func TestNew_ConsoleWithoutTerminalHasNoColors(t *testing.T) {
	prev := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = prev })

	path := filepath.Join(t.TempDir(), "crusty.log")
	l, err := New(Options{OutputPaths: []string{path}})
	require.NoError(t, err)
	l.Warn("Some fields have no intermediary descriptor")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WARN")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
