package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextLogger checks that scoped loggers travel through a context and fall back to the global one.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "backup")
	ctx = WithKV(ctx, "slot", "a")
	InfoKV(ctx, "captured", "partition", "boot_a")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "backup", entries[0].LoggerName)
	require.Equal(t, "a", entries[0].ContextMap()["slot"])
	require.Equal(t, "boot_a", entries[0].ContextMap()["partition"])

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestNewPlainOutput checks that a non-terminal writer gets uncolored levels and named loggers.
func TestNewPlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	l := New(zapcore.DebugLevel, &buf).Named("flash")
	l.Infow("written", "partition", "boot_b")

	out := buf.String()
	require.Contains(t, out, "INFO")
	require.Contains(t, out, "flash")
	require.Contains(t, out, `{"partition": "boot_b"}`)
	require.NotContains(t, out, "\x1b[")
}
