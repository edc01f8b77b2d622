package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consoleLogger(module, level string, buf *bytes.Buffer) *Logger {
	return newWith(module, level, buf, "console")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		" error ": LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

// TestLevelGate writes one entry per severity at every minimum level and
// checks exactly the entries at or above the minimum come out.
func TestLevelGate(t *testing.T) {
	emit := []struct {
		level Level
		fn    func(l *Logger, msg string)
	}{
		{LevelDebug, func(l *Logger, msg string) { l.Debug("gate", msg) }},
		{LevelInfo, func(l *Logger, msg string) { l.Info("gate", msg) }},
		{LevelWarn, func(l *Logger, msg string) { l.Warnf("gate", "%s", msg) }},
		{LevelError, func(l *Logger, msg string) { l.Errorf("gate", "%s", msg) }},
	}

	for _, minimum := range []string{"debug", "info", "warn", "error"} {
		t.Run(minimum, func(t *testing.T) {
			for _, e := range emit {
				var buf bytes.Buffer
				l := newWith("gate", minimum, &buf, "json")
				e.fn(l, "session 42 swept")

				if e.level < parseLevel(minimum) {
					assert.Zero(t, buf.Len(), "level %d must be dropped at %s", e.level, minimum)
					continue
				}
				var entry map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "level %d at %s", e.level, minimum)
				assert.Equal(t, "session 42 swept", entry["message"])
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := consoleLogger("service", "error", &buf)

	l.Info("sanitize", "hidden")
	assert.Zero(t, buf.Len())

	l.SetLevel("debug")
	l.Debug("sanitize", "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	consoleLogger("api", "debug", &buf).Infof("listen", "listening on %s", "127.0.0.1:8000")

	out := buf.String()
	for _, want := range []string{"INF", "listening on 127.0.0.1:8000", "action=listen", "module=API"} {
		assert.Contains(t, out, want)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newWith("service", "debug", &buf, "json")
	l.Warnf("session_sweep", "removed %d", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "SERVICE", entry["module"])
	assert.Equal(t, "session_sweep", entry["action"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "removed 3", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestConfigure(t *testing.T) {
	t.Cleanup(func() { Configure(os.Stderr, "console") })

	var buf bytes.Buffer
	Configure(&buf, "JSON")
	New("store", "info").Info("open", "sessions.db")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "STORE", entry["module"])

	buf.Reset()
	Configure(nil, "console")
	New("store", "info").Info("open", "kept writer")
	assert.Contains(t, buf.String(), "kept writer")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Errorf("x", "dropped %d", 1) })
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Infof("x", "y %d", 1) })
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("Warning"))
	assert.True(t, ValidLevel("debug"))
	assert.False(t, ValidLevel("verbose"))
}
