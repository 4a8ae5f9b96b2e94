package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.SetLogLevel(WARNING)

	l.Info("hidden", nil)
	l.Warn("shown", map[string]interface{}{"speaker_id": "alice"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "speaker_id=alice")
}

func TestLoggerDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Enable(false)
	l.Error("nothing", nil)
	assert.Empty(t, buf.String())
}

func TestLoggerFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatalf("boom %d", 1)
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "boom 1")
}

func TestLoggerWritesJSONToFile(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	path := filepath.Join(t.TempDir(), "logs", "test.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)

	l.mu.Lock()
	l.file = f
	l.rebuild()
	l.mu.Unlock()

	l.Infof("preview ready for %s", "bob")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"))
	assert.Contains(t, line, `"message":"preview ready for bob"`)
	assert.Contains(t, line, `"level":"info"`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARNING, ParseLogLevel("warn"))
	assert.Equal(t, INFO, ParseLogLevel("whatever"))
}
