package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	lvl, err = ParseLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "trace", false))

	Debug(Harness, "hidden debug line")
	assert.NotContains(t, buf.String(), "hidden debug line")

	EnableModule(Harness)
	defer DisableModule(Harness)
	Debug(Harness, "visible debug line", "test", "a/b/c")
	assert.Contains(t, buf.String(), "visible debug line")
	assert.Contains(t, buf.String(), "a/b/c")

	Info(Reader, "info is never filtered")
	assert.Contains(t, buf.String(), "info is never filtered")
}

func TestJSONHandler(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "info", true))
	Warn(RunState, "store degraded", "path", "x.state")
	assert.Contains(t, buf.String(), `"msg":"store degraded"`)
	assert.Contains(t, buf.String(), `"mod":"runstate"`)
}
