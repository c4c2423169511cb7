package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":  DebugLevel,
		"INFO":   InfoLevel,
		"":       InfoLevel,
		"notice": NoticeLevel,
		"Error":  ErrorLevel,
	}
	for name, expected := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestStdLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(log.New(&buf, "", 0), NoticeLevel)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Notice("shown %d", 3)
	l.ErrorWithChain(10, "failed on %s", "optimism")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[NOTICE] shown 3")
	assert.Contains(t, out, "[ERROR]  [OP]   failed on optimism")
}

func TestUnknownChainHasNoPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(log.New(&buf, "", 0), DebugLevel)
	l.InfoWithChain(99999, "plain")
	assert.Equal(t, "[INFO]   plain\n", buf.String())
}

func TestRegisterChainTag(t *testing.T) {
	RegisterChainTag(31337, "anvil")
	RegisterChainTag(10, "optimism")

	var buf bytes.Buffer
	l := NewStdLoggerTo(log.New(&buf, "", 0), DebugLevel)
	l.InfoWithChain(31337, "local")
	l.InfoWithChain(10, "kept")

	assert.Contains(t, buf.String(), "[INFO]   [ANVIL]local")
	assert.Contains(t, buf.String(), "[INFO]   [OP]   kept")
}
