package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"unknown", INFO}, // 默认值
		{"", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelNames(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelNames[DEBUG])
	assert.Equal(t, "FATAL", LevelNames[FATAL])
}

func TestStructuredLogger_FieldsAndModule(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, "apiclient")

	l.Info("upstream call", "method", "GET", "status", 200)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "upstream call", entries[0].Message)
	assert.Equal(t, "apiclient", entries[0].LoggerName)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.EqualValues(t, 200, fields["status"])
}

func TestStructuredLogger_ErrorCarriesError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, "")

	l.Error("save failed", errors.New("disk full"), "id", "abc")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
	assert.Equal(t, "abc", entries[0].ContextMap()["id"])
}

func TestWithModule_NamesChild(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, "root").WithModule("session")

	l.Warn("sweep")

	require.Len(t, logs.All(), 1)
	assert.Equal(t, "root.session", logs.All()[0].LoggerName)
	assert.Equal(t, "session", l.Module())
}

func TestGlobalFunctions_UseReplacedLogger(t *testing.T) {
	prev := L()
	defer SetGlobal(prev)

	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobal(NewWithCore(core, ""))

	Info("hello", "k", "v")
	Debug("dbg")
	Error("oops", nil)

	require.Len(t, logs.All(), 3)
	assert.Equal(t, "v", logs.All()[0].ContextMap()["k"])
	_, hasErr := logs.All()[2].ContextMap()["error"]
	assert.False(t, hasErr)
}
