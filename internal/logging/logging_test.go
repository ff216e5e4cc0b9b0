package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewFile_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ciwarden.log")
	logger, closeFn, err := NewFile(path, "info")
	require.NoError(t, err)

	logger.Info("step finished", RunID("r-1"), Scenario("emergency"), Step("build"))
	logger.Debug("below level")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "step finished", entry["msg"])
	assert.Equal(t, "r-1", entry[KeyRunID])
	assert.Equal(t, "emergency", entry[KeyScenario])
	assert.Equal(t, "build", entry[KeyStep])
	assert.Contains(t, entry, "ts")
}

func TestNewFile_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	for i := 0; i < 2; i++ {
		logger, closeFn, err := NewFile(path, "")
		require.NoError(t, err)
		logger.Info("run")
		require.NoError(t, closeFn())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewObserved(t *testing.T) {
	logger, logs := NewObserved()
	logger.Warn("tolerated failure", Step("test:unit"))
	require.Equal(t, 1, logs.FilterMessage("tolerated failure").Len())
	assert.Equal(t, "test:unit", logs.All()[0].ContextMap()[KeyStep])
}
