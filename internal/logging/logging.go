// Package logging builds the structured run log written alongside the
// console output.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Field keys shared by every package that logs run progress.
const (
	KeyRunID    = "run_id"
	KeyScenario = "scenario"
	KeyStrategy = "strategy"
	KeyStep     = "step"
)

// RunID tags entries with the run they belong to.
func RunID(id string) zap.Field { return zap.String(KeyRunID, id) }

// Scenario tags entries with the selected scenario key.
func Scenario(key string) zap.Field { return zap.String(KeyScenario, key) }

// Strategy tags entries with the executing strategy.
func Strategy(name string) zap.Field { return zap.String(KeyStrategy, name) }

// Step tags entries with the step name.
func Step(name string) zap.Field { return zap.String(KeyStep, name) }

// newEncoder creates the JSON encoder used for the run log.
func newEncoder() zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderCfg)
}

// ParseLevel maps a config string to a zap level. Unknown values are errors.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewFile opens (appending) the JSON run log at path. The returned close
// function syncs and closes the file.
func NewFile(path, level string) (*zap.Logger, func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run log: %w", err)
	}

	core := zapcore.NewCore(newEncoder(), zapcore.AddSync(f), lvl)
	logger := zap.New(core)
	closeFn := func() error {
		_ = logger.Sync()
		return f.Close()
	}
	return logger, closeFn, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *zap.Logger { return zap.NewNop() }

// NewObserved returns a logger whose entries can be inspected in tests.
func NewObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}
