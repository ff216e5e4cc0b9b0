package ledger

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/ciwarden/internal/scenario"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "logs", "last-maintenance.json"))
}

func TestRecord_FreshAgeUnderOneHour(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Record(scenario.MustGet(scenario.Maintenance)))

	age := l.LastRunAgeHours()
	assert.Less(t, age, 1.0)
	assert.GreaterOrEqual(t, age, 0.0)
}

func TestLastRunAgeHours_DeletedFileIsOverdue(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Record(scenario.MustGet(scenario.Incremental)))
	require.NoError(t, os.Remove(l.Path()))

	age := l.LastRunAgeHours()
	assert.Greater(t, age, 24.0)
	assert.True(t, math.IsInf(age, 1))
}

func TestLastRunAgeHours_Corrupt(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path()), 0o755))
	require.NoError(t, os.WriteFile(l.Path(), []byte("{not json"), 0o644))

	assert.True(t, math.IsInf(l.LastRunAgeHours(), 1))
	_, err := l.Read()
	assert.Error(t, err)
}

func TestLastRunAgeHours_UsesClock(t *testing.T) {
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	require.NoError(t, l.Record(scenario.MustGet(scenario.Cleanup)))

	l.now = func() time.Time { return base.Add(30 * time.Hour) }
	assert.InDelta(t, 30.0, l.LastRunAgeHours(), 1e-9)

	l.now = func() time.Time { return base.Add(-time.Hour) }
	assert.Equal(t, 0.0, l.LastRunAgeHours())
}

func TestRecord_OverwritesWithSingleEntry(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Record(scenario.MustGet(scenario.FirstRun)))
	require.NoError(t, l.Record(scenario.MustGet(scenario.Emergency)))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "emergency", raw["scenario"])
	assert.Equal(t, "emergency-fix", raw["strategy"])
	assert.Equal(t, "short", raw["duration"])
	_, err = time.Parse(time.RFC3339, raw["timestamp"].(string))
	assert.NoError(t, err)

	e, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, scenario.Emergency, e.Scenario)

	entries, err := os.ReadDir(filepath.Dir(l.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
}

func TestRead_Missing(t *testing.T) {
	e, err := newTestLedger(t).Read()
	assert.NoError(t, err)
	assert.Nil(t, e)
}
