// Package ledger persists the single record of the last successful run.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/ciwarden/internal/scenario"
)

// Entry is the ledger record. The file holds exactly one.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Scenario  scenario.Key      `json:"scenario"`
	Name      string            `json:"name"`
	Strategy  scenario.Strategy `json:"strategy"`
	Duration  scenario.Duration `json:"duration"`
}

// Ledger reads and overwrites the ledger file.
type Ledger struct {
	path string
	now  func() time.Time
}

// New returns a Ledger stored at path.
func New(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Record overwrites the ledger with s stamped at the current time. The file
// is replaced atomically so a reader never sees a partial record.
func (l *Ledger) Record(s scenario.Scenario) error {
	e := Entry{
		Timestamp: l.now().UTC(),
		Scenario:  s.Key,
		Name:      s.Name,
		Strategy:  s.Strategy,
		Duration:  s.Duration,
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("creating ledger temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// Read returns the current entry. A missing file returns (nil, nil).
func (l *Ledger) Read() (*Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding ledger %s: %w", l.path, err)
	}
	if e.Timestamp.IsZero() {
		return nil, fmt.Errorf("ledger %s has no timestamp", l.path)
	}
	return &e, nil
}

// LastRunAgeHours returns the hours since the recorded run. A missing,
// unreadable or malformed ledger yields +Inf, which is past any threshold.
func (l *Ledger) LastRunAgeHours() float64 {
	e, err := l.Read()
	if err != nil || e == nil {
		return math.Inf(1)
	}
	age := l.now().Sub(e.Timestamp).Hours()
	if age < 0 {
		return 0
	}
	return age
}
