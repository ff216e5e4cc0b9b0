// Package lock provides a single-writer lease over a working tree, held as
// an OS lock on a lock file that also records the holder.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLocked is returned when a live process already holds the lease.
var ErrLocked = errors.New("working tree is locked by another run")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockedError wraps ErrLocked with the current holder.
type LockedError struct {
	Path   string
	Holder Holder
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: held by PID %d since %s", ErrLocked, e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// Lease is a held lock. Release it with a deferred call.
type Lease struct {
	path   string
	holder Holder
	file   *os.File
	once   sync.Once
	err    error
}

// Acquire takes the lease at path. The lease is an OS file lock held until
// Release or process exit, so a lock file left behind by a process that
// exited is simply reused. A lease held elsewhere fails with ErrLocked.
func Acquire(path string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	host, _ := os.Hostname()
	holder := Holder{PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC()}
	data, err := json.Marshal(holder)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening lock: %w", err)
		}
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if !ok {
			f.Close()
			current, _, _ := Inspect(path)
			return nil, &LockedError{Path: path, Holder: current}
		}
		current, err := isCurrent(f, path)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("checking lock: %w", err)
		}
		if !current {
			// The previous holder removed the file between our open and lock.
			f.Close()
			continue
		}
		if err := writeHolder(f, data); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing lock: %w", err)
		}
		return &Lease{path: path, holder: holder, file: f}, nil
	}
	return nil, fmt.Errorf("%w: lock at %s keeps being replaced", ErrLocked, path)
}

// isCurrent reports whether f is still the file at path.
func isCurrent(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	onDisk, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return os.SameFile(held, onDisk), nil
}

func writeHolder(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// Inspect reports the holder recorded at path, if any. A recorded holder
// is not necessarily live; use Held for that.
func Inspect(path string) (Holder, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, true, fmt.Errorf("decoding lock %s: %w", path, err)
	}
	return h, true, nil
}

// Held reports whether a live lease holds path, along with the holder
// recorded in the lock file. The check takes the lock for an instant, so
// an Acquire racing with it may see ErrLocked.
func Held(path string) (Holder, bool, error) {
	h, exists, err := Inspect(path)
	if !exists {
		return Holder{}, false, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return h, false, err
	}
	defer f.Close()
	ok, err := tryLock(f)
	if err != nil {
		return h, false, err
	}
	return h, !ok, nil
}

// Path returns the lock file location.
func (l *Lease) Path() string { return l.path }

// Holder returns the identity written into the lock file.
func (l *Lease) Holder() Holder { return l.holder }

// Release removes the lock file and drops the lock. It is safe to call more
// than once and on a nil Lease.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.err = release(l.file, l.path)
	})
	return l.err
}
