//go:build !windows

package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes an exclusive flock on f without blocking. It reports false
// when another open file holds it.
func tryLock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return err == nil, err
}

// release unlinks path while still holding the lock, so a run that opened
// the old file sees it is no longer current once it gets the lock.
func release(f *os.File, path string) error {
	rerr := os.Remove(path)
	cerr := f.Close()
	if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return fmt.Errorf("releasing lock: %w", rerr)
	}
	if cerr != nil {
		return fmt.Errorf("releasing lock: %w", cerr)
	}
	return nil
}
