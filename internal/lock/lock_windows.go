//go:build windows

package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// tryLock locks one byte far past the recorded holder, so Inspect can still
// read the file while it is held.
func tryLock(f *os.File) (bool, error) {
	ol := &windows.Overlapped{Offset: ^uint32(0)}
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return false, nil
	}
	return err == nil, err
}

// release closes the handle before removing the file, since Windows will
// not delete an open file. A run that opened it meanwhile keeps it in place.
func release(f *os.File, path string) error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	_ = os.Remove(path)
	return nil
}
