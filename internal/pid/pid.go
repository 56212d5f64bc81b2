// Package pid guards against running more than one camwatchd instance
// on a host by maintaining a PID file in the system temp directory.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"codeberg.org/mutker/camwatch/internal/errors"
)

const fileName = "camwatchd.pid"

func path() string {
	return filepath.Join(os.TempDir(), fileName)
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// when a live process already holds the PID file; a stale file left by a
// crashed instance is overwritten.
func Write() error {
	errFactory := errors.New()

	if owner, ok := currentOwner(); ok {
		if owner.Signal(syscall.Signal(0)) == nil {
			return errFactory.New(errors.ErrAlreadyRunning)
		}
	}

	if err := os.WriteFile(path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func Remove() error {
	if err := os.Remove(path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

// currentOwner reads the PID file and resolves the recorded process.
func currentOwner() (*os.Process, bool) {
	raw, err := os.ReadFile(path())
	if err != nil {
		return nil, false
	}

	recorded, err := strconv.Atoi(string(raw))
	if err != nil {
		return nil, false
	}

	process, err := os.FindProcess(recorded)
	if err != nil {
		return nil, false
	}

	return process, true
}
