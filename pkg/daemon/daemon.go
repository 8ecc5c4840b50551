// Package daemon manages the server process lifecycle through a pid file:
// writing it on startup, probing whether the recorded process is still
// alive, and stopping it with SIGTERM.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotRunning is returned when no live daemon is recorded in the pid file.
var ErrNotRunning = errors.New("daemon: not running")

// PidFileName is the pid file's name under the base directory.
const PidFileName = "isearch.pid"

// PidFile returns the pid file path for a base directory.
func PidFile(baseDir string) string {
	return filepath.Join(baseDir, PidFileName)
}

// WritePid records the current process in the base directory's pid file. It
// refuses to overwrite the pid of another live process.
func WritePid(baseDir string) error {
	path := PidFile(baseDir)
	if pid, err := ReadPid(baseDir); err == nil && pid != os.Getpid() && Alive(pid) {
		return fmt.Errorf("daemon: already running with pid %d", pid)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("daemon: create base dir: %w", err)
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	return nil
}

// ReadPid returns the pid recorded in the base directory's pid file.
// A missing or unreadable file yields ErrNotRunning.
func ReadPid(baseDir string) (int, error) {
	data, err := os.ReadFile(PidFile(baseDir))
	if err != nil {
		return 0, ErrNotRunning
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// RemovePid deletes the pid file. A missing file is not an error.
func RemovePid(baseDir string) error {
	err := os.Remove(PidFile(baseDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove pid file: %w", err)
	}
	return nil
}

// Alive reports whether the process exists. Signal 0 probes without
// delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// A zombie or a process owned by another user still exists.
	return errors.Is(err, syscall.EPERM)
}

// Status returns the recorded pid if the daemon is alive. A pid file whose
// process is gone yields ErrNotRunning.
func Status(baseDir string) (int, error) {
	pid, err := ReadPid(baseDir)
	if err != nil {
		return 0, err
	}
	if !Alive(pid) {
		return 0, ErrNotRunning
	}
	return pid, nil
}

// Stop sends SIGTERM to the recorded daemon. The daemon removes its own pid
// file during shutdown.
func Stop(baseDir string) (int, error) {
	pid, err := Status(baseDir)
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("daemon: find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return 0, fmt.Errorf("daemon: signal %d: %w", pid, err)
	}
	return pid, nil
}
