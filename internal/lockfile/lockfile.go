// Package lockfile keeps two runs of the same pipeline from writing to one
// data directory at the same time.
//
// Locks are flock-based and are released by the kernel when the process
// exits, gracefully or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockSuffix is appended to the pipeline name to form the lock file name.
const LockSuffix = ".lock"

// FileName returns the lock file name for a pipeline, e.g. "casegen.lock".
func FileName(pipeline string) string {
	return pipeline + LockSuffix
}

// Lock represents an active pipeline lock
type Lock struct {
	file     *os.File
	path     string
	pipeline string
	acquired bool
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// AcquireLock takes an exclusive lock for pipeline inside dataDir. If another
// process holds it, the returned *LockError describes that process.
func AcquireLock(dataDir, pipeline string) (*Lock, error) {
	lockPath := filepath.Join(dataDir, FileName(pipeline))
	slog.Debug("AcquireLock: attempting", "lock_path", lockPath, "pipeline", pipeline)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	// O_TRUNC is deferred until the flock succeeds so a running holder's pid survives.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		info := readExistingLockInfo(lockPath)
		slog.Error("AcquireLock: another run holds the lock", "error", err, "lock_path", lockPath, "existing_lock_info", info)
		return nil, &LockError{
			Pipeline:     pipeline,
			LockPath:     lockPath,
			ExistingInfo: info,
			Cause:        err,
		}
	}

	if err := writeOwner(file, pipeline); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: acquired", "lock_path", lockPath, "pipeline", pipeline, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, pipeline: pipeline, acquired: true}, nil
}

func writeOwner(file *os.File, pipeline string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("pid=%d\npipeline=%s\n", os.Getpid(), pipeline)), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("AcquireLock: failed to sync lock file", "error", err, "path", file.Name())
	}
	return nil
}

// Release drops the lock and removes the lock file. Calling it more than
// once is a no-op.
func (l *Lock) Release() error {
	if l == nil || !l.acquired || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("Lock.Release: released", "lock_path", l.path, "pipeline", l.pipeline)
	return nil
}

// LockError is returned when another process already holds the lock.
type LockError struct {
	Pipeline     string
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another %s run is already using this data directory (lock file: %s)", e.Pipeline, e.LockPath)
	if e.ExistingInfo != "" {
		msg += "; existing process: " + e.ExistingInfo
	}
	return msg + "; remove the lock file only if no other run is active"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func readExistingLockInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "lock file exists but contains no process information"
	}
	if pid := extractPID(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running - stale lock)", pid)
	}
	return "process information: " + content
}

func extractPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
