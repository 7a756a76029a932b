// Package pidfile keeps a single daemon instance per runtime directory
// via a pid file guard.
package pidfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Guard owns the daemon.pid file for the lifetime of the process.
// Release removes it on graceful exit; stale files left by a crash are
// tolerated and cleaned up by the next start.
type Guard struct {
	path string
}

// Acquire checks for a live daemon holding path and, if none, writes
// the current pid there. A live owning process is a hard error.
func Acquire(path string) (*Guard, error) {
	if b, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(b))
		if pid, perr := strconv.Atoi(pidStr); perr == nil && processAlive(pid) {
			return nil, fmt.Errorf(
				"another instance is running with pid %d; stop it first or remove %s if it is stale",
				pid, path)
		}
		slog.Warn("removing stale pid file", "path", path, "pid", pidStr)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale pid file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create runtime directory: %w", err)
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	slog.Info("created pid file", "path", path, "pid", pid)
	return &Guard{path: path}, nil
}

// Release removes the pid file. Best effort; a failure only warrants a
// warning because stale files are tolerated.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove pid file", "path", g.path, "error", err)
		return
	}
	slog.Debug("removed pid file", "path", g.path)
}

// processAlive probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
