// Package permissions hardens the daemon's on-disk footprint: process
// umask, private file modes, and runtime directory/socket modes.
package permissions

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// SetRestrictiveUmask sets the process file-creation mask to 0077 so
// any file the daemon creates is owner-only by default. Call before
// creating any file.
func SetRestrictiveUmask() {
	syscall.Umask(0o077)
	slog.Debug("set restrictive umask", "umask", "0077")
}

// SetFilePrivate chmods path to 0600.
func SetFilePrivate(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("set permissions on %s: %w", path, err)
	}
	return nil
}

// DirMode returns the runtime/config directory mode for the group
// access setting: 0700 by default, 0770 when shared with a group.
func DirMode(groupAccess bool) os.FileMode {
	if groupAccess {
		return 0o770
	}
	return 0o700
}

// SocketMode returns the Unix control-socket mode: 0600 by default,
// 0660 when shared with a group.
func SocketMode(groupAccess bool) os.FileMode {
	if groupAccess {
		return 0o660
	}
	return 0o600
}

// EnsureDir creates path if needed and enforces its mode per the group
// access setting.
func EnsureDir(path string, groupAccess bool) error {
	mode := DirMode(groupAccess)
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	// MkdirAll applies the umask; enforce the intended mode explicitly.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("set permissions on %s: %w", path, err)
	}
	return nil
}

// SetSocketPrivate chmods a bound Unix socket per the group access
// setting.
func SetSocketPrivate(path string, groupAccess bool) error {
	if err := os.Chmod(path, SocketMode(groupAccess)); err != nil {
		return fmt.Errorf("set permissions on %s: %w", path, err)
	}
	return nil
}
