// Package appconfig resolves the application's file locations and
// loads the daemon and client configuration files.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppName names the config and runtime subdirectories.
const AppName = "ssh-tunnel-manager"

// ConfigDir returns the application config directory.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/ssh-tunnel-manager.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// RuntimeDir returns $XDG_RUNTIME_DIR/ssh-tunnel-manager.
func RuntimeDir() (string, error) {
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtime, AppName), nil
}

// SocketPath returns the Unix control socket path.
func SocketPath() (string, error) {
	d, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, AppName+".sock"), nil
}

// PidFilePath returns the daemon.pid path.
func PidFilePath() (string, error) {
	d, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "daemon.pid"), nil
}

// ProfilesDir returns the profile store directory.
func ProfilesDir() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "profiles"), nil
}

// SnippetPath returns the CLI config snippet path.
func SnippetPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "cli-config.snippet"), nil
}

// ClientConfigPath returns the cli.toml path.
func ClientConfigPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "cli.toml"), nil
}
