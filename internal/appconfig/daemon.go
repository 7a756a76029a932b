package appconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// ListenerMode selects the daemon's control transport.
type ListenerMode string

const (
	// ListenerUnixSocket serves on a Unix domain socket (local only).
	ListenerUnixSocket ListenerMode = "unix-socket"
	// ListenerTCPHTTP serves plain HTTP, loopback addresses only.
	ListenerTCPHTTP ListenerMode = "tcp-http"
	// ListenerTCPHTTPS serves HTTPS on any address.
	ListenerTCPHTTPS ListenerMode = "tcp-https"
)

// DaemonConfig is daemon.toml.
type DaemonConfig struct {
	ListenerMode   ListenerMode `toml:"listener_mode"`
	BindHost       string       `toml:"bind_host"`
	BindPort       int          `toml:"bind_port"`
	RequireAuth    bool         `toml:"require_auth"`
	GroupAccess    bool         `toml:"group_access"`
	KnownHostsPath string       `toml:"known_hosts_path"`
	TLSCertPath    string       `toml:"tls_cert_path"`
	TLSKeyPath     string       `toml:"tls_key_path"`
	AuthTokenPath  string       `toml:"auth_token_path"`
}

// DefaultDaemonConfig returns the secure defaults: unix socket,
// authentication on, single-user permissions.
func DefaultDaemonConfig() (DaemonConfig, error) {
	dir, err := ConfigDir()
	if err != nil {
		return DaemonConfig{}, err
	}
	return DaemonConfig{
		ListenerMode:   ListenerUnixSocket,
		BindHost:       "127.0.0.1",
		BindPort:       3443,
		RequireAuth:    true,
		GroupAccess:    false,
		KnownHostsPath: filepath.Join(dir, "known_hosts"),
		TLSCertPath:    filepath.Join(dir, "server.crt"),
		TLSKeyPath:     filepath.Join(dir, "server.key"),
		AuthTokenPath:  filepath.Join(dir, "daemon.token"),
	}, nil
}

// DaemonConfigPath returns the daemon.toml path.
func DaemonConfigPath() (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "daemon.toml"), nil
}

// LoadDaemonConfig reads daemon.toml, synthesizing and persisting the
// defaults when the file is missing. The returned config is validated.
func LoadDaemonConfig() (DaemonConfig, error) {
	path, err := DaemonConfigPath()
	if err != nil {
		return DaemonConfig{}, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return DaemonConfig{}, fmt.Errorf("read daemon config: %w", err)
		}
		cfg, derr := DefaultDaemonConfig()
		if derr != nil {
			return DaemonConfig{}, derr
		}
		if err := SaveDaemonConfig(cfg); err != nil {
			return cfg, err
		}
		slog.Info("no daemon configuration found, wrote defaults", "path", path)
		return cfg, nil
	}

	cfg, err := DefaultDaemonConfig()
	if err != nil {
		return DaemonConfig{}, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return DaemonConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

// SaveDaemonConfig writes daemon.toml at 0600.
func SaveDaemonConfig(cfg DaemonConfig) error {
	path, err := DaemonConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialize daemon config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write daemon config: %w", err)
	}
	return nil
}

// Validate refuses the unsafe listener combinations before any socket
// is opened: plain HTTP off loopback, and any network TCP mode without
// authentication.
func (c DaemonConfig) Validate() error {
	switch c.ListenerMode {
	case ListenerUnixSocket:
		return nil
	case ListenerTCPHTTP:
		if !util.IsLoopbackAddress(c.BindHost) {
			return fmt.Errorf(
				"tcp-http mode requires a loopback bind address, got %q: switch listener_mode to tcp-https or bind to 127.0.0.1/localhost",
				c.BindHost)
		}
	case ListenerTCPHTTPS:
	default:
		return fmt.Errorf("unknown listener_mode %q", c.ListenerMode)
	}

	if err := util.ValidatePort(c.BindPort); err != nil {
		return fmt.Errorf("bind_port: %w", err)
	}
	if !c.RequireAuth && !util.IsLoopbackAddress(c.BindHost) {
		return fmt.Errorf(
			"require_auth=false is only allowed on loopback addresses; refusing to serve %q unauthenticated",
			c.BindHost)
	}
	return nil
}
