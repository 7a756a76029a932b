package appconfig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ConnectionMode selects the client-to-daemon transport.
type ConnectionMode string

const (
	ConnectUnixSocket ConnectionMode = "unix-socket"
	ConnectHTTP       ConnectionMode = "http"
	ConnectHTTPS      ConnectionMode = "https"
)

// ClientConfig is cli.toml: how the CLI reaches the daemon.
type ClientConfig struct {
	ConnectionMode     ConnectionMode `toml:"connection_mode"`
	SocketPath         string         `toml:"socket_path,omitempty"`
	DaemonHost         string         `toml:"daemon_host,omitempty"`
	DaemonPort         int            `toml:"daemon_port,omitempty"`
	AuthToken          string         `toml:"auth_token,omitempty"`
	TLSCertFingerprint string         `toml:"tls_cert_fingerprint,omitempty"`
}

// DefaultClientConfig targets the local unix socket.
func DefaultClientConfig() (ClientConfig, error) {
	sock, err := SocketPath()
	if err != nil {
		return ClientConfig{}, err
	}
	return ClientConfig{
		ConnectionMode: ConnectUnixSocket,
		SocketPath:     sock,
		DaemonHost:     "127.0.0.1",
		DaemonPort:     3443,
	}, nil
}

// LoadClientConfig reads cli.toml, falling back to defaults when the
// file is missing.
func LoadClientConfig() (ClientConfig, error) {
	path, err := ClientConfigPath()
	if err != nil {
		return ClientConfig{}, err
	}
	cfg, err := DefaultClientConfig()
	if err != nil {
		return ClientConfig{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return ClientConfig{}, fmt.Errorf("read client config: %w", err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the client config is complete enough to connect.
func (c ClientConfig) Validate() error {
	switch c.ConnectionMode {
	case ConnectUnixSocket:
		if c.SocketPath == "" {
			return fmt.Errorf("socket_path is required for unix-socket mode")
		}
	case ConnectHTTP, ConnectHTTPS:
		if c.DaemonHost == "" {
			return fmt.Errorf(
				"daemon_host is required for %s mode but is empty; the daemon listens on all interfaces, supply its reachable address",
				c.ConnectionMode)
		}
		if c.DaemonPort <= 0 {
			return fmt.Errorf("daemon_port is required for %s mode", c.ConnectionMode)
		}
		if c.ConnectionMode == ConnectHTTPS && c.TLSCertFingerprint == "" {
			return fmt.Errorf("tls_cert_fingerprint is required for https mode")
		}
	default:
		return fmt.Errorf("unknown connection_mode %q", c.ConnectionMode)
	}
	return nil
}
