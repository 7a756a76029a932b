package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is the durable description of a tunnel: SSH endpoint,
// authentication, forwarding shape, and session options. Serialized as
// one TOML file per profile.
type Profile struct {
	ID          uuid.UUID `toml:"id" json:"id"`
	Name        string    `toml:"name" json:"name"`
	Description string    `toml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `toml:"created_at" json:"created_at"`
	ModifiedAt  time.Time `toml:"modified_at" json:"modified_at"`
	Tags        []string  `toml:"tags,omitempty" json:"tags,omitempty"`

	Connection ConnectionConfig `toml:"connection" json:"connection"`
	Forwarding ForwardingConfig `toml:"forwarding" json:"forwarding"`
	Options    TunnelOptions    `toml:"options" json:"options"`
}

// ConnectionConfig describes the SSH endpoint and how to authenticate.
type ConnectionConfig struct {
	Host           string   `toml:"host" json:"host"`
	Port           int      `toml:"port" json:"port"`
	User           string   `toml:"user" json:"user"`
	AuthType       AuthType `toml:"auth_type" json:"auth_type"`
	KeyPath        string   `toml:"key_path,omitempty" json:"key_path,omitempty"`
	PasswordStored bool     `toml:"password_stored" json:"password_stored"`
}

// ForwardingConfig describes the port forwarding a tunnel realizes.
type ForwardingConfig struct {
	Type        ForwardingType `toml:"type" json:"type"`
	BindAddress string         `toml:"bind_address" json:"bind_address"`
	LocalPort   int            `toml:"local_port" json:"local_port"`
	RemoteHost  string         `toml:"remote_host,omitempty" json:"remote_host,omitempty"`
	RemotePort  int            `toml:"remote_port,omitempty" json:"remote_port,omitempty"`
}

// TunnelOptions are session tuning knobs. The reconnect fields are
// persisted but not wired to any runtime behavior; compression, packet
// and window sizes are kept for round-trip fidelity and ignored by the
// transport.
type TunnelOptions struct {
	Compression       bool `toml:"compression" json:"compression"`
	KeepaliveInterval int  `toml:"keepalive_interval_s" json:"keepalive_interval_s"`
	AutoReconnect     bool `toml:"auto_reconnect" json:"auto_reconnect"`
	ReconnectAttempts int  `toml:"reconnect_attempts" json:"reconnect_attempts"`
	ReconnectDelay    int  `toml:"reconnect_delay_s" json:"reconnect_delay_s"`
	TCPKeepalive      bool `toml:"tcp_keepalive" json:"tcp_keepalive"`
	MaxPacketSize     int  `toml:"max_packet_size" json:"max_packet_size"`
	WindowSize        int  `toml:"window_size" json:"window_size"`
}

// DefaultOptions returns the option set applied to new profiles.
func DefaultOptions() TunnelOptions {
	return TunnelOptions{
		KeepaliveInterval: 60,
		AutoReconnect:     true,
		ReconnectAttempts: 3,
		ReconnectDelay:    5,
		MaxPacketSize:     65535,
		WindowSize:        2 * 1024 * 1024,
	}
}

// NewProfile builds a profile with a fresh UUID, timestamps, and
// default options.
func NewProfile(name string, conn ConnectionConfig, fwd ForwardingConfig) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:         uuid.New(),
		Name:       name,
		CreatedAt:  now,
		ModifiedAt: now,
		Connection: conn,
		Forwarding: fwd,
		Options:    DefaultOptions(),
	}
}

// Validate checks the profile invariants: non-empty host/user/name,
// ports in range, key path present for key auth, remote endpoint
// present for local/remote forwarding.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.TrimSpace(p.Connection.Host) == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if strings.TrimSpace(p.Connection.User) == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if p.Connection.Port < 1 || p.Connection.Port > 65535 {
		return fmt.Errorf("port %d out of range (must be 1-65535)", p.Connection.Port)
	}
	switch p.Connection.AuthType {
	case AuthKey:
		if strings.TrimSpace(p.Connection.KeyPath) == "" {
			return fmt.Errorf("key_path required for key authentication")
		}
	case AuthPassword, AuthPasswordWith2FA:
	default:
		return fmt.Errorf("unknown auth_type %q", p.Connection.AuthType)
	}

	switch p.Forwarding.Type {
	case ForwardLocal, ForwardRemote:
		if p.Forwarding.LocalPort < 1 || p.Forwarding.LocalPort > 65535 {
			return fmt.Errorf("local_port %d out of range (must be 1-65535)", p.Forwarding.LocalPort)
		}
		if strings.TrimSpace(p.Forwarding.RemoteHost) == "" {
			return fmt.Errorf("remote_host cannot be empty")
		}
		if p.Forwarding.RemotePort < 1 || p.Forwarding.RemotePort > 65535 {
			return fmt.Errorf("remote_port %d out of range (must be 1-65535)", p.Forwarding.RemotePort)
		}
	case ForwardDynamic:
		if p.Forwarding.LocalPort < 1 || p.Forwarding.LocalPort > 65535 {
			return fmt.Errorf("local_port %d out of range (must be 1-65535)", p.Forwarding.LocalPort)
		}
	default:
		return fmt.Errorf("unknown forwarding type %q", p.Forwarding.Type)
	}
	return nil
}

// ExpandedKeyPath returns the key path with a leading ~/ resolved
// against the current user's home directory. The result must be
// absolute for on-disk profiles.
func (p *Profile) ExpandedKeyPath() (string, error) {
	kp := p.Connection.KeyPath
	if kp == "" {
		return "", nil
	}
	if strings.HasPrefix(kp, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		kp = filepath.Join(home, kp[2:])
	}
	if !filepath.IsAbs(kp) {
		return "", fmt.Errorf("key path must be absolute after expansion: %s", p.Connection.KeyPath)
	}
	return kp, nil
}

// BindAddr returns the local listen address for the forwarding config,
// defaulting the bind address to loopback.
func (f ForwardingConfig) BindAddr() string {
	addr := strings.TrimSpace(f.BindAddress)
	if addr == "" {
		addr = "127.0.0.1"
	}
	return addr
}
