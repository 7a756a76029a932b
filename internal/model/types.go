// Package model defines the shared data types of the tunnel daemon:
// profiles, tunnel states, authentication exchanges, and wire events.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AuthType selects how the daemon authenticates the SSH session.
type AuthType string

const (
	AuthKey             AuthType = "key"
	AuthPassword        AuthType = "password"
	AuthPasswordWith2FA AuthType = "passwordwith2fa"
)

// ForwardingType is the shape of port forwarding a profile requests.
// Only local forwarding is wired; remote and dynamic are schema-valid
// but fail at start time.
type ForwardingType string

const (
	ForwardLocal   ForwardingType = "local"
	ForwardRemote  ForwardingType = "remote"
	ForwardDynamic ForwardingType = "dynamic"
)

// TunnelState is the lifecycle state of a running tunnel.
type TunnelState string

const (
	StateNotConnected   TunnelState = "not_connected"
	StateConnecting     TunnelState = "connecting"
	StateWaitingForAuth TunnelState = "waiting_for_auth"
	StateConnected      TunnelState = "connected"
	StateDisconnecting  TunnelState = "disconnecting"
	StateDisconnected   TunnelState = "disconnected"
	StateReconnecting   TunnelState = "reconnecting"
	StateFailed         TunnelState = "failed"
)

// TunnelStatus pairs a state with the failure reason when State is
// StateFailed.
type TunnelStatus struct {
	State  TunnelState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

func (s TunnelStatus) IsConnected() bool { return s.State == StateConnected }

func (s TunnelStatus) IsInProgress() bool {
	switch s.State {
	case StateConnecting, StateWaitingForAuth, StateDisconnecting, StateReconnecting:
		return true
	}
	return false
}

// AuthKind is the kind of credential an AuthRequest asks for.
type AuthKind string

const (
	AuthKindKeyPassphrase       AuthKind = "key_passphrase"
	AuthKindPassword            AuthKind = "password"
	AuthKindKeyboardInteractive AuthKind = "keyboard_interactive"
	AuthKindHostKeyConfirmation AuthKind = "host_key_confirmation"
)

// AuthRequest is an interactive credential prompt sent from a tunnel
// task to clients. Prompt carries server-supplied text verbatim.
type AuthRequest struct {
	TunnelID uuid.UUID `json:"tunnel_id"`
	Kind     AuthKind  `json:"kind"`
	Prompt   string    `json:"prompt"`
	Hidden   bool      `json:"hidden"`
}

// AuthResponse is a client's answer to a pending AuthRequest. An empty
// Value cancels the prompt.
type AuthResponse struct {
	TunnelID uuid.UUID `json:"tunnel_id"`
	Value    string    `json:"value"`
}

// TunnelStatusResponse is the per-tunnel record served by the control
// API.
type TunnelStatusResponse struct {
	ID          uuid.UUID    `json:"id"`
	Status      TunnelStatus `json:"status"`
	PendingAuth *AuthRequest `json:"pending_auth,omitempty"`
}

// ProfileSourceMode tells the daemon where to find the profile for a
// start request.
type ProfileSourceMode string

const (
	// SourceLocal loads the profile from the daemon's own store.
	SourceLocal ProfileSourceMode = "local"
	// SourceHybrid takes the profile from the request body; key paths
	// are resolved against the daemon's ~/.ssh.
	SourceHybrid ProfileSourceMode = "hybrid"
	// SourceRemote is reserved and answered with 501.
	SourceRemote ProfileSourceMode = "remote"
)

// StartTunnelRequest is the body of POST /api/tunnels/{id}/start.
type StartTunnelRequest struct {
	ProfileID string            `json:"profile_id"`
	Mode      ProfileSourceMode `json:"mode"`
	Profile   *Profile          `json:"profile,omitempty"`
}

// DaemonInfo is served by GET /api/daemon/info.
type DaemonInfo struct {
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	StartedAt      string `json:"started_at"`
	ListenerMode   string `json:"listener_mode"`
	BindHost       string `json:"bind_host,omitempty"`
	BindPort       int    `json:"bind_port,omitempty"`
	SocketPath     string `json:"socket_path,omitempty"`
	RequireAuth    bool   `json:"require_auth"`
	GroupAccess    bool   `json:"group_access"`
	ConfigFilePath string `json:"config_file_path"`
	KnownHostsPath string `json:"known_hosts_path"`
	SSHKeyDir      string `json:"ssh_key_dir"`
	ActiveTunnels  int    `json:"active_tunnels_count"`
	PID            int    `json:"pid"`
	User           string `json:"user"`
}

// EventType discriminates wire events on the SSE stream.
type EventType string

const (
	EventStarting     EventType = "starting"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventAuthRequired EventType = "auth_required"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is one tunnel lifecycle record broadcast on the event bus and
// serialized onto the SSE stream. A zero ID means the event is not tied
// to a tunnel (heartbeats).
type Event struct {
	Type      EventType    `json:"type"`
	ID        uuid.UUID    `json:"id,omitzero"`
	Reason    string       `json:"reason,omitempty"`
	Error     string       `json:"error,omitempty"`
	Request   *AuthRequest `json:"request,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitzero"`
}

// Terminal reports whether the event ends a tunnel's lifecycle.
func (e Event) Terminal() bool {
	return e.Type == EventDisconnected || e.Type == EventError
}
