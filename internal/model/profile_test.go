package model

import (
	"strings"
	"testing"
)

func valid() *Profile {
	return NewProfile("p",
		ConnectionConfig{
			Host:     "ssh.example",
			Port:     22,
			User:     "u",
			AuthType: AuthKey,
			KeyPath:  "/home/u/.ssh/id_ed25519",
		},
		ForwardingConfig{
			Type:       ForwardLocal,
			LocalPort:  18080,
			RemoteHost: "10.0.0.5",
			RemotePort: 80,
		},
	)
}

func TestValidateAcceptsGoodProfile(t *testing.T) {
	if err := valid().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Profile)
		want   string
	}{
		{"empty name", func(p *Profile) { p.Name = " " }, "name"},
		{"empty host", func(p *Profile) { p.Connection.Host = "" }, "host"},
		{"empty user", func(p *Profile) { p.Connection.User = "" }, "user"},
		{"port zero", func(p *Profile) { p.Connection.Port = 0 }, "port"},
		{"port too high", func(p *Profile) { p.Connection.Port = 70000 }, "port"},
		{"key auth without key", func(p *Profile) { p.Connection.KeyPath = "" }, "key_path"},
		{"bad auth type", func(p *Profile) { p.Connection.AuthType = "carrier-pigeon" }, "auth_type"},
		{"local port zero", func(p *Profile) { p.Forwarding.LocalPort = 0 }, "local_port"},
		{"empty remote host", func(p *Profile) { p.Forwarding.RemoteHost = "" }, "remote_host"},
		{"remote port zero", func(p *Profile) { p.Forwarding.RemotePort = 0 }, "remote_port"},
		{"bad forward type", func(p *Profile) { p.Forwarding.Type = "sideways" }, "forwarding"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.mutate(p)
			err := p.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestPasswordAuthNeedsNoKey(t *testing.T) {
	p := valid()
	p.Connection.AuthType = AuthPassword
	p.Connection.KeyPath = ""
	if err := p.Validate(); err != nil {
		t.Fatalf("password auth should not require a key: %v", err)
	}
}

func TestDynamicForwardingNeedsOnlyLocalPort(t *testing.T) {
	p := valid()
	p.Forwarding = ForwardingConfig{Type: ForwardDynamic, LocalPort: 1080}
	if err := p.Validate(); err != nil {
		t.Fatalf("dynamic forwarding validation: %v", err)
	}
}

func TestExpandedKeyPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	p := valid()
	p.Connection.KeyPath = "~/.ssh/id_ed25519"
	got, err := p.ExpandedKeyPath()
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != "/home/tester/.ssh/id_ed25519" {
		t.Fatalf("expanded to %q", got)
	}

	p.Connection.KeyPath = "relative/key"
	if _, err := p.ExpandedKeyPath(); err == nil {
		t.Fatal("relative key path must be rejected")
	}
}

func TestBindAddrDefault(t *testing.T) {
	f := ForwardingConfig{}
	if f.BindAddr() != "127.0.0.1" {
		t.Fatalf("default bind %q", f.BindAddr())
	}
	f.BindAddress = "0.0.0.0"
	if f.BindAddr() != "0.0.0.0" {
		t.Fatalf("explicit bind %q", f.BindAddr())
	}
}

func TestStatusPredicates(t *testing.T) {
	if !(TunnelStatus{State: StateConnected}).IsConnected() {
		t.Fatal("connected should report connected")
	}
	for _, s := range []TunnelState{StateConnecting, StateWaitingForAuth, StateDisconnecting, StateReconnecting} {
		if !(TunnelStatus{State: s}).IsInProgress() {
			t.Fatalf("%s should be in progress", s)
		}
	}
	if (TunnelStatus{State: StateFailed, Reason: "x"}).IsInProgress() {
		t.Fatal("failed is not in progress")
	}
}
