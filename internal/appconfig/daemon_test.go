package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func baseConfig(t *testing.T) DaemonConfig {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := DefaultDaemonConfig()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	return cfg
}

func TestValidateListenerCombinations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*DaemonConfig)
		wantErr string
	}{
		{"unix socket ok", func(c *DaemonConfig) { c.ListenerMode = ListenerUnixSocket }, ""},
		{"http loopback ok", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTP
			c.BindHost = "127.0.0.1"
		}, ""},
		{"http localhost ok", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTP
			c.BindHost = "localhost"
		}, ""},
		{"http wildcard refused", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTP
			c.BindHost = "0.0.0.0"
		}, "loopback"},
		{"http lan refused", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTP
			c.BindHost = "192.168.1.10"
		}, "loopback"},
		{"https wildcard ok", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTPS
			c.BindHost = "0.0.0.0"
		}, ""},
		{"https no auth off loopback refused", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTPS
			c.BindHost = "0.0.0.0"
			c.RequireAuth = false
		}, "require_auth"},
		{"https no auth on loopback ok", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTPS
			c.BindHost = "127.0.0.1"
			c.RequireAuth = false
		}, ""},
		{"bad port", func(c *DaemonConfig) {
			c.ListenerMode = ListenerTCPHTTPS
			c.BindPort = 0
		}, "out of range"},
		{"unknown mode", func(c *DaemonConfig) { c.ListenerMode = "carrier-pigeon" }, "listener_mode"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadWritesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := LoadDaemonConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenerMode != ListenerUnixSocket || !cfg.RequireAuth {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	path, _ := DaemonConfigPath()
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("defaults not persisted: %v", err)
	}
	if mode := st.Mode().Perm(); mode != 0o600 {
		t.Fatalf("daemon.toml mode %o, want 0600", mode)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := DefaultDaemonConfig()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.ListenerMode = ListenerTCPHTTPS
	cfg.BindHost = "0.0.0.0"
	cfg.BindPort = 4443
	if err := SaveDaemonConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadDaemonConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ListenerMode != ListenerTCPHTTPS || loaded.BindPort != 4443 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestSnippetForHTTPS(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, _ := DefaultDaemonConfig()
	cfg.ListenerMode = ListenerTCPHTTPS
	cfg.BindHost = "10.1.2.3"
	cfg.BindPort = 3443

	path, err := WriteCLISnippet(cfg, "tok-123", "aa:bb")
	if err != nil {
		t.Fatalf("write snippet: %v", err)
	}
	b, _ := os.ReadFile(path)
	content := string(b)
	for _, want := range []string{
		`connection_mode = "https"`,
		`daemon_host = "10.1.2.3"`,
		"daemon_port = 3443",
		`auth_token = "tok-123"`,
		`tls_cert_fingerprint = "aa:bb"`,
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("snippet missing %q:\n%s", want, content)
		}
	}
	st, _ := os.Stat(path)
	if mode := st.Mode().Perm(); mode != 0o600 {
		t.Fatalf("snippet mode %o, want 0600", mode)
	}
}

func TestSnippetBlanksWildcardHost(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, _ := DefaultDaemonConfig()
	cfg.ListenerMode = ListenerTCPHTTPS
	cfg.BindHost = "0.0.0.0"

	path, err := WriteCLISnippet(cfg, "tok", "fp")
	if err != nil {
		t.Fatalf("write snippet: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), `daemon_host = ""`) {
		t.Fatalf("wildcard bind should leave daemon_host empty:\n%s", b)
	}
}

func TestSnippetForUnixSocket(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	cfg, _ := DefaultDaemonConfig()

	path, err := WriteCLISnippet(cfg, "tok", "")
	if err != nil {
		t.Fatalf("write snippet: %v", err)
	}
	b, _ := os.ReadFile(path)
	content := string(b)
	if !strings.Contains(content, `connection_mode = "unix-socket"`) {
		t.Fatalf("snippet missing mode:\n%s", content)
	}
	sock, _ := SocketPath()
	if !strings.Contains(content, sock) {
		t.Fatalf("snippet missing socket path %s:\n%s", sock, content)
	}
}

func TestClientConfigValidate(t *testing.T) {
	cfg := ClientConfig{ConnectionMode: ConnectHTTPS, DaemonHost: "", DaemonPort: 3443, TLSCertFingerprint: "fp"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "daemon_host") {
		t.Fatalf("empty host must be refused: %v", err)
	}
	cfg.DaemonHost = "10.0.0.1"
	cfg.TLSCertFingerprint = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "fingerprint") {
		t.Fatalf("https without pin must be refused: %v", err)
	}
	cfg.TLSCertFingerprint = "fp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config refused: %v", err)
	}

	sock := ClientConfig{ConnectionMode: ConnectUnixSocket, SocketPath: filepath.Join(t.TempDir(), "s.sock")}
	if err := sock.Validate(); err != nil {
		t.Fatalf("unix config refused: %v", err)
	}
}

func TestRuntimeDirRequiresEnv(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	if _, err := RuntimeDir(); err == nil {
		t.Fatal("missing XDG_RUNTIME_DIR must error")
	}
}
