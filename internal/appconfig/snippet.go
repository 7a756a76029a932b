package appconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/permissions"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// WriteCLISnippet emits the cli-config.snippet file clients copy to
// cli.toml. Written only after a successful bind so the values are
// known good. When the daemon binds a wildcard address, daemon_host is
// left empty and clients must fill in the reachable address.
func WriteCLISnippet(cfg DaemonConfig, authToken, tlsFingerprint string) (string, error) {
	path, err := SnippetPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Generated by ssh-tunnel-daemon. Copy to cli.toml in this directory.\n\n")

	switch cfg.ListenerMode {
	case ListenerUnixSocket:
		sock, err := SocketPath()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "connection_mode = %q\n", "unix-socket")
		fmt.Fprintf(&b, "socket_path = %q\n", sock)
	case ListenerTCPHTTP:
		fmt.Fprintf(&b, "connection_mode = %q\n", "http")
		fmt.Fprintf(&b, "daemon_host = %q\n", snippetHost(cfg.BindHost))
		fmt.Fprintf(&b, "daemon_port = %d\n", cfg.BindPort)
	case ListenerTCPHTTPS:
		fmt.Fprintf(&b, "connection_mode = %q\n", "https")
		fmt.Fprintf(&b, "daemon_host = %q\n", snippetHost(cfg.BindHost))
		fmt.Fprintf(&b, "daemon_port = %d\n", cfg.BindPort)
	}
	if authToken != "" {
		fmt.Fprintf(&b, "auth_token = %q\n", authToken)
	}
	if tlsFingerprint != "" {
		fmt.Fprintf(&b, "tls_cert_fingerprint = %q\n", tlsFingerprint)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write CLI snippet: %w", err)
	}
	if err := permissions.SetFilePrivate(path); err != nil {
		return "", err
	}
	slog.Info("wrote CLI configuration snippet", "path", path)
	return path, nil
}

// snippetHost blanks wildcard binds: the client cannot connect to
// 0.0.0.0 and must supply the machine's real address at import time.
func snippetHost(host string) string {
	if util.IsWildcardAddress(host) {
		return ""
	}
	return host
}

// WriteFingerprintFile records the active TLS certificate fingerprint
// next to the other daemon material.
func WriteFingerprintFile(fingerprint string) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "tls-cert.fingerprint")
	if err := os.WriteFile(path, []byte(fingerprint+"\n"), 0o600); err != nil {
		return fmt.Errorf("write fingerprint file: %w", err)
	}
	return permissions.SetFilePrivate(path)
}
