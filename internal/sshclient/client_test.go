package sshclient

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/knownhosts"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

type staticPrompter struct {
	value string
	err   error
	calls int
}

func (p *staticPrompter) Prompt(_ context.Context, _ model.AuthRequest) (string, error) {
	p.calls++
	return p.value, p.err
}

func testDialer(t *testing.T) *Dialer {
	t.Helper()
	return &Dialer{KnownHosts: knownhosts.NewStore(filepath.Join(t.TempDir(), "known_hosts"))}
}

func baseProfile() *model.Profile {
	return model.NewProfile("p",
		model.ConnectionConfig{
			Host:     "ssh.example",
			Port:     22,
			User:     "u",
			AuthType: model.AuthPassword,
		},
		model.ForwardingConfig{
			Type:       model.ForwardLocal,
			LocalPort:  18080,
			RemoteHost: "r",
			RemotePort: 80,
		},
	)
}

func TestAuthMethodsUnknownType(t *testing.T) {
	d := testDialer(t)
	p := baseProfile()
	p.Connection.AuthType = "carrier-pigeon"
	if _, err := d.authMethods(context.Background(), p, &staticPrompter{}); err == nil {
		t.Fatal("unknown auth type must error")
	}
}

func TestAuthMethodsCount(t *testing.T) {
	d := testDialer(t)
	pr := &staticPrompter{value: "x"}

	p := baseProfile()
	methods, err := d.authMethods(context.Background(), p, pr)
	if err != nil {
		t.Fatalf("password: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("password should yield one method, got %d", len(methods))
	}

	p.Connection.AuthType = model.AuthPasswordWith2FA
	methods, err = d.authMethods(context.Background(), p, pr)
	if err != nil {
		t.Fatalf("2fa: %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("2fa should yield password plus keyboard-interactive, got %d", len(methods))
	}
	// Building methods must not consume any prompt yet.
	if pr.calls != 0 {
		t.Fatalf("prompter invoked %d times before handshake", pr.calls)
	}
}

func TestLoadSignerMissingFile(t *testing.T) {
	d := testDialer(t)
	p := baseProfile()
	p.Connection.AuthType = model.AuthKey
	p.Connection.KeyPath = filepath.Join(t.TempDir(), "missing")
	_, err := d.loadSigner(context.Background(), p, &staticPrompter{})
	if err == nil || !strings.Contains(err.Error(), "read private key") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestPasswordCallbackEmptyValueCancels(t *testing.T) {
	d := testDialer(t)
	p := baseProfile()
	cb := d.passwordCallback(context.Background(), p, &staticPrompter{value: ""})
	if _, err := cb(); !errors.Is(err, ErrAuthCancelled) {
		t.Fatalf("empty value must cancel, got %v", err)
	}
}

func TestClassifyHandshakeError(t *testing.T) {
	if got := classifyHandshakeError(errors.New("ssh: handshake failed: authentication was cancelled")); !errors.Is(got, ErrAuthCancelled) {
		t.Fatalf("cancel not classified: %v", got)
	}
	got := classifyHandshakeError(errors.New("ssh: unable to authenticate, attempted methods [none password]"))
	if !strings.Contains(got.Error(), "authentication failed") {
		t.Fatalf("auth rejection not classified: %v", got)
	}
	if !strings.Contains(got.Error(), "[none password]") {
		t.Fatalf("remaining methods must survive classification: %v", got)
	}
}
