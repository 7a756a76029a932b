// Package sshclient owns the SSH protocol side of a tunnel: key
// loading, interactive authentication, host-key verification against
// the known-hosts store, and the dial itself.
//
// Unlike tools that shell out to the ssh binary, this package speaks
// the protocol in-process via golang.org/x/crypto/ssh, so interactive
// prompts (passphrases, passwords, keyboard-interactive rounds, host
// key confirmations) are surfaced to the caller through the Prompter
// interface instead of a terminal.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/knownhosts"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// ConnectTimeout bounds the TCP dial. The SSH handshake that follows,
// including any interactive prompts, has no deadline of its own; it
// ends when it completes, fails, or the context is cancelled.
const ConnectTimeout = 15 * time.Second

// ErrAuthCancelled is returned when the user cancels an interactive
// prompt (empty response or stopped tunnel).
var ErrAuthCancelled = errors.New("authentication was cancelled")

// HostKeyMismatchError is a hard refusal: the server presented a key
// that differs from the stored one. There is no interactive override.
type HostKeyMismatchError struct {
	HostPort           string
	StoredFingerprint  string
	OfferedFingerprint string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf(
		"host key mismatch for %s: stored %s, server offered %s (possible man-in-the-middle; remove the stale entry to re-trust)",
		e.HostPort, e.StoredFingerprint, e.OfferedFingerprint)
}

// HostKeyRejectedError is returned when the user declines to trust an
// unknown host key.
type HostKeyRejectedError struct {
	HostPort string
}

func (e *HostKeyRejectedError) Error() string {
	return fmt.Sprintf("host key for %s was not accepted", e.HostPort)
}

// Prompter delivers an interactive credential request and blocks until
// a response arrives or the context ends. Implementations must never
// log or retain the returned value.
type Prompter interface {
	Prompt(ctx context.Context, req model.AuthRequest) (string, error)
}

// Dialer builds SSH connections for tunnel profiles.
type Dialer struct {
	KnownHosts *knownhosts.Store
}

// Dial connects and authenticates an SSH session for the profile.
// Interactive requirements (key passphrase, password, 2FA rounds,
// first-use host key confirmation) are routed through prompter. The
// returned client is owned by the caller.
func (d *Dialer) Dial(ctx context.Context, p *model.Profile, prompter Prompter) (*ssh.Client, error) {
	auth, err := d.authMethods(ctx, p, prompter)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            p.Connection.User,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback(ctx, p, prompter),
		Timeout:         ConnectTimeout,
	}

	addr := util.HostPort(p.Connection.Host, p.Connection.Port)
	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAuthCancelled
		}
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	if p.Options.TCPKeepalive {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
		}
	}

	// The handshake blocks in library code; cancel it by closing the
	// transport when the context ends.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	close(done)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ErrAuthCancelled
		}
		return nil, classifyHandshakeError(err)
	}
	client := ssh.NewClient(c, chans, reqs)
	slog.Info("ssh session established", "host", p.Connection.Host, "port", p.Connection.Port, "user", p.Connection.User)
	return client, nil
}

// Keepalive sends keepalive@openssh.com requests every interval until
// the context ends or the session drops.
func Keepalive(ctx context.Context, client *ssh.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				slog.Debug("keepalive failed, session gone", "error", err)
				return
			}
		}
	}
}

func (d *Dialer) authMethods(ctx context.Context, p *model.Profile, prompter Prompter) ([]ssh.AuthMethod, error) {
	switch p.Connection.AuthType {
	case model.AuthKey:
		signer, err := d.loadSigner(ctx, p, prompter)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case model.AuthPassword:
		return []ssh.AuthMethod{
			ssh.PasswordCallback(d.passwordCallback(ctx, p, prompter)),
		}, nil

	case model.AuthPasswordWith2FA:
		// Password first; servers that then require another round
		// advertise keyboard-interactive, which retries as long as the
		// server keeps challenging.
		return []ssh.AuthMethod{
			ssh.PasswordCallback(d.passwordCallback(ctx, p, prompter)),
			ssh.RetryableAuthMethod(
				ssh.KeyboardInteractive(d.kbdInteractiveChallenge(ctx, p, prompter)), -1),
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth_type %q", p.Connection.AuthType)
	}
}

// loadSigner parses the profile's private key, prompting for a
// passphrase when the file is encrypted. Wrong passphrases re-prompt
// until the user cancels with an empty value.
func (d *Dialer) loadSigner(ctx context.Context, p *model.Profile, prompter Prompter) (ssh.Signer, error) {
	keyPath, err := p.ExpandedKeyPath()
	if err != nil {
		return nil, err
	}
	pem, err := readKeyFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
	}

	for {
		value, perr := prompter.Prompt(ctx, model.AuthRequest{
			TunnelID: p.ID,
			Kind:     model.AuthKindKeyPassphrase,
			Prompt:   fmt.Sprintf("Enter passphrase for key %s", keyPath),
			Hidden:   true,
		})
		if perr != nil {
			return nil, perr
		}
		if value == "" {
			return nil, ErrAuthCancelled
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(value))
		wipe(&value)
		if err == nil {
			return signer, nil
		}
		if !isWrongPassphrase(err) {
			return nil, fmt.Errorf("decrypt private key %s: %w", keyPath, err)
		}
		// Wrong passphrase: ask again.
	}
}

func readKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return b, nil
}

func (d *Dialer) passwordCallback(ctx context.Context, p *model.Profile, prompter Prompter) func() (string, error) {
	return func() (string, error) {
		value, err := prompter.Prompt(ctx, model.AuthRequest{
			TunnelID: p.ID,
			Kind:     model.AuthKindPassword,
			Prompt:   fmt.Sprintf("Password for %s@%s", p.Connection.User, p.Connection.Host),
			Hidden:   true,
		})
		if err != nil {
			return "", err
		}
		if value == "" {
			return "", ErrAuthCancelled
		}
		return value, nil
	}
}

func (d *Dialer) kbdInteractiveChallenge(ctx context.Context, p *model.Profile, prompter Prompter) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, q := range questions {
			prompt := strings.TrimSpace(q)
			if prompt == "" {
				prompt = strings.TrimSpace(instruction)
			}
			hidden := true
			if i < len(echos) {
				hidden = !echos[i]
			}
			value, err := prompter.Prompt(ctx, model.AuthRequest{
				TunnelID: p.ID,
				Kind:     model.AuthKindKeyboardInteractive,
				Prompt:   prompt,
				Hidden:   hidden,
			})
			if err != nil {
				return nil, err
			}
			if value == "" {
				return nil, ErrAuthCancelled
			}
			answers[i] = value
		}
		return answers, nil
	}
}

// hostKeyCallback verifies the server key against the known-hosts
// store. Unknown hosts require an interactive "yes"; the accepted key
// is persisted. Mismatches are refused unconditionally.
func (d *Dialer) hostKeyCallback(ctx context.Context, p *model.Profile, prompter Prompter) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host := p.Connection.Host
		port := p.Connection.Port
		res, err := d.KnownHosts.Verify(host, port, key)
		if err != nil {
			return fmt.Errorf("verify host key: %w", err)
		}
		switch res.Result {
		case knownhosts.Match:
			return nil
		case knownhosts.Mismatch:
			return &HostKeyMismatchError{
				HostPort:           util.HostPort(host, port),
				StoredFingerprint:  res.StoredFingerprint,
				OfferedFingerprint: knownhosts.Fingerprint(key),
			}
		}

		fp := knownhosts.Fingerprint(key)
		value, err := prompter.Prompt(ctx, model.AuthRequest{
			TunnelID: p.ID,
			Kind:     model.AuthKindHostKeyConfirmation,
			Prompt: fmt.Sprintf(
				"The authenticity of host %s can't be established.\n%s key fingerprint is %s.\nAre you sure you want to continue connecting? (type \"yes\" to accept)",
				util.HostPort(host, port), key.Type(), fp),
			Hidden: false,
		})
		if err != nil {
			return err
		}
		if value != "yes" {
			return &HostKeyRejectedError{HostPort: util.HostPort(host, port)}
		}
		if err := d.KnownHosts.Add(host, port, key); err != nil {
			return fmt.Errorf("record host key: %w", err)
		}
		return nil
	}
}

// classifyHandshakeError keeps interactive-cancel and host-key errors
// intact and labels authentication rejections with the server's
// remaining methods, which x/crypto includes in its error text.
func classifyHandshakeError(err error) error {
	var mismatch *HostKeyMismatchError
	var rejected *HostKeyRejectedError
	switch {
	case errors.Is(err, ErrAuthCancelled):
		return ErrAuthCancelled
	case errors.As(err, &mismatch):
		return mismatch
	case errors.As(err, &rejected):
		return rejected
	}
	// The transport library flattens callback errors into its handshake
	// error text, so match on the message as a fallback.
	msg := err.Error()
	switch {
	case strings.Contains(msg, ErrAuthCancelled.Error()):
		return ErrAuthCancelled
	case strings.Contains(msg, "host key mismatch"):
		return err
	case strings.Contains(msg, "unable to authenticate"):
		return fmt.Errorf("authentication failed: %w", err)
	}
	return fmt.Errorf("ssh handshake: %w", err)
}

func isWrongPassphrase(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "incorrect") ||
		strings.Contains(msg, "decryption") ||
		strings.Contains(msg, "integrity check")
}

func wipe(s *string) {
	// Strings are immutable; drop the reference so the value is not
	// kept alive by this frame.
	*s = ""
}
