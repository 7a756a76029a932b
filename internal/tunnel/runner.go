package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/sshclient"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// PrivilegedPortError is returned when a profile asks for a local port
// at or below 1024. It is not retried.
type PrivilegedPortError struct {
	Port int
}

func (e *PrivilegedPortError) Error() string {
	return fmt.Sprintf(
		"cannot bind privileged port %d: ports at or below 1024 require elevated privileges (grant CAP_NET_BIND_SERVICE to the daemon or choose a port above 1024)",
		e.Port)
}

// run is the per-tunnel task: the single producer of the tunnel's
// events. It drives connect, auth, bind, and forwarding, and removes
// the entry when it exits.
func (m *Manager) run(ctx context.Context, p *model.Profile, e *entry) {
	defer m.remove(p.ID)

	m.bus.Publish(model.Event{Type: model.EventStarting, ID: p.ID})

	switch p.Forwarding.Type {
	case model.ForwardLocal:
	case model.ForwardRemote:
		m.fail(p.ID, "remote forwarding not implemented")
		return
	case model.ForwardDynamic:
		m.fail(p.ID, "dynamic forwarding not implemented")
		return
	default:
		m.fail(p.ID, fmt.Sprintf("unknown forwarding type %q", p.Forwarding.Type))
		return
	}

	client, err := m.dialer.Dial(ctx, p, m)
	if err != nil {
		m.fail(p.ID, failReason(err))
		return
	}
	defer client.Close()

	// The local listener binds only after authentication succeeds, and
	// Connected is published only after the bind: that ordering is the
	// client's "tunnel is usable" signal.
	if p.Forwarding.LocalPort <= 1024 {
		m.fail(p.ID, (&PrivilegedPortError{Port: p.Forwarding.LocalPort}).Error())
		return
	}
	addr := util.HostPort(p.Forwarding.BindAddr(), p.Forwarding.LocalPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		m.fail(p.ID, bindReason(addr, err))
		return
	}
	defer ln.Close()

	m.setStatus(p.ID, model.TunnelStatus{State: model.StateConnected})
	m.bus.Publish(model.Event{Type: model.EventConnected, ID: p.ID})
	slog.Info("tunnel connected", "id", p.ID, "local", addr,
		"remote", util.HostPort(p.Forwarding.RemoteHost, p.Forwarding.RemotePort))

	if p.Options.KeepaliveInterval > 0 {
		go sshclient.Keepalive(ctx, client, secondsDuration(p.Options.KeepaliveInterval))
	}

	// Unblock Accept on cancellation or when the SSH session dies.
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- client.Wait() }()
	go func() {
		select {
		case <-ctx.Done():
		case <-sessionDone:
		}
		ln.Close()
	}()

	remote := util.HostPort(p.Forwarding.RemoteHost, p.Forwarding.RemotePort)
	for {
		conn, err := ln.Accept()
		if err != nil {
			m.finishForwarding(ctx, p.ID, sessionDone)
			return
		}
		if p.Options.TCPKeepalive {
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetKeepAlive(true)
			}
		}
		go forwardConn(ctx, p.ID, client, conn, remote)
	}
}

// finishForwarding publishes the terminal event for a tunnel whose
// accept loop ended: stopped by request, or dropped by the peer.
func (m *Manager) finishForwarding(ctx context.Context, id uuid.UUID, sessionDone <-chan error) {
	reason := "connection closed"
	if m.wasStopped(id) || ctx.Err() != nil {
		reason = "stopped"
	} else {
		select {
		case err := <-sessionDone:
			if err != nil && !errors.Is(err, io.EOF) {
				reason = fmt.Sprintf("connection closed: %v", err)
			}
		default:
		}
	}
	m.setStatus(id, model.TunnelStatus{State: model.StateDisconnected})
	m.bus.Publish(model.Event{Type: model.EventDisconnected, ID: id, Reason: reason})
	slog.Info("tunnel disconnected", "id", id, "reason", reason)
}

// fail records a Failed status, publishes the Error event, and leaves
// the entry for removal by the caller's defer.
func (m *Manager) fail(id uuid.UUID, reason string) {
	m.setStatus(id, model.TunnelStatus{State: model.StateFailed, Reason: reason})
	m.bus.Publish(model.Event{Type: model.EventError, ID: id, Error: reason})
	slog.Warn("tunnel failed", "id", id, "reason", reason)
}

// forwardConn relays one accepted connection through a direct-tcpip
// channel. Errors here affect only this connection, never the tunnel.
func forwardConn(ctx context.Context, id uuid.UUID, client *ssh.Client, conn net.Conn, remote string) {
	defer conn.Close()

	channel, err := client.DialContext(ctx, "tcp", remote)
	if err != nil {
		slog.Warn("forward failed", "id", id, "remote", remote, "error", err)
		return
	}
	defer channel.Close()

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(channel, conn)
		channel.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(conn, channel)
		conn.Close()
		return err
	})
	if err := g.Wait(); err != nil && !isBenignCopyError(err) {
		slog.Debug("forwarded connection ended", "id", id, "error", err)
	}
}

func failReason(err error) string {
	if errors.Is(err, sshclient.ErrAuthCancelled) {
		return "authentication was cancelled"
	}
	return err.Error()
}

// bindReason normalizes the two actionable listener failures so client
// messaging stays stable across platforms.
func bindReason(addr string, err error) string {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Sprintf("bind %s: Address already in use", addr)
	case errors.Is(err, syscall.EACCES):
		return fmt.Sprintf("bind %s: permission denied (grant CAP_NET_BIND_SERVICE or choose another port)", addr)
	}
	return fmt.Sprintf("bind %s: %v", addr, err)
}

func isBenignCopyError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

