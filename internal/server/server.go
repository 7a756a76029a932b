// Package server boots the daemon: permission hardening, single
// instance guard, token and TLS material, the configured listener, and
// graceful shutdown that unwinds every tunnel.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/api"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/appconfig"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/bus"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/knownhosts"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/permissions"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/pidfile"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/profile"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/sshclient"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/token"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/tunnel"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// shutdownGrace bounds the drain of in-flight HTTP handlers.
const shutdownGrace = 10 * time.Second

// Run starts the daemon and blocks until shutdown. Returned errors are
// startup failures; a signal-driven exit returns nil.
func Run() error {
	permissions.SetRestrictiveUmask()

	cfg, err := appconfig.LoadDaemonConfig()
	if err != nil {
		return err
	}
	slog.Info("daemon starting", "listener_mode", cfg.ListenerMode, "require_auth", cfg.RequireAuth)

	runtimeDir, err := appconfig.RuntimeDir()
	if err != nil {
		return err
	}
	if err := permissions.EnsureDir(runtimeDir, cfg.GroupAccess); err != nil {
		return err
	}

	pidPath, err := appconfig.PidFilePath()
	if err != nil {
		return err
	}
	guard, err := pidfile.Acquire(pidPath)
	if err != nil {
		return err
	}
	defer guard.Release()

	var tok *token.Token
	tokenGenerated := false
	if cfg.RequireAuth {
		tok, tokenGenerated, err = token.LoadOrGenerate(cfg.AuthTokenPath)
		if err != nil {
			return err
		}
		defer tok.Wipe()
	} else {
		slog.Warn("authentication disabled, control API is unauthenticated")
	}

	profilesDir, err := appconfig.ProfilesDir()
	if err != nil {
		return err
	}

	eventBus := bus.New(bus.DefaultCapacity)
	defer eventBus.Close()
	manager := tunnel.NewManager(eventBus, &sshclient.Dialer{
		KnownHosts: knownhosts.NewStore(cfg.KnownHostsPath),
	})

	// Log lifecycle events the way clients see them.
	logSub := eventBus.Subscribe()
	go func() {
		for ev := range logSub.C {
			if ev.Type != model.EventHeartbeat {
				slog.Debug("tunnel event", "type", ev.Type, "id", ev.ID)
			}
		}
	}()

	shutdownCh := make(chan struct{})
	var shutdownOnce func()
	{
		done := false
		shutdownOnce = func() {
			if !done {
				done = true
				close(shutdownCh)
			}
		}
	}

	configPath, _ := appconfig.DaemonConfigPath()
	srvAPI := &api.Server{
		Manager:  manager,
		Profiles: profile.NewStore(profilesDir),
		Bus:      eventBus,
		Token:    tok,
		Info: api.Info{
			ListenerMode:   string(cfg.ListenerMode),
			RequireAuth:    cfg.RequireAuth,
			GroupAccess:    cfg.GroupAccess,
			ConfigFilePath: configPath,
			KnownHostsPath: cfg.KnownHostsPath,
			StartedAt:      time.Now(),
		},
		Shutdown: shutdownOnce,
	}

	var tlsFingerprint string
	var tlsCert *tls.Certificate
	if cfg.ListenerMode == appconfig.ListenerTCPHTTPS {
		material, err := ensureTLS(cfg)
		if err != nil {
			return err
		}
		tlsCert = &material.Certificate
		tlsFingerprint = material.Fingerprint
	}

	ln, socketPath, err := listen(cfg, tlsCert)
	if err != nil {
		return err
	}
	if socketPath != "" {
		srvAPI.Info.SocketPath = socketPath
	} else {
		srvAPI.Info.BindHost = cfg.BindHost
		srvAPI.Info.BindPort = cfg.BindPort
	}

	// The snippet is written only after the bind succeeded, so it never
	// advertises an endpoint that is not actually serving.
	if _, err := appconfig.WriteCLISnippet(cfg, tok.Value(), tlsFingerprint); err != nil {
		slog.Warn("failed to write CLI snippet", "error", err)
	}
	if tokenGenerated {
		slog.Info("new token active, import the fresh snippet on clients")
	}

	httpSrv := &http.Server{Handler: srvAPI.Handler()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()
	slog.Info("daemon started", "addr", ln.Addr().String())

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case <-shutdownCh:
		slog.Info("shutdown requested, shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("forcing server close", "error", err)
		_ = httpSrv.Close()
	}
	manager.StopAll()
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}
	slog.Info("daemon shut down")
	return nil
}

// listen opens the configured listener. For unix-socket mode the
// returned path is non-empty and the socket file mode is hardened.
func listen(cfg appconfig.DaemonConfig, cert *tls.Certificate) (net.Listener, string, error) {
	switch cfg.ListenerMode {
	case appconfig.ListenerUnixSocket:
		socketPath, err := appconfig.SocketPath()
		if err != nil {
			return nil, "", err
		}
		if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("remove existing socket: %w", err)
		}
		ln, err := net.Listen("unix", socketPath)
		if err != nil {
			return nil, "", fmt.Errorf("bind unix socket %s: %w", socketPath, err)
		}
		if err := permissions.SetSocketPrivate(socketPath, cfg.GroupAccess); err != nil {
			ln.Close()
			return nil, "", err
		}
		slog.Info("listening on unix socket", "path", socketPath)
		return ln, socketPath, nil

	case appconfig.ListenerTCPHTTP:
		addr := util.HostPort(cfg.BindHost, cfg.BindPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", addr, err)
		}
		slog.Info("listening on TCP (http)", "addr", addr)
		slog.Warn("http mode has no encryption, loopback use only")
		return ln, "", nil

	case appconfig.ListenerTCPHTTPS:
		addr := util.HostPort(cfg.BindHost, cfg.BindPort)
		inner, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", fmt.Errorf("bind %s: %w", addr, err)
		}
		ln := tls.NewListener(inner, &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		})
		slog.Info("listening on TCP (https)", "addr", addr)
		return ln, "", nil
	}
	return nil, "", fmt.Errorf("unknown listener_mode %q", cfg.ListenerMode)
}
