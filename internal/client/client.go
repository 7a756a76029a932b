// Package client is the shared daemon-connection library used by the
// CLI (and any other local frontend): transport setup for unix-socket,
// HTTP, and pinned-HTTPS modes, the control API calls, and the
// SSE-first start flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/appconfig"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/tlscert"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/token"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/util"
)

// Client talks to the daemon's control API.
type Client struct {
	cfg     appconfig.ClientConfig
	httpc   *http.Client
	baseURL string
}

// New builds a client for the given configuration. HTTPS connections
// are pinned to the configured certificate fingerprint; chain and
// hostname checks are replaced by the pin.
func New(cfg appconfig.ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	baseURL := ""
	switch cfg.ConnectionMode {
	case appconfig.ConnectUnixSocket:
		socketPath := cfg.SocketPath
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		}
		// The host is a placeholder; routing happens via the socket.
		baseURL = "http://daemon"
	case appconfig.ConnectHTTP:
		baseURL = "http://" + util.HostPort(cfg.DaemonHost, cfg.DaemonPort)
	case appconfig.ConnectHTTPS:
		transport.TLSClientConfig = tlscert.PinnedClientConfig(cfg.TLSCertFingerprint)
		baseURL = "https://" + util.HostPort(cfg.DaemonHost, cfg.DaemonPort)
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Transport: transport},
		baseURL: baseURL,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set(token.Header, c.cfg.AuthToken)
	}
	return req, nil
}

// do runs the request with a bounded wall clock and decodes JSON into
// out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed (is the daemon running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}
	if resp.StatusCode == http.StatusUnauthorized {
		msg += " (check auth_token in cli.toml; the daemon writes a fresh snippet to cli-config.snippet)"
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Health checks GET /api/health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// DaemonInfo fetches GET /api/daemon/info.
func (c *Client) DaemonInfo(ctx context.Context) (*model.DaemonInfo, error) {
	var info model.DaemonInfo
	if err := c.do(ctx, http.MethodGet, "/api/daemon/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListTunnels fetches the active tunnel table.
func (c *Client) ListTunnels(ctx context.Context) ([]model.TunnelStatusResponse, error) {
	var out struct {
		Tunnels []model.TunnelStatusResponse `json:"tunnels"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tunnels", nil, &out); err != nil {
		return nil, err
	}
	return out.Tunnels, nil
}

// StartTunnel issues the start request. profile is non-nil for hybrid
// mode (remote daemons), nil for profiles stored on the daemon.
func (c *Client) StartTunnel(ctx context.Context, id uuid.UUID, p *model.Profile) error {
	req := model.StartTunnelRequest{ProfileID: id.String(), Mode: model.SourceLocal}
	if p != nil {
		req.Mode = model.SourceHybrid
		req.Profile = p
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tunnels/%s/start", id), req, nil)
}

// StopTunnel issues the stop request. A 404 is surfaced as-is; stopping
// a non-active tunnel mutates nothing.
func (c *Client) StopTunnel(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tunnels/%s/stop", id), nil, nil)
}

// TunnelStatus fetches one tunnel's status.
func (c *Client) TunnelStatus(ctx context.Context, id uuid.UUID) (*model.TunnelStatusResponse, error) {
	var out model.TunnelStatusResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tunnels/%s/status", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingAuth fetches the outstanding prompt, if any.
func (c *Client) PendingAuth(ctx context.Context, id uuid.UUID) (*model.AuthRequest, error) {
	var out model.AuthRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tunnels/%s/auth", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAuth answers a pending prompt. An empty value cancels it.
func (c *Client) SubmitAuth(ctx context.Context, id uuid.UUID, value string) error {
	body := model.AuthResponse{TunnelID: id, Value: value}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tunnels/%s/auth", id), body, nil)
}

// Shutdown asks the daemon to exit gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/daemon/shutdown", nil, nil)
}
