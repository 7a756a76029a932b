// Package tunnel drives the lifecycle of SSH tunnels: a concurrent
// state machine per tunnel covering connect, interactive auth, local
// listener bind, and stream forwarding, with cooperative cancellation.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/bus"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/sshclient"
)

// AuthWaitTimeout bounds the wait for a single interactive response.
const AuthWaitTimeout = 60 * time.Second

// StopAllTimeout bounds the wait for tunnel tasks to join at shutdown.
const StopAllTimeout = 10 * time.Second

var (
	// ErrNotActive is returned for operations on tunnels that are not
	// in the table.
	ErrNotActive = errors.New("tunnel not active")
	// ErrAlreadyActive is returned by Start when the tunnel is already
	// running or connecting.
	ErrAlreadyActive = errors.New("tunnel already active")
	// ErrNoPendingAuth is returned by SubmitAuth when no prompt is
	// outstanding.
	ErrNoPendingAuth = errors.New("no pending authentication request")
)

// entry is the in-memory record of one running tunnel. The manager's
// lock guards every field; the rendezvous channel is single-use per
// prompt.
type entry struct {
	status      model.TunnelStatus
	pendingAuth *model.AuthRequest
	authCh      chan string
	cancel      context.CancelFunc
	done        chan struct{}
	stopped     bool
	createdAt   time.Time
}

// Manager owns the tunnel table. Each running tunnel has exactly one
// task (goroutine) that is the sole producer of its events.
type Manager struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	bus    *bus.Bus
	dialer *sshclient.Dialer

	// authWait is overridable in tests.
	authWait time.Duration
}

// NewManager creates a manager publishing on b and dialing through d.
func NewManager(b *bus.Bus, d *sshclient.Dialer) *Manager {
	return &Manager{
		entries:  make(map[uuid.UUID]*entry),
		bus:      b,
		dialer:   d,
		authWait: AuthWaitTimeout,
	}
}

// Start registers the tunnel and spawns its task. The profile is a
// snapshot: later edits to the store do not affect the running tunnel.
func (m *Manager) Start(p *model.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if e, ok := m.entries[p.ID]; ok && (e.status.IsInProgress() || e.status.IsConnected()) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, p.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		status:    model.TunnelStatus{State: model.StateConnecting},
		cancel:    cancel,
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	m.entries[p.ID] = e
	m.mu.Unlock()

	go m.run(ctx, p, e)
	return nil
}

// Stop cancels the tunnel's task. The task unwinds cooperatively; the
// entry disappears from the table when it exits.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	e.stopped = true
	if e.status.IsConnected() {
		e.status = model.TunnelStatus{State: model.StateDisconnecting}
	}
	cancel := e.cancel
	m.mu.Unlock()

	cancel()
	return nil
}

// StopAll cancels every tunnel and waits for the tasks to join, up to
// StopAllTimeout.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var done []chan struct{}
	for _, e := range m.entries {
		e.stopped = true
		e.cancel()
		done = append(done, e.done)
	}
	m.mu.Unlock()

	deadline := time.After(StopAllTimeout)
	for _, ch := range done {
		select {
		case <-ch:
		case <-deadline:
			return
		}
	}
}

// Status returns the tunnel's current status, or ErrNotActive.
func (m *Manager) Status(id uuid.UUID) (model.TunnelStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return model.TunnelStatus{State: model.StateNotConnected}, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	return e.status, nil
}

// PendingAuth returns the outstanding prompt for the tunnel, if any.
func (m *Manager) PendingAuth(id uuid.UUID) (*model.AuthRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.pendingAuth == nil {
		return nil, false
	}
	req := *e.pendingAuth
	return &req, true
}

// List snapshots the table for the control API.
func (m *Manager) List() []model.TunnelStatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TunnelStatusResponse, 0, len(m.entries))
	for id, e := range m.entries {
		resp := model.TunnelStatusResponse{ID: id, Status: e.status}
		if e.pendingAuth != nil {
			req := *e.pendingAuth
			resp.PendingAuth = &req
		}
		out = append(out, resp)
	}
	return out
}

// ActiveCount reports the table size.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SubmitAuth resolves the tunnel's pending prompt with value through a
// single-use rendezvous. The value is consumed by exactly one waiting
// task and never stored.
func (m *Manager) SubmitAuth(id uuid.UUID, value string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	if e.pendingAuth == nil || e.authCh == nil {
		m.mu.Unlock()
		return ErrNoPendingAuth
	}
	ch := e.authCh
	e.pendingAuth = nil
	e.authCh = nil
	m.mu.Unlock()

	// Buffered single-slot channel: the send cannot block.
	ch <- value
	return nil
}

// Prompt implements sshclient.Prompter for a running tunnel task. It
// registers the request as the tunnel's pending auth, publishes an
// AuthRequired event, and blocks for the response, the context, or the
// auth timeout.
func (m *Manager) Prompt(ctx context.Context, req model.AuthRequest) (string, error) {
	ch := make(chan string, 1)

	m.mu.Lock()
	e, ok := m.entries[req.TunnelID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotActive, req.TunnelID)
	}
	reqCopy := req
	e.pendingAuth = &reqCopy
	e.authCh = ch
	e.status = model.TunnelStatus{State: model.StateWaitingForAuth}
	m.mu.Unlock()

	m.bus.Publish(model.Event{
		Type:    model.EventAuthRequired,
		ID:      req.TunnelID,
		Request: &reqCopy,
	})

	timer := time.NewTimer(m.authWait)
	defer timer.Stop()

	var value string
	var err error
	select {
	case value = <-ch:
	case <-ctx.Done():
		err = sshclient.ErrAuthCancelled
	case <-timer.C:
		err = fmt.Errorf("timed out waiting for authentication response")
	}

	m.mu.Lock()
	if e, ok := m.entries[req.TunnelID]; ok {
		e.pendingAuth = nil
		e.authCh = nil
		if err == nil {
			e.status = model.TunnelStatus{State: model.StateConnecting}
		}
	}
	m.mu.Unlock()

	return value, err
}

func (m *Manager) setStatus(id uuid.UUID, st model.TunnelStatus) {
	m.mu.Lock()
	if e, ok := m.entries[id]; ok {
		e.status = st
	}
	m.mu.Unlock()
}

func (m *Manager) wasStopped(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[id]; ok {
		return e.stopped
	}
	return false
}

// remove drops the entry and signals joiners. Called exactly once per
// task, as it exits.
func (m *Manager) remove(id uuid.UUID) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if ok {
		close(e.done)
	}
}
