package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

const (
	// subscribeTimeout bounds the wait for the SSE stream to be
	// acknowledged before the start request is allowed out.
	subscribeTimeout = 5 * time.Second
	// overallTimeout bounds the whole start flow.
	overallTimeout = 60 * time.Second
	// idleFallback is how long the event stream may stay silent before
	// the flow reconciles via a status poll.
	idleFallback = 15 * time.Second
)

// AuthHandler supplies a value for an interactive prompt. Returning an
// empty value cancels the authentication.
type AuthHandler func(req model.AuthRequest) (string, error)

// StartTunnelWithEvents runs the race-free start sequence: subscribe
// to the event stream first, then issue the start request, then follow
// the tunnel's events until Connected or a terminal failure. Auth
// prompts are answered through handler. profile is non-nil for hybrid
// starts against a remote daemon.
//
// Subscribing before starting guarantees that Starting/Error events
// published synchronously by the tunnel task are observed; an idle
// stream falls back to polling /status so broadcast lag can never lose
// a terminal outcome.
func (c *Client) StartTunnelWithEvents(
	ctx context.Context,
	id uuid.UUID,
	profile *model.Profile,
	handler AuthHandler,
) error {
	ctx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	type subResult struct {
		stream *EventStream
		err    error
	}
	subCh := make(chan subResult, 1)
	go func() {
		s, err := c.SubscribeEvents(ctx)
		subCh <- subResult{s, err}
	}()

	var stream *EventStream
	select {
	case r := <-subCh:
		if r.err != nil {
			return fmt.Errorf("could not subscribe to daemon events: %w", r.err)
		}
		stream = r.stream
	case <-time.After(subscribeTimeout):
		return fmt.Errorf("timed out establishing the daemon event stream; is the daemon running?")
	}
	defer stream.Close()

	if err := c.StartTunnel(ctx, id, profile); err != nil {
		return err
	}

	idle := time.NewTimer(idleFallback)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out waiting for tunnel %s to connect", id)
			}
			return ctx.Err()

		case <-idle.C:
			// Stream is quiet; reconcile through the REST surface.
			done, err := c.reconcileStatus(ctx, id, handler)
			if done || err != nil {
				return err
			}
			idle.Reset(idleFallback)

		case ev, ok := <-stream.Events:
			if !ok {
				// Stream ended; one last reconciliation decides.
				status, serr := c.TunnelStatus(ctx, id)
				if serr == nil && status.Status.IsConnected() {
					return nil
				}
				if err := stream.Err(); err != nil {
					return fmt.Errorf("event stream failed: %w", err)
				}
				return fmt.Errorf("event stream closed before tunnel %s connected", id)
			}
			if ev.Type != model.EventHeartbeat && ev.ID != id {
				continue
			}
			switch ev.Type {
			case model.EventConnected:
				return nil
			case model.EventError:
				return fmt.Errorf("tunnel failed: %s", ev.Error)
			case model.EventDisconnected:
				return fmt.Errorf("tunnel disconnected: %s", ev.Reason)
			case model.EventAuthRequired:
				if ev.Request == nil {
					continue
				}
				if err := c.answerAuth(ctx, id, *ev.Request, handler); err != nil {
					return err
				}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleFallback)
		}
	}
}

// reconcileStatus polls /status once. It returns done=true when the
// flow should end (connected, failed, or gone).
func (c *Client) reconcileStatus(ctx context.Context, id uuid.UUID, handler AuthHandler) (bool, error) {
	status, err := c.TunnelStatus(ctx, id)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return true, fmt.Errorf("tunnel %s is not active", id)
		}
		return false, nil
	}
	switch status.Status.State {
	case model.StateConnected:
		return true, nil
	case model.StateFailed:
		return true, fmt.Errorf("tunnel failed: %s", status.Status.Reason)
	case model.StateDisconnected, model.StateNotConnected:
		return true, fmt.Errorf("tunnel %s is not active", id)
	case model.StateWaitingForAuth:
		if status.PendingAuth != nil {
			if err := c.answerAuth(ctx, id, *status.PendingAuth, handler); err != nil {
				return true, err
			}
		}
	}
	return false, nil
}

func (c *Client) answerAuth(ctx context.Context, id uuid.UUID, req model.AuthRequest, handler AuthHandler) error {
	if handler == nil {
		return fmt.Errorf("tunnel requires interactive authentication but no handler is available")
	}
	value, err := handler(req)
	if err != nil {
		return fmt.Errorf("authentication prompt failed: %w", err)
	}
	return c.SubmitAuth(ctx, id, value)
}
