package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

// EventStream is a live SSE subscription. Events arrives on Events;
// the channel closes when the stream ends. Close tears the connection
// down.
type EventStream struct {
	Events <-chan model.Event
	cancel context.CancelFunc
	errCh  <-chan error
}

// Close terminates the subscription.
func (s *EventStream) Close() { s.cancel() }

// Err reports the stream's terminal error, if it has one yet.
func (s *EventStream) Err() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

// SubscribeEvents opens GET /api/events and returns once the daemon
// has acknowledged the stream with a 200, so callers can order
// subsequent requests after the subscription (subscribe-before-start).
func (c *Client) SubscribeEvents(ctx context.Context) (*EventStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, apiError(resp)
	}

	events := make(chan model.Event, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	return &EventStream{Events: events, cancel: cancel, errCh: errCh}, nil
}
