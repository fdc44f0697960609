// ABOUTME: Request/response multiplexing over the shared connection
// ABOUTME: Pending table keyed by correlation id, per-request timeout timers

package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-operator/internal/protocol"
)

type result struct {
	payload json.RawMessage
	err     error
}

// pendingRequest tracks one in-flight request. Exactly one path settles it:
// the matching response, its timeout timer, caller cancellation, or the
// disconnect sweep. Settling goes through takePending so the paths race on
// map removal, not on the channel.
type pendingRequest struct {
	method string
	ch     chan result
	timer  *time.Timer
}

type sendConfig struct {
	timeout time.Duration
}

// SendOption customizes a single Send call.
type SendOption func(*sendConfig)

// WithTimeout overrides the default request timeout for one call.
func WithTimeout(d time.Duration) SendOption {
	return func(cfg *sendConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// Send issues a request and blocks until the response, the request timeout,
// context cancellation, or disconnect. It fails fast with ErrNotConnected
// when no session is established; requests are never queued.
func (c *Client) Send(ctx context.Context, method string, params any, opts ...SendOption) (json.RawMessage, error) {
	cfg := sendConfig{timeout: c.opts.RequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot send %q", ErrNotConnected, method)
	}
	conn := c.conn
	c.mu.Unlock()

	return c.roundTrip(ctx, conn, method, params, cfg.timeout)
}

// roundTrip registers a pending entry, writes the request, and waits for its
// settlement. The handshake's connect request goes through here too, before
// the client reaches StateConnected.
func (c *Client) roundTrip(ctx context.Context, conn *websocket.Conn, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.New().String()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encoding %q params: %w", method, err)
	}

	pr := &pendingRequest{method: method, ch: make(chan result, 1)}
	c.mu.Lock()
	pr.timer = time.AfterFunc(timeout, func() {
		if c.takePending(id) != nil {
			pr.ch <- result{err: &TimeoutError{Method: method, After: timeout}}
		}
	})
	c.pending[id] = pr
	c.mu.Unlock()

	if err := c.writeFrame(conn, req); err != nil {
		if c.takePending(id) != nil {
			pr.timer.Stop()
		}
		return nil, fmt.Errorf("sending %q request: %w", method, err)
	}

	select {
	case res := <-pr.ch:
		return res.payload, res.err
	case <-ctx.Done():
		if c.takePending(id) != nil {
			pr.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// takePending removes and returns the pending entry for id, or nil if it was
// already settled.
func (c *Client) takePending(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return pr
}

// resolvePending settles the request matching a response frame. Responses
// for unknown ids (already timed out, or swept) are dropped.
func (c *Client) resolvePending(res *protocol.Response) {
	pr := c.takePending(res.ID)
	if pr == nil {
		c.logger.Debug("dropping response for unknown request", "id", res.ID)
		return
	}
	pr.timer.Stop()

	if res.OK {
		pr.ch <- result{payload: res.Payload}
		return
	}
	pr.ch <- result{err: newRequestError(pr.method, res.Error)}
}

// sweepPendingLocked empties the pending table and returns the entries for
// the caller to fail outside the lock. Caller holds c.mu.
func (c *Client) sweepPendingLocked() []*pendingRequest {
	if len(c.pending) == 0 {
		return nil
	}
	swept := make([]*pendingRequest, 0, len(c.pending))
	for id, pr := range c.pending {
		delete(c.pending, id)
		swept = append(swept, pr)
	}
	return swept
}
