// ABOUTME: Challenge/response handshake establishing an operator session
// ABOUTME: Answers connect.challenge with a connect request and captures hello

package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-operator/internal/protocol"
)

// handleEvent routes an event frame. During the handshake the first
// connect.challenge is consumed internally; everything else goes to the
// event router.
func (c *Client) handleEvent(conn *websocket.Conn, gen uint64, frame *protocol.Frame) {
	if frame.Event.Event == protocol.EventChallenge {
		c.mu.Lock()
		answering := gen == c.gen && c.state == StateHandshaking && !c.challenged
		if answering {
			c.challenged = true
		}
		c.mu.Unlock()

		if answering {
			go c.answerChallenge(conn, gen, frame)
			return
		}
		// A challenge outside the handshake means the server reset the
		// session; surface it to subscribers like any other event.
	}

	c.dispatchEvent(frame)
}

// answerChallenge sends the connect request in reply to the server's
// challenge and completes the handshake with the resulting hello. The
// connect request rides the normal pending table, so its response, timeout,
// and disconnect sweep behave like any other request.
func (c *Client) answerChallenge(conn *websocket.Conn, gen uint64, frame *protocol.Frame) {
	var challenge protocol.Challenge
	if len(frame.Event.Payload) > 0 {
		if err := json.Unmarshal(frame.Event.Payload, &challenge); err != nil {
			c.failHandshake(gen, fmt.Errorf("parsing challenge: %w", err))
			return
		}
	}

	token, err := c.opts.Tokens.Token()
	if err != nil {
		c.failHandshake(gen, fmt.Errorf("fetching credential: %w", err))
		return
	}

	params := protocol.ConnectParams{
		MinProtocol: protocol.MinVersion,
		MaxProtocol: protocol.Version,
		Client: protocol.ClientInfo{
			ID:          c.opts.ClientID,
			DisplayName: c.opts.ClientName,
			Version:     c.opts.Version,
			Platform:    runtime.GOOS,
		},
		Role:         protocol.RoleOperator,
		Scopes:       c.opts.Scopes,
		Capabilities: c.opts.Capabilities,
		Auth:         protocol.ConnectAuth{Token: token},
		Nonce:        challenge.Nonce,
	}

	payload, err := c.roundTrip(context.Background(), conn, protocol.MethodConnect, params, c.opts.HandshakeTimeout)
	if err != nil {
		c.failHandshake(gen, err)
		return
	}

	var hello protocol.Hello
	if err := json.Unmarshal(payload, &hello); err != nil {
		c.failHandshake(gen, fmt.Errorf("parsing hello: %w", err))
		return
	}

	c.finishHandshake(gen, &hello)
}

// finishHandshake transitions to StateConnected, records the hello, resets
// the backoff, and starts the keepalive ticker.
func (c *Client) finishHandshake(gen uint64, hello *protocol.Hello) {
	tick := c.opts.TickFallback
	if hello.Policy.TickIntervalMs > 0 {
		tick = time.Duration(hello.Policy.TickIntervalMs) * time.Millisecond
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateHandshaking {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.hello = hello
	c.tick = tick
	c.sessionedUp = true
	c.backoff.reset()
	c.startTickerLocked(tick)
	hs := c.handshake
	c.handshake = nil
	c.mu.Unlock()

	c.logger.Info("operator session established",
		"server", hello.Server.ID,
		"protocol", hello.Protocol,
		"methods", len(hello.Features.Methods),
		"tick", tick)

	if hs != nil {
		hs <- nil
	}
}

// failHandshake reports a handshake error back to the waiting Connect call.
// Teardown happens there, so a late failure for a stale gen is a no-op.
func (c *Client) failHandshake(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	hs := c.handshake
	c.handshake = nil
	c.mu.Unlock()

	if hs != nil {
		hs <- err
	}
}
