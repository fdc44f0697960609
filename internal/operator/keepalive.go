// ABOUTME: Keepalive ticker issuing periodic health requests
// ABOUTME: One ticker per session, interval from the server's hello policy

package operator

import (
	"context"
	"time"

	"github.com/2389/coven-operator/internal/protocol"
)

// startTickerLocked starts the keepalive loop for the current session,
// replacing any previous one. Caller holds c.mu.
func (c *Client) startTickerLocked(interval time.Duration) {
	c.stopTickerLocked()
	stop := make(chan struct{})
	c.tickerStop = stop
	go c.tickLoop(interval, stop)
}

// stopTickerLocked stops the keepalive loop if one is running. Caller holds
// c.mu.
func (c *Client) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

// tickLoop sends a health request every interval until stopped. Tick
// failures are logged at debug and otherwise ignored; liveness comes from
// the read loop noticing the dead connection, not from tick outcomes.
func (c *Client) tickLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, err := c.Send(ctx, protocol.MethodHealth, nil, WithTimeout(interval))
			cancel()
			if err != nil {
				c.logger.Debug("keepalive tick failed", "error", err)
			}
		}
	}
}
