// ABOUTME: Automatic reconnection with capped exponential backoff
// ABOUTME: Single armed retry timer, delay doubles per failure, resets on success

package operator

import (
	"context"
	"time"
)

// backoff tracks the reconnect delay: starts at initial, doubles per failed
// attempt, capped at max, reset to initial on a successful handshake.
type backoff struct {
	initial time.Duration
	max     time.Duration
	cur     time.Duration
}

// delay returns the wait before the next attempt.
func (b *backoff) delay() time.Duration {
	if b.cur <= 0 {
		b.cur = b.initial
	}
	return b.cur
}

// fail doubles the delay after a failed attempt.
func (b *backoff) fail() {
	if b.cur <= 0 {
		b.cur = b.initial
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
}

// reset restores the initial delay after a successful handshake.
func (b *backoff) reset() {
	b.cur = b.initial
}

// scheduleRetry arms the reconnect timer. At most one timer is armed at a
// time; calls while one is pending are no-ops.
func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleRetryLocked()
}

func (c *Client) scheduleRetryLocked() {
	if c.retryTimer != nil || c.manual {
		return
	}
	delay := c.backoff.delay()
	c.retryTimer = time.AfterFunc(delay, c.retry)
	c.logger.Info("reconnect scheduled", "delay", delay)
}

// stopRetryLocked cancels a pending reconnect. Caller holds c.mu.
func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// retry runs one reconnect attempt when the timer fires. Failure doubles
// the backoff and re-arms; success is handled by the handshake path.
func (c *Client) retry() {
	c.mu.Lock()
	c.retryTimer = nil
	if c.manual || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.connect(context.Background(), true); err != nil {
		c.logger.Warn("reconnect attempt failed", "error", err)
		c.mu.Lock()
		c.backoff.fail()
		if !c.manual && c.state == StateDisconnected {
			c.scheduleRetryLocked()
		}
		c.mu.Unlock()
		return
	}

	c.logger.Info("reconnected to gateway")
}
