// ABOUTME: Tests for automatic reconnection and backoff arithmetic
// ABOUTME: Covers retry after drops, no retry after failed first connect

package operator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-operator/internal/protocol"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := backoff{initial: time.Second, max: 30 * time.Second}

	assert.Equal(t, time.Second, b.delay())
	b.fail()
	assert.Equal(t, 2*time.Second, b.delay())
	b.fail()
	assert.Equal(t, 4*time.Second, b.delay())
	for i := 0; i < 10; i++ {
		b.fail()
	}
	assert.Equal(t, 30*time.Second, b.delay())

	b.reset()
	assert.Equal(t, time.Second, b.delay())
}

func TestReconnect_AfterUnexpectedDrop(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))

	first := g.waitAccept(t)
	first.drop()

	// A new connection arrives and the session re-establishes.
	g.waitAccept(t)
	require.Eventually(t, c.IsConnected, 5*time.Second, 10*time.Millisecond)
}

func TestReconnect_SurvivesSendAfterRecovery(t *testing.T) {
	g := newTestGateway(t)
	g.configure(func(g *testGateway) {
		g.onRequest = func(gc *gatewayConn, req protocol.Request) bool {
			gc.respondOK(t, req.ID, map[string]any{"ok": true})
			return true
		}
	})
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))

	first := g.waitAccept(t)
	first.drop()
	g.waitAccept(t)
	require.Eventually(t, c.IsConnected, 5*time.Second, 10*time.Millisecond)

	_, err := c.Send(context.Background(), "health", nil)
	assert.NoError(t, err)
}

func TestReconnect_NotAfterFailedFirstConnect(t *testing.T) {
	g := newTestGateway(t)
	g.configure(func(g *testGateway) { g.rejectConnect = true })
	c := newTestClient(t, g)

	require.Error(t, c.Connect(context.Background()))
	g.waitAccept(t)

	// No prior successful handshake, so no retries are scheduled.
	select {
	case <-g.accepted:
		t.Fatal("unexpected reconnect attempt after failed first connect")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReconnect_StopsOnDisconnect(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	g.waitAccept(t)

	require.NoError(t, c.Disconnect())

	select {
	case <-g.accepted:
		t.Fatal("unexpected reconnect after explicit disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconnect_DisconnectCancelsPendingRetry(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g, func(o *Options) {
		o.ReconnectInitial = 150 * time.Millisecond
	})
	require.NoError(t, c.Connect(context.Background()))

	first := g.waitAccept(t)
	first.drop()

	// The retry timer is armed but has not fired yet; Disconnect kills it.
	require.Eventually(t, func() bool { return c.State() == StateDisconnected },
		2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Disconnect())

	select {
	case <-g.accepted:
		t.Fatal("retry fired after explicit disconnect")
	case <-time.After(400 * time.Millisecond):
	}
}
