// ABOUTME: Tests for event routing: named handlers, generic channel, payload shapes
// ABOUTME: Covers fan-out, unsubscription, panic containment, normalization

package operator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestEvents_NamedHandlerFanOut(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	got1 := make(chan Event, 1)
	got2 := make(chan Event, 1)
	c.OnEvent("chat.message", func(ev Event) { got1 <- ev })
	c.OnEvent("chat.message", func(ev Event) { got2 <- ev })

	other := make(chan Event, 1)
	c.OnEvent("presence.update", func(ev Event) { other <- ev })

	gc.sendEvent(t, "chat.message", map[string]any{"text": "hello"})

	ev := waitEvent(t, got1)
	assert.Equal(t, "chat.message", ev.Name)
	assert.Equal(t, "hello", ev.Payload["text"])

	ev = waitEvent(t, got2)
	assert.Equal(t, "hello", ev.Payload["text"])

	select {
	case ev := <-other:
		t.Fatalf("presence handler got %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEvents_OffEvent(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	got := make(chan Event, 4)
	sub := c.OnEvent("chat.message", func(ev Event) { got <- ev })
	keep := make(chan Event, 4)
	c.OnEvent("chat.message", func(ev Event) { keep <- ev })

	c.OffEvent(sub)
	c.OffEvent(sub) // removing twice is harmless
	c.OffEvent(nil)

	gc.sendEvent(t, "chat.message", map[string]any{"n": 1})
	waitEvent(t, keep)

	select {
	case <-got:
		t.Fatal("removed handler still invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEvents_GenericChannel(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	gc.sendEvent(t, "presence.update", map[string]any{"agent": "a-1", "online": true})

	ev := waitEvent(t, c.Events())
	assert.Equal(t, "presence.update", ev.Name)
	assert.Equal(t, "a-1", ev.Payload["agent"])
	assert.Equal(t, true, ev.Payload["online"])
}

func TestEvents_TopLevelFieldsNormalized(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	// Legacy shape: data at the top level instead of under payload.
	gc.sendRaw(t, `{"type":"event","event":"chat.message","seq":7,"text":"hi","from":"agent-1"}`)

	ev := waitEvent(t, c.Events())
	assert.Equal(t, "chat.message", ev.Name)
	assert.Equal(t, int64(7), ev.Seq)
	assert.Equal(t, "hi", ev.Payload["text"])
	assert.Equal(t, "agent-1", ev.Payload["from"])
	assert.NotContains(t, ev.Payload, "type")
	assert.NotContains(t, ev.Payload, "seq")
}

func TestEvents_HandlerPanicContained(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	c.OnEvent("chat.message", func(Event) { panic("boom") })
	after := make(chan Event, 1)
	c.OnEvent("chat.message", func(ev Event) { after <- ev })

	gc.sendEvent(t, "chat.message", map[string]any{"n": 1})

	// The panicking handler neither kills the read loop nor blocks others.
	waitEvent(t, after)
	assert.True(t, c.IsConnected())

	gc.sendEvent(t, "chat.message", map[string]any{"n": 2})
	waitEvent(t, after)
}

func TestEvents_MalformedFrameIgnored(t *testing.T) {
	g := newTestGateway(t)
	c := newTestClient(t, g)
	require.NoError(t, c.Connect(context.Background()))
	gc := g.waitAccept(t)

	gc.sendRaw(t, `{not json`)
	gc.sendRaw(t, `{"type":"mystery"}`)

	// Connection survives garbage and keeps delivering.
	gc.sendEvent(t, "chat.message", map[string]any{"n": 1})
	ev := waitEvent(t, c.Events())
	assert.Equal(t, "chat.message", ev.Name)
	assert.True(t, c.IsConnected())
}
