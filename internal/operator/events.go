// ABOUTME: Event demultiplexing to named subscribers and a generic channel
// ABOUTME: Payload normalization, panic isolation, drop-on-full delivery

package operator

import (
	"github.com/2389/coven-operator/internal/protocol"
)

// Event is a server push delivered to subscribers.
type Event struct {
	Name         string
	Payload      map[string]any
	Seq          int64
	StateVersion *protocol.StateVersion
}

// EventHandler receives events for a subscribed name. Handlers run on the
// read loop's dispatch path and should return quickly.
type EventHandler func(Event)

// Subscription identifies one registered handler for OffEvent.
type Subscription struct {
	name string
	id   uint64
}

// OnEvent registers a handler for events with the given name. Multiple
// handlers per name are allowed; each receives every matching event.
func (c *Client) OnEvent(name string, handler EventHandler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[name] == nil {
		c.subs[name] = make(map[uint64]EventHandler)
	}
	c.nextSub++
	c.subs[name][c.nextSub] = handler
	return &Subscription{name: name, id: c.nextSub}
}

// OffEvent removes a previously registered handler. Unknown or already
// removed subscriptions are ignored.
func (c *Client) OffEvent(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.subs[sub.name]
	if !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(c.subs, sub.name)
	}
}

// Events returns a channel carrying every event regardless of name. The
// channel is buffered; when the consumer falls behind, new events are
// dropped with a warning rather than blocking the read loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

// dispatchEvent normalizes an event frame and fans it out to named handlers
// and the generic channel.
func (c *Client) dispatchEvent(frame *protocol.Frame) {
	payload, err := protocol.EventPayload(frame)
	if err != nil {
		c.logger.Warn("dropping event with bad payload", "event", frame.Event.Event, "error", err)
		return
	}

	ev := Event{
		Name:         frame.Event.Event,
		Payload:      payload,
		Seq:          frame.Event.Seq,
		StateVersion: frame.Event.StateVersion,
	}

	c.mu.Lock()
	handlers := make([]EventHandler, 0, len(c.subs[ev.Name]))
	for _, h := range c.subs[ev.Name] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.invokeHandler(ev, h)
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event channel full, dropping event", "event", ev.Name, "seq", ev.Seq)
	}
}

// invokeHandler runs one handler, containing panics so a misbehaving
// subscriber cannot kill the read loop.
func (c *Client) invokeHandler(ev Event, h EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ev)
}
