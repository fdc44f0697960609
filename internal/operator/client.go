// ABOUTME: Core operator client owning one persistent gateway connection
// ABOUTME: Lifecycle state machine, dial, read loop, and teardown logic

package operator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-operator/internal/auth"
	"github.com/2389/coven-operator/internal/protocol"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults applied by New when the corresponding Options field is zero.
const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultTickInterval     = 15 * time.Second
	DefaultEventBuffer      = 256

	// Delay between teardown and redial in Reconnect, so the server sees
	// the close before the new dial arrives.
	reconnectSettleDelay = 200 * time.Millisecond
)

// DialFunc is a network dialer override, matching websocket.Dialer.NetDialContext.
// Used to route the connection over a tailnet.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a Client.
type Options struct {
	// URL is the gateway websocket endpoint (ws:// or wss://). Required.
	URL string

	// Tokens supplies the credential presented during the handshake. Required.
	Tokens auth.TokenSource

	// Client identity sent in the connect request.
	ClientID     string
	ClientName   string
	Version      string
	Scopes       []string
	Capabilities []string

	// Dial overrides the network dialer (e.g. for tsnet).
	Dial DialFunc

	Logger *slog.Logger

	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	TickFallback     time.Duration
	EventBuffer      int
}

// Client is an operator connection to a coven gateway. It owns a single
// websocket, multiplexes request/response pairs over it, routes events to
// subscribers, keeps the session alive, and reconnects after unexpected
// drops. All methods are safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	// gen identifies the current connection epoch. Teardown bumps it so
	// stale read loops and timers become no-ops.
	gen uint64

	pending map[string]*pendingRequest

	// handshake is non-nil while a connect attempt awaits its hello.
	handshake   chan error
	challenged  bool
	hello       *protocol.Hello
	tick        time.Duration
	tickerStop  chan struct{}
	sessionedUp bool

	subs    map[string]map[uint64]EventHandler
	nextSub uint64
	events  chan Event

	backoff    backoff
	retryTimer *time.Timer
	manual     bool

	// writeMu serializes websocket writes; gorilla allows one writer.
	writeMu sync.Mutex
}

// New creates a Client. It does not connect; call Connect.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("operator: gateway URL is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("operator: token source is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = DefaultReconnectInitial
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	if opts.TickFallback <= 0 {
		opts.TickFallback = DefaultTickInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:    opts,
		logger:  logger.With("component", "operator"),
		pending: make(map[string]*pendingRequest),
		subs:    make(map[string]map[uint64]EventHandler),
		events:  make(chan Event, opts.EventBuffer),
		backoff: backoff{initial: opts.ReconnectInitial, max: opts.ReconnectMax},
	}, nil
}

// Connect dials the gateway and performs the handshake. It blocks until the
// session is established or fails; a failed first connect is returned to the
// caller without scheduling retries.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

func (c *Client) connect(ctx context.Context, isRetry bool) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, state)
	}
	if !isRetry {
		c.manual = false
		c.stopRetryLocked()
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Debug("dialing gateway", "url", c.opts.URL)

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	if c.opts.Dial != nil {
		dialer.NetDialContext = c.opts.Dial
	}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dialing gateway: %w", err)
	}

	hs := make(chan error, 1)
	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial; don't resurrect the connection.
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("connection attempt aborted")
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.state = StateHandshaking
	c.handshake = hs
	c.challenged = false
	c.mu.Unlock()

	go c.readLoop(conn, gen)

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case err := <-hs:
		if err != nil {
			c.teardown(gen, err)
			return fmt.Errorf("handshake failed: %w", err)
		}
		return nil
	case <-timer.C:
		c.teardown(gen, nil)
		return fmt.Errorf("handshake timed out after %s", c.opts.HandshakeTimeout)
	case <-ctx.Done():
		c.teardown(gen, nil)
		return ctx.Err()
	}
}

// Disconnect tears the connection down and disables automatic reconnection.
// It is idempotent; only a new Connect call revives the client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	c.stopRetryLocked()
	gen := c.gen
	c.mu.Unlock()

	c.teardown(gen, nil)
	return nil
}

// Reconnect force-cycles the connection: teardown, a short settle delay,
// then a fresh Connect.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Disconnect()

	select {
	case <-time.After(reconnectSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.Connect(ctx)
}

// readLoop pumps frames off the wire for one connection epoch. It exits when
// the read fails, tearing down that epoch.
func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(gen, fmt.Errorf("connection closed: %w", err))
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping unrecognized frame", "error", err)
			continue
		}

		switch {
		case frame.Response != nil:
			c.resolvePending(frame.Response)
		case frame.Event != nil:
			c.handleEvent(conn, gen, frame)
		}
	}
}

// teardown invalidates connection epoch gen: closes the socket, fails all
// pending requests, stops the keepalive ticker, and arms a reconnect if the
// drop was unexpected. Safe to call multiple times; later calls for a stale
// gen are no-ops.
func (c *Client) teardown(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = StateDisconnected
	hs := c.handshake
	c.handshake = nil
	c.stopTickerLocked()
	swept := c.sweepPendingLocked()
	manual := c.manual
	shouldRetry := !manual && c.sessionedUp && prev == StateConnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	for _, pr := range swept {
		pr.timer.Stop()
		pr.ch <- result{err: fmt.Errorf("%w while awaiting %q response", ErrDisconnected, pr.method)}
	}

	if hs != nil {
		if cause == nil {
			cause = fmt.Errorf("connection closed during handshake")
		}
		hs <- cause
	}

	if prev == StateConnected {
		if manual {
			c.logger.Info("disconnected from gateway", "pending_failed", len(swept))
		} else {
			c.logger.Warn("gateway connection lost", "error", cause, "pending_failed", len(swept))
		}
	}

	if shouldRetry {
		c.scheduleRetry()
	}
}

// writeFrame serializes a frame onto the given connection.
func (c *Client) writeFrame(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the handshake has completed on the current
// connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// AvailableMethods returns the method names advertised in the last hello.
func (c *Client) AvailableMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hello == nil {
		return nil
	}
	return append([]string(nil), c.hello.Features.Methods...)
}

// AvailableEvents returns the event names advertised in the last hello.
func (c *Client) AvailableEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hello == nil {
		return nil
	}
	return append([]string(nil), c.hello.Features.Events...)
}

// SessionDefaults returns the default session routing info from the last
// hello, and whether a hello has been received.
func (c *Client) SessionDefaults() (protocol.SessionDefs, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hello == nil {
		return protocol.SessionDefs{}, false
	}
	return c.hello.Defaults, true
}

// ServerInfo returns the gateway identity from the last hello.
func (c *Client) ServerInfo() (protocol.ServerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hello == nil {
		return protocol.ServerInfo{}, false
	}
	return c.hello.Server, true
}

// Snapshot returns the presence/health snapshot from the last hello, or nil
// if the server sent none.
func (c *Client) Snapshot() *protocol.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hello == nil {
		return nil
	}
	return c.hello.Snapshot
}
