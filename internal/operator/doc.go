// Package operator implements the client side of the coven gateway operator
// protocol: one persistent websocket session carrying requests, responses,
// and server-pushed events.
//
// # Lifecycle
//
// A Client moves through disconnected -> connecting -> handshaking ->
// connected. Connect dials the gateway and waits for the server's
// connect.challenge event, answers it with a connect request carrying the
// credential from the configured token source, and completes on the hello
// payload. The whole handshake is bounded by one timeout (15s by default).
//
// # Requests
//
// Send issues a request with a fresh correlation id and blocks for the
// matching response. In-flight requests are independent: each has its own
// timeout, and responses arriving out of order settle whichever request
// they correlate to. When the connection drops, every in-flight request
// fails promptly with ErrDisconnected. Requests are never queued while
// disconnected; Send fails fast with ErrNotConnected.
//
// # Events
//
// Server events are routed to handlers registered per event name via
// OnEvent, and to the generic Events channel. The first connect.challenge
// of a handshake is consumed internally and not delivered. Handler panics
// are contained; a slow Events consumer causes drops, not backpressure on
// the read loop.
//
// # Keepalive and Reconnection
//
// While connected, the client issues a health request at the interval the
// server advertised in hello (15s fallback). After an unexpected drop of an
// established session the client reconnects with exponential backoff (1s
// doubling to a 30s cap, reset on success). Disconnect is explicit and
// final: no reconnection until the next Connect call.
package operator
