// ABOUTME: In-process mock gateway for operator client tests
// ABOUTME: Speaks the challenge/connect handshake and records requests

package operator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-operator/internal/auth"
	"github.com/2389/coven-operator/internal/protocol"
)

type recordedRequest struct {
	conn *gatewayConn
	req  protocol.Request
}

// testGateway is a websocket server that performs the gateway side of the
// handshake and exposes every subsequent request to the test.
type testGateway struct {
	t   *testing.T
	srv *httptest.Server
	url string

	accepted chan *gatewayConn
	requests chan recordedRequest

	mu            sync.Mutex
	methods       []string
	events        []string
	tickMs        int
	rejectConnect bool
	skipChallenge bool
	onRequest     func(*gatewayConn, protocol.Request) bool
}

type gatewayConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	connect protocol.ConnectParams
}

func (gc *gatewayConn) connectParams() protocol.ConnectParams {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.connect
}

func (g *testGateway) configure(fn func(*testGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	g := &testGateway{
		t:        t,
		accepted: make(chan *gatewayConn, 8),
		requests: make(chan recordedRequest, 64),
		methods:  []string{"health", "echo"},
		events:   []string{"chat.message", "presence.update"},
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	g.url = "ws" + strings.TrimPrefix(g.srv.URL, "http")
	return g
}

func (g *testGateway) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	gc := &gatewayConn{ws: ws}
	g.accepted <- gc

	g.mu.Lock()
	skip := g.skipChallenge
	g.mu.Unlock()
	if !skip {
		gc.sendEvent(g.t, protocol.EventChallenge, map[string]any{"nonce": "nonce-1", "ts": time.Now().UnixMilli()})
	}

	for {
		var req protocol.Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		if req.Method == protocol.MethodConnect {
			g.handleConnect(gc, req)
			continue
		}

		g.mu.Lock()
		handler := g.onRequest
		g.mu.Unlock()
		if handler != nil && handler(gc, req) {
			continue
		}
		g.requests <- recordedRequest{conn: gc, req: req}
	}
}

func (g *testGateway) handleConnect(gc *gatewayConn, req protocol.Request) {
	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		gc.respondErr(g.t, req.ID, "bad_request", "malformed connect params")
		return
	}
	gc.mu.Lock()
	gc.connect = params
	gc.mu.Unlock()

	g.mu.Lock()
	reject := g.rejectConnect
	hello := protocol.Hello{
		Protocol: protocol.Version,
		Server:   protocol.ServerInfo{ID: "gw-test", Version: "0.0.0-test"},
		Features: protocol.Features{Methods: g.methods, Events: g.events},
		Defaults: protocol.SessionDefs{AgentID: "agent-1", MainSessionKey: "main"},
		Policy:   protocol.ServerPolicy{TickIntervalMs: g.tickMs},
	}
	g.mu.Unlock()

	if reject {
		gc.respondErr(g.t, req.ID, "auth_failed", "credential rejected")
		return
	}
	gc.respondOK(g.t, req.ID, hello)
}

func (gc *gatewayConn) send(t *testing.T, v any) {
	t.Helper()
	gc.writeMu.Lock()
	defer gc.writeMu.Unlock()
	if err := gc.ws.WriteJSON(v); err != nil {
		t.Logf("gateway write failed: %v", err)
	}
}

func (gc *gatewayConn) sendEvent(t *testing.T, name string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling event payload: %v", err)
	}
	gc.send(t, protocol.Event{Type: protocol.TypeEvent, Event: name, Payload: raw})
}

func (gc *gatewayConn) sendRaw(t *testing.T, data string) {
	gc.writeMu.Lock()
	defer gc.writeMu.Unlock()
	if err := gc.ws.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Logf("gateway write failed: %v", err)
	}
}

func (gc *gatewayConn) respondOK(t *testing.T, id string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Errorf("marshaling response payload: %v", err)
		return
	}
	gc.send(t, protocol.Response{Type: protocol.TypeResponse, ID: id, OK: true, Payload: raw})
}

func (gc *gatewayConn) respondErr(t *testing.T, id, code, message string) {
	gc.send(t, protocol.Response{
		Type:  protocol.TypeResponse,
		ID:    id,
		OK:    false,
		Error: &protocol.ErrorShape{Code: code, Message: message},
	})
}

func (gc *gatewayConn) drop() {
	_ = gc.ws.Close()
}

func (g *testGateway) waitAccept(t *testing.T) *gatewayConn {
	t.Helper()
	select {
	case gc := <-g.accepted:
		return gc
	case <-time.After(5 * time.Second):
		t.Fatal("gateway accepted no connection")
		return nil
	}
}

func (g *testGateway) waitRequest(t *testing.T) recordedRequest {
	t.Helper()
	select {
	case rr := <-g.requests:
		return rr
	case <-time.After(5 * time.Second):
		t.Fatal("gateway received no request")
		return recordedRequest{}
	}
}

// newTestClient builds a client pointed at the mock gateway with fast
// timeouts suitable for tests.
func newTestClient(t *testing.T, g *testGateway, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		URL:              g.url,
		Tokens:           auth.Static("test-token"),
		ClientID:         "operator-test",
		ClientName:       "Operator Test",
		Version:          "0.0.0-test",
		Scopes:           []string{"chat"},
		Logger:           slog.New(slog.DiscardHandler),
		RequestTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ReconnectInitial: 20 * time.Millisecond,
		ReconnectMax:     100 * time.Millisecond,
		TickFallback:     time.Hour,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}
