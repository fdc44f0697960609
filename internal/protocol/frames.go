// ABOUTME: Wire frame types for the gateway operator protocol
// ABOUTME: One JSON object per frame: req, res, or event

package protocol

import "encoding/json"

// Version is the protocol version this client speaks. The connect
// handshake negotiates within [MinVersion, Version].
const (
	Version    = 3
	MinVersion = 3
)

// Frame type discriminators.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Request is a client-initiated RPC frame. The ID must be unique for the
// lifetime of the connection and is echoed back on the matching Response.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response settles exactly one Request, matched by ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the server's error envelope on ok:false responses.
type ErrorShape struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryAfterMs int             `json:"retryAfterMs,omitempty"`
}

// Event is pushed by the server without a preceding request. The payload may
// be carried in Payload or spread across top-level fields; use
// EventPayload to normalize.
type Event struct {
	Type         string          `json:"type"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Seq          int64           `json:"seq,omitempty"`
	StateVersion *StateVersion   `json:"stateVersion,omitempty"`
}

// StateVersion carries the server's presence/health state counters. The
// client passes these through uninterpreted.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// NewRequest builds a request frame, marshaling params if non-nil.
func NewRequest(id, method string, params any) (*Request, error) {
	req := &Request{
		Type:   TypeRequest,
		ID:     id,
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}
