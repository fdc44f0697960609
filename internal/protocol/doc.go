// Package protocol defines the wire format for the coven gateway operator
// protocol: one JSON object per frame over a persistent duplex text
// connection.
//
// # Frames
//
// Three frame types flow on the wire:
//
//	Request:  {"type":"req","id":"...","method":"...","params":{...}}
//	Response: {"type":"res","id":"...","ok":true,"payload":{...}}
//	Event:    {"type":"event","event":"...","payload":{...},"seq":7}
//
// Responses are matched to requests by id. Events carry optional seq and
// stateVersion markers which pass through uninterpreted.
//
// # Handshake
//
// The server pushes a connect.challenge event as soon as the transport
// opens. The client answers with a connect request carrying its protocol
// range, identity, requested role, scopes, and a bearer token; the matching
// response carries the Hello payload (negotiated protocol, server identity,
// advertised features, session defaults, policy limits).
//
// # Payload normalization
//
// Event producers may place payload fields at the top level of the frame
// instead of inside payload. EventPayload folds both shapes into one map,
// excluding the framing keys (type, event, seq, stateVersion, payload).
package protocol
