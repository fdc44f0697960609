// ABOUTME: Frame decoding and event payload normalization
// ABOUTME: Classifies inbound JSON frames as Response, Event, or unknown

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFrame is returned for frames whose type field is missing or not
// one of res/event. Callers drop and log these; they are never fatal.
var ErrUnknownFrame = errors.New("unknown frame type")

// Frame is the result of decoding one inbound wire message. Exactly one of
// Response or Event is non-nil.
type Frame struct {
	Response *Response
	Event    *Event

	// Raw holds the original bytes, needed for top-level event payload
	// normalization.
	Raw []byte
}

// Decode parses a single inbound frame. Malformed JSON or an unrecognized
// type yields an error; the caller is expected to drop the frame.
func Decode(data []byte) (*Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}

	switch head.Type {
	case TypeResponse:
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("parsing response frame: %w", err)
		}
		return &Frame{Response: &res, Raw: data}, nil

	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("parsing event frame: %w", err)
		}
		return &Frame{Event: &ev, Raw: data}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, head.Type)
	}
}

// framingKeys are the envelope fields of an event frame. Anything else at
// top level is payload data when the payload object itself is empty.
var framingKeys = map[string]bool{
	"type":         true,
	"event":        true,
	"seq":          true,
	"stateVersion": true,
	"payload":      true,
}

// EventPayload returns the effective payload of an event frame. The explicit
// payload object wins when present and non-empty; otherwise every top-level
// field except the framing keys is treated as payload.
func EventPayload(frame *Frame) (map[string]any, error) {
	if frame.Event == nil {
		return nil, errors.New("not an event frame")
	}

	if len(frame.Event.Payload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(frame.Event.Payload, &payload); err != nil {
			return nil, fmt.Errorf("parsing event payload: %w", err)
		}
		if len(payload) > 0 {
			return payload, nil
		}
	}

	var top map[string]any
	if err := json.Unmarshal(frame.Raw, &top); err != nil {
		return nil, fmt.Errorf("parsing event frame: %w", err)
	}
	payload := make(map[string]any, len(top))
	for k, v := range top {
		if !framingKeys[k] {
			payload[k] = v
		}
	}
	return payload, nil
}
