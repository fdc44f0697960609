// ABOUTME: Error types for the operator client
// ABOUTME: Sentinels plus typed timeout and server-reply errors

package operator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-operator/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send when no usable session exists.
	// Requests are never queued; callers retry after the client reconnects.
	ErrNotConnected = errors.New("not connected to gateway")

	// ErrAlreadyConnected is returned by Connect when a connection attempt
	// or live session already exists.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrDisconnected wraps the error every pending request fails with when
	// the connection drops, distinguishable from a server error reply.
	ErrDisconnected = errors.New("disconnected")
)

// TimeoutError is returned when a request's response never arrived within
// its configured timeout. The failure is isolated to that request.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.After)
}

// RequestError is a server error reply (ok:false) with the gateway's
// code/message/details and retry hints.
type RequestError struct {
	Method     string
	Code       string
	Message    string
	Details    json.RawMessage
	Retryable  bool
	RetryAfter time.Duration
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request %q failed: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("request %q failed: %s", e.Method, e.Message)
}

// newRequestError converts a wire error shape into a RequestError.
func newRequestError(method string, shape *protocol.ErrorShape) *RequestError {
	if shape == nil {
		return &RequestError{Method: method, Message: "unknown error"}
	}
	return &RequestError{
		Method:     method,
		Code:       shape.Code,
		Message:    shape.Message,
		Details:    shape.Details,
		Retryable:  shape.Retryable,
		RetryAfter: time.Duration(shape.RetryAfterMs) * time.Millisecond,
	}
}
