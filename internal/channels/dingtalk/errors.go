package dingtalk

import (
	"errors"
	"fmt"
)

// ErrNoTransportAvailable is returned when neither a webhook nor an allowed
// API path can deliver an outbound message.
var ErrNoTransportAvailable = errors.New("no available webhook, and enableOpenApiSend=false")

// ErrInvalidTokenResponse marks a token exchange whose response lacks a usable
// token or carries a non-positive TTL.
var ErrInvalidTokenResponse = errors.New("invalid token response")

// AuthError reports a credential or token-exchange failure.
type AuthError struct {
	Op  string // "openapi token", "oapi token"
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("dingtalk %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network failure or non-2xx HTTP status.
// Status is 0 when no response was received.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Message, e.Err)
	}
	return "transport: " + e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a 2xx response whose body carries a vendor error code.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("code=%s msg=%s", e.Code, e.Message)
}

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Field + " is required"
	}
	return e.Field + ": " + e.Message
}

// PayloadTooLargeError reports an inline payload over its hard cap.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes > %d", e.Size, e.Limit)
}

func missing(field string) error { return &ValidationError{Field: field} }
