package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired marks operations attempted with no identity bound.
	ErrAuthRequired = errors.New("no identity bound")

	// ErrStoreUnavailable marks transport loss talking to the thread store.
	ErrStoreUnavailable = errors.New("thread store unavailable")

	// ErrThreadNotFound marks writes against a thread that no longer exists.
	ErrThreadNotFound = errors.New("thread not found")
)

// GatewayErrorKind classifies completion gateway failures.
type GatewayErrorKind string

const (
	GatewayUnauthorized GatewayErrorKind = "unauthorized"
	GatewayBadRequest   GatewayErrorKind = "bad_request"
	GatewayUnreachable  GatewayErrorKind = "unreachable"
	GatewayServerError  GatewayErrorKind = "server_error"
)

// GatewayError is a failed completion call. Status is the HTTP status when
// one was received, zero otherwise.
type GatewayError struct {
	Kind    GatewayErrorKind
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion gateway %s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("completion gateway %s: %s", e.Kind, e.Message)
}

// UserFacing renders the failure the way it is written into the thread
// timeline: the message first, the status when known.
func (e *GatewayError) UserFacing() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return e.Message
}
