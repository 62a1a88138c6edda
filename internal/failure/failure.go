// Package failure classifies the ways a proxied request can fail.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of proxy failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUpstreamUnreachable
	KindUpstreamTimeout
	KindMalformedBody
	KindClientDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindMalformedBody:
		return "malformed_upstream_body"
	case KindClientDisconnected:
		return "client_disconnected"
	default:
		return "internal"
	}
}

// Status returns the HTTP status reported to the client for this kind.
// Client disconnects have no status: nothing is written.
func (k Kind) Status() int {
	switch k {
	case KindUpstreamUnreachable, KindMalformedBody:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindClientDisconnected:
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// Error is a proxy failure with its kind and underlying cause.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap creates an Error of the given kind.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Unreachable returns an error for a connection or DNS failure.
func Unreachable(op string, cause error) *Error {
	return Wrap(KindUpstreamUnreachable, op, cause)
}

// Timeout returns an error for an upstream that did not answer in time.
func Timeout(op string, cause error) *Error {
	return Wrap(KindUpstreamTimeout, op, cause)
}

// Malformed returns an error for a declared-text body that could not be decoded.
func Malformed(op string, cause error) *Error {
	return Wrap(KindMalformedBody, op, cause)
}

// Disconnected returns an error for a client that went away.
func Disconnected(op string, cause error) *Error {
	return Wrap(KindClientDisconnected, op, cause)
}

// KindOf extracts the failure kind from err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
