// Package xerrors holds the sentinel errors and context-carrying wrapper
// types shared across the transport core. Handlers compare against the
// sentinels with errors.Is; wrapper types attach peer/operation context
// without losing that comparability (Unwrap returns the sentinel).
package xerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol-level and resource-level failures.
var (
	// ErrProtocolViolation covers bad magic, bad hash, bad signature, or an
	// oversized length on the wire.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCryptoFailure covers a degenerate DH agreement or a MAC mismatch.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrDecodeFailure covers a truncated buffer, bad varint, or unknown
	// signing-key type.
	ErrDecodeFailure = errors.New("decode failure")

	// ErrTimeout covers a handshake, termination, or build-request timeout.
	ErrTimeout = errors.New("timeout")

	// ErrResourceExhausted covers a full incomplete-message cache or
	// pending-request map.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrBanned indicates the remote IP is currently on the ban list.
	ErrBanned = errors.New("peer banned")

	// ErrSessionClosed indicates an operation was attempted on a session
	// already in the closed state.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound indicates a router-info, lease-set, or peer was not known.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported indicates a signing/encryption scheme or transport
	// style that this build does not implement.
	ErrUnsupported = errors.New("unsupported")
)

// PeerError wraps an error with the remote identity hash and the operation
// being performed.
type PeerError struct {
	PeerHash  string
	Operation string
	Err       error
}

func (e *PeerError) Error() string {
	if e.PeerHash == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("peer %s: %s: %v", e.PeerHash, e.Operation, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }

// NewPeerError constructs a PeerError.
func NewPeerError(peerHash, operation string, err error) *PeerError {
	return &PeerError{PeerHash: peerHash, Operation: operation, Err: err}
}

// ProtocolError wraps ErrProtocolViolation (or another cause) with the
// wire-protocol phase in which it occurred (e.g. "ntcp-phase1",
// "ssu-session-confirmed").
type ProtocolError struct {
	Phase string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError constructs a ProtocolError wrapping ErrProtocolViolation.
func NewProtocolError(phase string, cause error) *ProtocolError {
	if cause == nil {
		cause = ErrProtocolViolation
	}
	return &ProtocolError{Phase: phase, Err: cause}
}

// DecodeError wraps ErrDecodeFailure with the name of the field that could
// not be parsed.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NewDecodeError constructs a DecodeError wrapping ErrDecodeFailure.
func NewDecodeError(field string, cause error) *DecodeError {
	if cause == nil {
		cause = ErrDecodeFailure
	}
	return &DecodeError{Field: field, Err: cause}
}

// IsRetryable reports whether retrying the operation that produced err
// might succeed (timeouts and not-found lookups are; protocol and crypto
// failures are not).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound)
}
