// Package sshcerr collects the sentinel error kinds from the taxonomy
// in this library's error handling design, so callers can test error
// identity with errors.Is rather than string matching.
package sshcerr

import "errors"

var (
	// ErrIO wraps a transport read/write failure. Fatal; the session
	// is poisoned.
	ErrIO = errors.New("sshc: i/o error")

	// ErrTimeout indicates a deadline elapsed on a blocking read.
	// Fatal; the session is poisoned.
	ErrTimeout = errors.New("sshc: timeout")

	// ErrMalformedWire indicates a decode underrun or illegal length
	// in the binary wire format.
	ErrMalformedWire = errors.New("sshc: malformed wire encoding")

	// ErrMACMismatch indicates a packet failed MAC/tag verification.
	// Fatal; the session sends DISCONNECT(2) and tears down.
	ErrMACMismatch = errors.New("sshc: mac mismatch")

	// ErrProtocolViolation indicates an unexpected message code, or a
	// channel id with no matching table entry. Fatal; DISCONNECT(2).
	ErrProtocolViolation = errors.New("sshc: protocol violation")

	// ErrNegotiationFailed indicates no common algorithm existed
	// between the client's and server's KEXINIT name-lists.
	ErrNegotiationFailed = errors.New("sshc: kex negotiation failed")

	// ErrAuthRejected indicates every offered auth method was
	// exhausted without success. Non-fatal; the session remains
	// usable for a further auth attempt.
	ErrAuthRejected = errors.New("sshc: authentication rejected")

	// ErrChannelRejected indicates CHANNEL_OPEN_FAILURE. Non-fatal;
	// the channel is discarded.
	ErrChannelRejected = errors.New("sshc: channel open refused")

	// ErrSessionDead indicates an operation was attempted on a
	// session already poisoned by a prior fatal error.
	ErrSessionDead = errors.New("sshc: session is no longer usable")

	// ErrOversizePacket indicates an inbound packet exceeded the
	// 35000-byte on-wire bound.
	ErrOversizePacket = errors.New("sshc: oversize packet")

	// ErrHostKeyRejected indicates a HostKeyCallback refused the
	// server's offered host key.
	ErrHostKeyRejected = errors.New("sshc: host key rejected")
)
