// Package verr implements the §7 error taxonomy: a small typed wrapper
// distinguishing the six error kinds so callers can branch on policy
// (silent drop, local retry, surface-to-UI, tear down session) instead of
// string-matching wrapped errors.
//
// The teacher (transport/internet/gametunnel) has no equivalent — every
// failure there is a plain fmt.Errorf, because a single xray-core
// transport plugin has no session lifecycle to make policy decisions
// about. This is the one piece of the ambient stack built on the standard
// library rather than a pack dependency: no example repo in the retrieval
// pack implements an error-kind taxonomy, and the taxonomy itself is
// mandated bit-for-bit by §7, not an invented abstraction. See DESIGN.md.
package verr

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories in §7.
type Kind uint8

const (
	// Transient is recoverable locally with no session-state change
	// (EAGAIN on send, an ephemeral DNS failure).
	Transient Kind = iota
	// ProtocolDrop covers AEAD auth failure, replay hit, or a malformed
	// frame: silently drop, increment a counter, never surface.
	ProtocolDrop
	// HandshakeReject covers a stale timestamp, bad PSK, or an expired
	// ticket: drop the incoming datagram; if we are the initiator, this
	// surfaces as a reconnect cause.
	HandshakeReject
	// SessionFatal covers N consecutive auth failures or a rekey abort:
	// tear the session down and transition to Reconnecting.
	SessionFatal
	// ConfigFatal covers a PSK file under 32 bytes or a denied TUN open:
	// surface to the UI with an actionable message and refuse to start.
	ConfigFatal
	// Bug marks an internal invariant violation. Debug builds panic with
	// the captured state; this is never silent.
	Bug
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ProtocolDrop:
		return "protocol_drop"
	case HandshakeReject:
		return "handshake_reject"
	case SessionFatal:
		return "session_fatal"
	case ConfigFatal:
		return "config_fatal"
	case Bug:
		return "bug"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind alongside the wrapped cause, so
// callers can type-assert or errors.As instead of matching on strings.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with the given kind.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Newf is a convenience constructor matching fmt.Errorf's call shape.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and
// reports Transient as the zero-value fallback so an unrecognized error
// defaults to the least disruptive policy rather than silently matching
// SessionFatal.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Transient, false
}

// Actionable returns a ConfigFatal error whose message contains the
// required remediation text (§7: "must contain the remediation").
func Actionable(format string, args ...any) *Error {
	return Newf(ConfigFatal, format, args...)
}
