package verr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New(ProtocolDrop, cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "protocol_drop")
}

func TestKindOfRecognizesWrappedError(t *testing.T) {
	e := New(SessionFatal, errors.New("too many failures"))
	wrapped := errors.Join(errors.New("context"), e)

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, SessionFatal, kind)
}

func TestKindOfDefaultsToTransientForPlainErrors(t *testing.T) {
	kind, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, Transient, kind)
}

func TestActionableIsConfigFatal(t *testing.T) {
	e := Actionable("key file must be exactly 32 bytes; run: head -c 32 /dev/urandom > %s", "/etc/veil/psk")
	assert.Equal(t, ConfigFatal, e.Kind)
	assert.Contains(t, e.Error(), "32 bytes")
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		Transient:       "transient",
		ProtocolDrop:    "protocol_drop",
		HandshakeReject: "handshake_reject",
		SessionFatal:    "session_fatal",
		ConfigFatal:     "config_fatal",
		Bug:             "bug",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
