package handshake

import "github.com/google/uuid"

// NewClientCorrelationID mints an opaque identifier for associating a
// cached ticket or an in-flight handshake attempt with surrounding log
// lines and IPC status events. It never appears on the wire — the wire
// protocol's own SessionID (§6, a protocol-fixed uint64) is the field
// peers actually exchange — this is purely a local debugging aid, the
// role SAGE-X-project-sage's handshake package uses uuid.NewString() for
// when correlating a client's handshake records across its own logs.
func NewClientCorrelationID() string {
	return uuid.NewString()
}
