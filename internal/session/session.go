package session

import (
	"sync"
	"time"

	"github.com/veilnet/veil/internal/obfs"
)

// Rekey thresholds (§4.5 "Rekey").
const (
	RekeyBytesThreshold   = 1 << 30 // 1 GiB
	RekeyPacketsThreshold = 1 << 24
	RekeyElapsedThreshold = time.Hour
	DefaultDrainGrace     = 2 * time.Second
)

// Session is the authoritative per-peer state created when a handshake
// completes and destroyed on idle-timeout, explicit close, or
// unrecoverable authentication failure (§4).
type Session struct {
	mu sync.Mutex

	SessionID uint64

	Current  Keys
	Previous Keys
	hasPrev  bool
	prevZeroDeadline time.Time

	SendSeq     uint64
	ReplayState ReplayWindow

	RetransmitBuf *RetransmitBuffer
	AckState      AckState

	ObfProfile *obfs.Profile

	CreatedAt    time.Time
	LastActivity time.Time

	BytesSentSinceRekey   uint64
	PacketsSentSinceRekey uint64
	rekeyStartedAt        time.Time

	ConsecutiveAuthFailures int
}

// NewSession constructs a Session with zeroed sequence counters, per the
// handshake completion contract (§4.4: "constructs a Session with
// sequence counters zeroed").
func NewSession(sessionID uint64, keys Keys, profile *obfs.Profile, now time.Time) *Session {
	return &Session{
		SessionID:     sessionID,
		Current:       keys,
		RetransmitBuf: NewRetransmitBuffer(0),
		ObfProfile:    profile,
		CreatedAt:     now,
		LastActivity:  now,
		rekeyStartedAt: now,
	}
}

// NextSendSeq reserves the next outbound sequence number. Sequence 0 is
// reserved for the RESPONSE frame (§4.4: "the first data frame uses
// counter 1"), so callers must seed SendSeq to 1 before the first call
// when constructing the initiator's session.
func (s *Session) NextSendSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.SendSeq
	s.SendSeq++
	return seq
}

// RekeyDue reports whether any of the three rekey triggers has fired
// (§4.5 "Rekey").
func (s *Session) RekeyDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BytesSentSinceRekey > RekeyBytesThreshold ||
		s.PacketsSentSinceRekey > RekeyPacketsThreshold ||
		now.Sub(s.rekeyStartedAt) > RekeyElapsedThreshold
}

// RecordSent updates the rekey accounting counters after a successful
// outbound send.
func (s *Session) RecordSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BytesSentSinceRekey += uint64(n)
	s.PacketsSentSinceRekey++
}

// BeginRekey installs newKeys as Current, retaining the old Current as
// Previous until drainGrace elapses (§4.5: "Previous keys linger
// drain_grace for in-flight packets").
func (s *Session) BeginRekey(newKeys Keys, now time.Time, drainGrace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Previous = s.Current
	s.hasPrev = true
	s.prevZeroDeadline = now.Add(drainGrace)
	s.Current = newKeys
	s.BytesSentSinceRekey = 0
	s.PacketsSentSinceRekey = 0
	s.rekeyStartedAt = now
}

// DrainPreviousKeys zeroes Previous once drain_grace has elapsed
// (§4.5 zeroization discipline).
func (s *Session) DrainPreviousKeys(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPrev && !now.Before(s.prevZeroDeadline) {
		s.Previous.Zero()
		s.hasPrev = false
	}
}

// Close zeroes all key material on every exit path (§4.5 zeroization
// discipline).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Current.Zero()
	if s.hasPrev {
		s.Previous.Zero()
		s.hasPrev = false
	}
}

// Touch updates LastActivity, used by the idle-timeout in the event loop.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = now
}
