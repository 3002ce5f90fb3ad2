package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veilnet/veil/internal/obfs"
)

func testKeys() Keys {
	var k Keys
	for i := range k.SendKey {
		k.SendKey[i] = byte(i)
	}
	for i := range k.RecvKey {
		k.RecvKey[i] = byte(i + 1)
	}
	for i := range k.SendNonceBase {
		k.SendNonceBase[i] = byte(i + 2)
	}
	for i := range k.RecvNonceBase {
		k.RecvNonceBase[i] = byte(i + 3)
	}
	return k
}

func testProfile() *obfs.Profile {
	var seed [obfs.SeedSize]byte
	copy(seed[:], []byte("session-test-profile-seed-01234"))
	return obfs.NewProfile(seed, obfs.DefaultConfig())
}

func TestReplayWindowRejectsExactDuplicate(t *testing.T) {
	var w ReplayWindow
	require.True(t, w.Check(100))
	w.Accept(100)
	require.False(t, w.Check(100))
}

func TestReplayWindowRejectsOutsideTrailingWindow(t *testing.T) {
	var w ReplayWindow
	w.Accept(1000)
	require.False(t, w.Check(1000-ReplayWindowSize))
	require.True(t, w.Check(1000-ReplayWindowSize+1))
}

func TestReplayWindowAcceptsOutOfOrderOnce(t *testing.T) {
	var w ReplayWindow
	w.Accept(100)
	require.True(t, w.Check(95))
	w.Accept(95)
	require.False(t, w.Check(95))
	require.False(t, w.Check(100))
}

func TestReplayWindowAdvancesHighWaterMark(t *testing.T) {
	var w ReplayWindow
	w.Accept(100)
	w.Accept(105)
	require.Equal(t, uint64(105), w.RecvSeqHigh())
	require.False(t, w.Check(105))
	require.True(t, w.Check(106))
}

func TestAckStateBasicAdvance(t *testing.T) {
	var a AckState
	a.Ack(10)
	require.True(t, a.IsAcked(10))
	require.False(t, a.IsAcked(11))

	a.Ack(15)
	require.Equal(t, uint64(15), a.Head())
	require.True(t, a.IsAcked(15))
	require.True(t, a.IsAcked(10))
}

func TestAckStateOutOfOrderSetsBit(t *testing.T) {
	var a AckState
	a.Ack(20)
	a.Ack(18)
	require.True(t, a.IsAcked(18))
	require.False(t, a.IsAcked(19))
}

func TestAckStateClearsOnLargeJump(t *testing.T) {
	var a AckState
	a.Ack(10)
	a.Ack(9) // within window, sets a bit
	a.Ack(10 + AckWindowSize + 5)
	require.False(t, a.IsAcked(9))
}

func TestRetransmitBufferStoreAndRemove(t *testing.T) {
	buf := NewRetransmitBuffer(4)
	now := time.Now()
	buf.Store(1, []byte("a"), now, DefaultInitialRTO)
	buf.Store(2, []byte("b"), now, DefaultInitialRTO)
	require.Equal(t, 2, buf.Len())

	buf.Remove(1)
	require.Equal(t, 1, buf.Len())
}

func TestRetransmitBufferDropsOldestOnOverflow(t *testing.T) {
	buf := NewRetransmitBuffer(2)
	now := time.Now()
	buf.Store(1, []byte("a"), now, DefaultInitialRTO)
	buf.Store(2, []byte("b"), now, DefaultInitialRTO)
	dropped := buf.Store(3, []byte("c"), now, DefaultInitialRTO)
	require.True(t, dropped)
	require.Equal(t, 2, buf.Len())
}

func TestRetransmitBufferDueForRetransmit(t *testing.T) {
	buf := NewRetransmitBuffer(4)
	t0 := time.Now()
	buf.Store(1, []byte("a"), t0, 10*time.Millisecond)

	due, exhausted := buf.DueForRetransmit(t0.Add(5*time.Millisecond), time.Second, 5)
	require.Empty(t, due)
	require.Empty(t, exhausted)

	due, exhausted = buf.DueForRetransmit(t0.Add(20*time.Millisecond), time.Second, 5)
	require.Len(t, due, 1)
	require.Empty(t, exhausted)
	require.Equal(t, uint64(1), due[0].Sequence)
}

func TestRetransmitBufferExhaustsAfterMaxAttempts(t *testing.T) {
	buf := NewRetransmitBuffer(4)
	t0 := time.Now()
	buf.Store(1, []byte("a"), t0, time.Millisecond)

	now := t0
	for i := 0; i < DefaultMaxRetransmits; i++ {
		now = now.Add(time.Second)
		due, exhausted := buf.DueForRetransmit(now, time.Second, DefaultMaxRetransmits)
		require.Len(t, due, 1)
		require.Empty(t, exhausted)
	}
	now = now.Add(2 * time.Second)
	_, exhausted := buf.DueForRetransmit(now, time.Second, DefaultMaxRetransmits)
	require.Equal(t, []uint64{1}, exhausted)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keysA := testKeys()
	// Peer B's view is the mirror: what A sends, B receives, so B's
	// Current must have RecvKey == A's SendKey and RecvNonceBase == A's
	// SendNonceBase for DecryptInbound to succeed.
	keysB := Keys{
		RecvKey:       keysA.SendKey,
		RecvNonceBase: keysA.SendNonceBase,
		SendKey:       keysA.RecvKey,
		SendNonceBase: keysA.RecvNonceBase,
	}

	profile := testProfile()
	now := time.Now()
	sessionA := NewSession(1, keysA, profile, now)
	sessionA.SendSeq = 1
	sessionB := NewSession(1, keysB, profile, now)

	datagram, seq, err := sessionA.EncryptOutbound(0, []byte("hello tunnel"), true, now)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	view, err := sessionB.DecryptInbound(datagram)
	require.NoError(t, err)
	require.Equal(t, "hello tunnel", string(view.Payload))
	require.True(t, view.Fin)
	require.Equal(t, seq, view.Sequence)
}

func TestDecryptInboundRejectsReplay(t *testing.T) {
	keysA := testKeys()
	keysB := Keys{
		RecvKey:       keysA.SendKey,
		RecvNonceBase: keysA.SendNonceBase,
		SendKey:       keysA.RecvKey,
		SendNonceBase: keysA.RecvNonceBase,
	}
	profile := testProfile()
	now := time.Now()
	sessionA := NewSession(1, keysA, profile, now)
	sessionA.SendSeq = 1
	sessionB := NewSession(1, keysB, profile, now)

	datagram, _, err := sessionA.EncryptOutbound(0, []byte("payload"), true, now)
	require.NoError(t, err)

	_, err = sessionB.DecryptInbound(datagram)
	require.NoError(t, err)

	_, err = sessionB.DecryptInbound(datagram)
	require.ErrorIs(t, err, ErrDropped)
}

func TestDecryptInboundRejectsTamperedCiphertext(t *testing.T) {
	keysA := testKeys()
	keysB := Keys{
		RecvKey:       keysA.SendKey,
		RecvNonceBase: keysA.SendNonceBase,
		SendKey:       keysA.RecvKey,
		SendNonceBase: keysA.RecvNonceBase,
	}
	profile := testProfile()
	now := time.Now()
	sessionA := NewSession(1, keysA, profile, now)
	sessionA.SendSeq = 1
	sessionB := NewSession(1, keysB, profile, now)

	datagram, _, err := sessionA.EncryptOutbound(0, []byte("payload"), true, now)
	require.NoError(t, err)
	datagram[len(datagram)-1] ^= 0xFF

	_, err = sessionB.DecryptInbound(datagram)
	require.ErrorIs(t, err, ErrDropped)
}

func TestDecryptInboundFallsBackToPreviousKeyDuringDrain(t *testing.T) {
	keysA := testKeys()
	keysB := Keys{
		RecvKey:       keysA.SendKey,
		RecvNonceBase: keysA.SendNonceBase,
		SendKey:       keysA.RecvKey,
		SendNonceBase: keysA.RecvNonceBase,
	}
	profile := testProfile()
	now := time.Now()
	sessionA := NewSession(1, keysA, profile, now)
	sessionA.SendSeq = 1
	sessionB := NewSession(1, keysB, profile, now)

	// A seals a datagram under its pre-rekey key, but it arrives at B
	// after B has already rotated Current to a fresh keyset — modeling
	// an in-flight packet racing a rekey (§4.5 "Previous keys linger
	// drain_grace for in-flight packets").
	datagram, _, err := sessionA.EncryptOutbound(0, []byte("in-flight"), true, now)
	require.NoError(t, err)

	var newKeys Keys
	for i := range newKeys.SendKey {
		newKeys.SendKey[i] = byte(200 + i)
		newKeys.RecvKey[i] = byte(100 + i)
	}
	sessionB.BeginRekey(newKeys, now, DefaultDrainGrace)
	require.True(t, sessionB.hasPrev)

	view, err := sessionB.DecryptInbound(datagram)
	require.NoError(t, err)
	require.Equal(t, "in-flight", string(view.Payload))

	// Once drain_grace has elapsed, Previous is zeroed and no longer
	// retained as a fallback key.
	sessionB.DrainPreviousKeys(now.Add(DefaultDrainGrace + time.Second))
	require.False(t, sessionB.hasPrev)
}

func TestRekeyControlRoundTrip(t *testing.T) {
	keysA := testKeys()
	profile := testProfile()
	s := NewSession(1, keysA, profile, time.Now())

	_, newKeys, err := s.BuildRekeyControl(7, true)
	require.NoError(t, err)
	require.NotEqual(t, keysA.SendKey, newKeys.SendKey)
}

func TestRekeyControlSymmetricBetweenPeers(t *testing.T) {
	keysA := testKeys()
	// A real peer pair shares keys per direction: the key A uses to
	// decrypt B's frames (A.RecvKey) is byte-identical to the key B uses
	// to encrypt frames to A (B.SendKey).
	keysB := Keys{SendKey: keysA.RecvKey}

	profile := testProfile()
	sA := NewSession(1, keysA, profile, time.Now())
	sB := NewSession(1, keysB, profile, time.Now())

	// A is the initiator, B the responder, mirroring the handshake's own
	// role assignment (handshake.DeriveSessionMaterial) — both sides
	// derive byte-identical HKDF material from the symmetric ikm, but the
	// role swap means each installs the opposite half as SendKey, so the
	// correct invariant is cross-directional, not equal.
	ctrl, newKeysA, err := sA.BuildRekeyControl(3, true)
	require.NoError(t, err)

	gen, newKeysB, err := sB.ApplyRekeyControl(ctrl.Payload, false)
	require.NoError(t, err)
	require.Equal(t, uint64(3), gen)
	require.Equal(t, newKeysA.SendKey, newKeysB.RecvKey)
	require.Equal(t, newKeysA.RecvKey, newKeysB.SendKey)
	require.Equal(t, newKeysA.SendNonceBase, newKeysB.RecvNonceBase)
	require.Equal(t, newKeysA.RecvNonceBase, newKeysB.SendNonceBase)
}

func TestBeginRekeyRetainsPreviousUntilDrain(t *testing.T) {
	keysA := testKeys()
	profile := testProfile()
	now := time.Now()
	s := NewSession(1, keysA, profile, now)

	newKeys := testKeys()
	newKeys.SendKey[0] = 0xFF
	s.BeginRekey(newKeys, now, 2*time.Second)

	require.Equal(t, newKeys.SendKey, s.Current.SendKey)
	require.True(t, s.hasPrev)

	s.DrainPreviousKeys(now.Add(time.Second))
	require.True(t, s.hasPrev) // not yet due

	s.DrainPreviousKeys(now.Add(3 * time.Second))
	require.False(t, s.hasPrev)
}

func TestRekeyDueOnByteThreshold(t *testing.T) {
	profile := testProfile()
	s := NewSession(1, testKeys(), profile, time.Now())
	s.BytesSentSinceRekey = RekeyBytesThreshold + 1
	require.True(t, s.RekeyDue(time.Now()))
}

func TestFragmentPlaintextSplitsOnBudget(t *testing.T) {
	p := make([]byte, 100)
	chunks, err := FragmentPlaintext(p, 60, 4, 4)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
}

func TestFragmentPlaintextRejectsUnworkableMTU(t *testing.T) {
	_, err := FragmentPlaintext([]byte("x"), 10, 12, 800)
	require.Error(t, err)
}
