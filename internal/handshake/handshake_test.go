package handshake

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veilnet/veil/internal/vcrypto"
)

func testPSK() [PSKSize]byte {
	var psk [PSKSize]byte
	for i := range psk {
		psk[i] = byte(i)
	}
	return psk
}

func TestLoadPSKExact32Bytes(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	psk, err := LoadPSK(raw, nil)
	require.NoError(t, err)
	require.EqualValues(t, raw, psk[:])
}

func TestLoadPSKTruncatesLonger(t *testing.T) {
	raw := append(make([]byte, 32), 0x0D, 0x0A) // CRLF contamination
	psk, err := LoadPSK(raw, nil)
	require.NoError(t, err)
	require.EqualValues(t, raw[:32], psk[:])
}

func TestLoadPSKRejectsShort(t *testing.T) {
	_, err := LoadPSK(make([]byte, 31), nil)
	require.Error(t, err)
}

func TestInitRoundTrip(t *testing.T) {
	psk := testPSK()
	kp, err := vcrypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	datagram, body, err := EncodeInit(rand.Reader, psk, kp.Public, time.Now())
	require.NoError(t, err)

	decoded, err := DecodeInit(psk, datagram)
	require.NoError(t, err)
	require.Equal(t, body.EphemeralPub, decoded.EphemeralPub)
	require.Equal(t, body.Nonce, decoded.Nonce)
	require.Equal(t, body.TimestampMs, decoded.TimestampMs)
}

func TestDecodeInitFailsWithWrongPSK(t *testing.T) {
	psk := testPSK()
	var otherPSK [PSKSize]byte
	otherPSK[0] = 0xFF

	kp, err := vcrypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	datagram, _, err := EncodeInit(rand.Reader, psk, kp.Public, time.Now())
	require.NoError(t, err)

	_, err = DecodeInit(otherPSK, datagram)
	require.Error(t, err)
}

func TestSessionMaterialMatchesBetweenInitiatorAndResponder(t *testing.T) {
	psk := testPSK()
	initKP, err := vcrypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	respKP, err := vcrypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	sharedInitiator, err := vcrypto.ECDH(initKP.Secret, respKP.Public)
	require.NoError(t, err)
	sharedResponder, err := vcrypto.ECDH(respKP.Secret, initKP.Public)
	require.NoError(t, err)
	require.Equal(t, sharedInitiator, sharedResponder)

	initNonce := NewRandomNonce()
	transcript := []byte("transcript")

	initiatorMat, err := DeriveSessionMaterial(psk, initNonce, sharedInitiator, transcript, true)
	require.NoError(t, err)
	responderMat, err := DeriveSessionMaterial(psk, initNonce, sharedResponder, transcript, false)
	require.NoError(t, err)

	require.Equal(t, initiatorMat.SendKey, responderMat.RecvKey)
	require.Equal(t, initiatorMat.RecvKey, responderMat.SendKey)
	require.Equal(t, initiatorMat.SendNonce, responderMat.RecvNonce)
	require.Equal(t, initiatorMat.RecvNonce, responderMat.SendNonce)
}

func TestResponseBodyRoundTrip(t *testing.T) {
	var pub [32]byte
	copy(pub[:], []byte("responder-ephemeral-public-key!!"))
	r := ResponseBody{EphemeralPub: pub, SessionID: 42, Ticket: []byte("opaque-ticket")}
	encoded := r.Encode()

	decoded, err := DecodeResponseBody(encoded)
	require.NoError(t, err)
	require.Equal(t, r.EphemeralPub, decoded.EphemeralPub)
	require.Equal(t, r.SessionID, decoded.SessionID)
	require.Equal(t, r.Ticket, decoded.Ticket)
}

func TestResponseBodyRoundTripNoTicket(t *testing.T) {
	var pub [32]byte
	r := ResponseBody{EphemeralPub: pub, SessionID: 1}
	decoded, err := DecodeResponseBody(r.Encode())
	require.NoError(t, err)
	require.Empty(t, decoded.Ticket)
}

func TestNonceCacheRejectsReplay(t *testing.T) {
	cache := NewNonceCache(100, time.Minute)
	nonce := NewRandomNonce()
	now := time.Now()

	require.False(t, cache.CheckAndRemember(nonce, now))
	require.True(t, cache.CheckAndRemember(nonce, now))
}

func TestNonceCacheEvictsByCapacity(t *testing.T) {
	cache := NewNonceCache(2, time.Hour)
	now := time.Now()
	n1, n2, n3 := NewRandomNonce(), NewRandomNonce(), NewRandomNonce()

	require.False(t, cache.CheckAndRemember(n1, now))
	require.False(t, cache.CheckAndRemember(n2, now))
	require.False(t, cache.CheckAndRemember(n3, now))
	require.Equal(t, 2, cache.Len())

	// n1 was evicted to make room, so it would be accepted again.
	require.False(t, cache.CheckAndRemember(n1, now))
}

func TestNonceCacheEvictsByAge(t *testing.T) {
	cache := NewNonceCache(100, time.Second)
	nonce := NewRandomNonce()
	t0 := time.Now()

	require.False(t, cache.CheckAndRemember(nonce, t0))
	require.False(t, cache.CheckAndRemember(nonce, t0.Add(2*time.Second)))
}

func TestTicketRecordRoundTrip(t *testing.T) {
	tk := Ticket{
		ServerID: "server-1",
		Opaque:   []byte("opaque-blob"),
		Lifetime: DefaultTicketLifetime,
		IssuedAt: time.Now().Truncate(time.Millisecond),
	}
	for i := range tk.SendKey {
		tk.SendKey[i] = byte(i)
	}
	for i := range tk.RecvKey {
		tk.RecvKey[i] = byte(i + 1)
	}

	encoded := EncodeTicketRecord(tk)
	decoded, n, err := DecodeTicketRecord(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, tk.ServerID, decoded.ServerID)
	require.Equal(t, tk.Opaque, decoded.Opaque)
	require.Equal(t, tk.Lifetime, decoded.Lifetime)
	require.Equal(t, tk.IssuedAt.UnixMilli(), decoded.IssuedAt.UnixMilli())
	require.Equal(t, tk.SendKey, decoded.SendKey)
	require.Equal(t, tk.RecvKey, decoded.RecvKey)
}

func TestDecodeAllTicketRecordsMultiple(t *testing.T) {
	t1 := Ticket{ServerID: "a", IssuedAt: time.Now(), Lifetime: time.Hour}
	t2 := Ticket{ServerID: "b", IssuedAt: time.Now(), Lifetime: time.Hour}
	buf := append(EncodeTicketRecord(t1), EncodeTicketRecord(t2)...)

	all, err := DecodeAllTicketRecords(buf)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ServerID)
	require.Equal(t, "b", all[1].ServerID)
}

func TestTicketExpired(t *testing.T) {
	tk := Ticket{IssuedAt: time.Now().Add(-2 * time.Hour), Lifetime: time.Hour}
	require.True(t, tk.Expired(time.Now()))

	fresh := Ticket{IssuedAt: time.Now(), Lifetime: time.Hour}
	require.False(t, fresh.Expired(time.Now()))
}

func TestTicketCacheEnforcesPerOwnerBound(t *testing.T) {
	cache := NewTicketCache()
	for i := 0; i < MaxTicketsPerClient+3; i++ {
		cache.Put("client-1", Ticket{ServerID: "s", IssuedAt: time.Now().Add(time.Duration(i) * time.Second)})
	}
	require.Len(t, cache.Get("client-1"), MaxTicketsPerClient)
}

func TestStateMachineInitiatorFlow(t *testing.T) {
	sm := NewStateMachine(0)
	require.Equal(t, StateIdle, sm.State())
	sm.MarkInitSent()
	require.Equal(t, StateInitSent, sm.State())
	sm.MarkEstablished()
	require.Equal(t, StateEstablished, sm.State())
}

func TestStateMachineFailureBeforeEstablishedResetsToIdle(t *testing.T) {
	sm := NewStateMachine(0)
	sm.MarkInitSent()
	torn := sm.OnDecryptFailure()
	require.False(t, torn)
	require.Equal(t, StateIdle, sm.State())
}

func TestStateMachineConsecutiveFailuresTearDown(t *testing.T) {
	sm := NewStateMachine(3)
	sm.MarkEstablished()
	require.False(t, sm.OnDecryptFailure())
	require.False(t, sm.OnDecryptFailure())
	require.True(t, sm.OnDecryptFailure())
}

func TestStateMachineSuccessResetsFailureCounter(t *testing.T) {
	sm := NewStateMachine(2)
	sm.MarkEstablished()
	sm.OnDecryptFailure()
	sm.OnDecryptSuccess()
	require.False(t, sm.OnDecryptFailure())
}
