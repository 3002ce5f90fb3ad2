package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/veilnet/veil/internal/vcrypto"
)

// InitNonceSize is the size of the anti-replay random nonce carried inside
// an INIT body (§4.4).
const InitNonceSize = 16

// initKeyInfo is the HKDF info string used to derive the INIT AEAD key
// from the PSK (§4.4: "HKDF(salt=PSK, \"veil-init\")").
const initKeyInfo = "veil-init"

// sessionInfoPrefix is the HKDF-Expand info prefix for session key
// derivation (§4.4: info = "veil-session-v1" || transcript).
const sessionInfoPrefix = "veil-session-v1"

// InitBody is the plaintext carried inside an INIT datagram.
type InitBody struct {
	EphemeralPub [vcrypto.PublicKeySize]byte
	TimestampMs  uint64
	Nonce        [InitNonceSize]byte
}

func (b InitBody) encode() []byte {
	out := make([]byte, vcrypto.PublicKeySize+8+InitNonceSize)
	copy(out[0:32], b.EphemeralPub[:])
	binary.BigEndian.PutUint64(out[32:40], b.TimestampMs)
	copy(out[40:56], b.Nonce[:])
	return out
}

func decodeInitBody(buf []byte) (InitBody, error) {
	want := vcrypto.PublicKeySize + 8 + InitNonceSize
	if len(buf) != want {
		return InitBody{}, fmt.Errorf("handshake: init body wrong size: got %d, want %d", len(buf), want)
	}
	var b InitBody
	copy(b.EphemeralPub[:], buf[0:32])
	b.TimestampMs = binary.BigEndian.Uint64(buf[32:40])
	copy(b.Nonce[:], buf[40:56])
	return b, nil
}

// initKey derives the fixed AEAD key used for every INIT datagram,
// regardless of session, from the PSK alone (§4.4).
func initKey(psk [PSKSize]byte) ([vcrypto.KeySize]byte, error) {
	prk := vcrypto.HKDFExtract(psk[:], nil)
	material, err := vcrypto.HKDFExpand(prk, []byte(initKeyInfo), vcrypto.KeySize)
	if err != nil {
		return [vcrypto.KeySize]byte{}, err
	}
	var key [vcrypto.KeySize]byte
	copy(key[:], material)
	return key, nil
}

// EncodeInit builds the wire bytes for an INIT datagram: a random 12-byte
// AEAD nonce prefix followed by the sealed body (§4.4, §6).
func EncodeInit(rng io.Reader, psk [PSKSize]byte, ephemeralPub [vcrypto.PublicKeySize]byte, now time.Time) ([]byte, InitBody, error) {
	key, err := initKey(psk)
	if err != nil {
		return nil, InitBody{}, err
	}

	var nonce16 [InitNonceSize]byte
	if _, err := io.ReadFull(rng, nonce16[:]); err != nil {
		return nil, InitBody{}, fmt.Errorf("handshake: generating init nonce: %w", err)
	}
	body := InitBody{
		EphemeralPub: ephemeralPub,
		TimestampMs:  uint64(now.UnixMilli()),
		Nonce:        nonce16,
	}

	var wireNonce [vcrypto.NonceSize]byte
	if _, err := io.ReadFull(rng, wireNonce[:]); err != nil {
		return nil, InitBody{}, fmt.Errorf("handshake: generating wire nonce: %w", err)
	}

	ct, err := vcrypto.AEADSeal(key, wireNonce, nil, body.encode())
	if err != nil {
		return nil, InitBody{}, err
	}

	out := make([]byte, vcrypto.NonceSize+len(ct))
	copy(out[:vcrypto.NonceSize], wireNonce[:])
	copy(out[vcrypto.NonceSize:], ct)
	return out, body, nil
}

// DecodeInit splits the wire nonce prefix and AEAD-opens the INIT body.
// A failure here is always a silent drop at the caller (§4.4 step 1,
// anti-probing): the error is informational only, never surfaced.
func DecodeInit(psk [PSKSize]byte, datagram []byte) (InitBody, error) {
	if len(datagram) < vcrypto.NonceSize {
		return InitBody{}, fmt.Errorf("handshake: init datagram too short")
	}
	key, err := initKey(psk)
	if err != nil {
		return InitBody{}, err
	}
	var wireNonce [vcrypto.NonceSize]byte
	copy(wireNonce[:], datagram[:vcrypto.NonceSize])

	pt, ok := vcrypto.AEADOpen(key, wireNonce, nil, datagram[vcrypto.NonceSize:])
	if !ok {
		return InitBody{}, fmt.Errorf("handshake: init AEAD open failed")
	}
	return decodeInitBody(pt)
}

// SessionMaterial is the 88-byte HKDF-Expand output parsed into the four
// session secrets (§4.4 step 5).
type SessionMaterial struct {
	SendKey   [vcrypto.KeySize]byte
	RecvKey   [vcrypto.KeySize]byte
	SendNonce [vcrypto.NonceSize]byte
	RecvNonce [vcrypto.NonceSize]byte
}

// DeriveSessionMaterial computes prk = HKDF-Extract(salt=PSK||init_nonce,
// ikm=shared) and material = HKDF-Expand(prk, info, 88), then assigns
// send/recv roles by the initiator flag (§4.4 step 5).
func DeriveSessionMaterial(psk [PSKSize]byte, initNonce [InitNonceSize]byte, shared [32]byte, transcript []byte, isInitiator bool) (SessionMaterial, error) {
	salt := make([]byte, 0, PSKSize+InitNonceSize)
	salt = append(salt, psk[:]...)
	salt = append(salt, initNonce[:]...)

	prk := vcrypto.HKDFExtract(salt, shared[:])

	info := make([]byte, 0, len(sessionInfoPrefix)+len(transcript))
	info = append(info, []byte(sessionInfoPrefix)...)
	info = append(info, transcript...)

	material, err := vcrypto.HKDFExpand(prk, info, 88)
	if err != nil {
		return SessionMaterial{}, err
	}

	// Layout is send_key|recv_key|send_nonce|recv_nonce from the
	// responder's point of view; the initiator swaps send/recv so both
	// sides agree on which physical key encrypts which direction.
	var a, b [vcrypto.KeySize]byte
	var an, bn [vcrypto.NonceSize]byte
	copy(a[:], material[0:32])
	copy(b[:], material[32:64])
	copy(an[:], material[64:76])
	copy(bn[:], material[76:88])

	if isInitiator {
		return SessionMaterial{SendKey: b, RecvKey: a, SendNonce: bn, RecvNonce: an}, nil
	}
	return SessionMaterial{SendKey: a, RecvKey: b, SendNonce: an, RecvNonce: bn}, nil
}

// ResponseBody is the plaintext control payload of the RESPONSE frame.
type ResponseBody struct {
	EphemeralPub [vcrypto.PublicKeySize]byte
	SessionID    uint64
	Ticket       []byte // optional, len-prefixed on the wire
}

// Encode serializes ResponseBody per §4.4/§6:
// ephemeral_pub(32) || session_id(8 BE) || ticket_len(2 BE) || ticket.
func (r ResponseBody) Encode() []byte {
	out := make([]byte, 32+8+2+len(r.Ticket))
	copy(out[0:32], r.EphemeralPub[:])
	binary.BigEndian.PutUint64(out[32:40], r.SessionID)
	binary.BigEndian.PutUint16(out[40:42], uint16(len(r.Ticket)))
	copy(out[42:], r.Ticket)
	return out
}

// DecodeResponseBody parses the RESPONSE control payload.
func DecodeResponseBody(buf []byte) (ResponseBody, error) {
	if len(buf) < 42 {
		return ResponseBody{}, fmt.Errorf("handshake: response body too short: %d", len(buf))
	}
	var r ResponseBody
	copy(r.EphemeralPub[:], buf[0:32])
	r.SessionID = binary.BigEndian.Uint64(buf[32:40])
	ticketLen := int(binary.BigEndian.Uint16(buf[40:42]))
	if len(buf)-42 != ticketLen {
		return ResponseBody{}, fmt.Errorf("handshake: response ticket length mismatch: declared %d, remaining %d", ticketLen, len(buf)-42)
	}
	if ticketLen > 0 {
		r.Ticket = make([]byte, ticketLen)
		copy(r.Ticket, buf[42:])
	}
	return r, nil
}

// NewRandomNonce is a small helper over crypto/rand for callers that don't
// want to thread an io.Reader through, matching the teacher's preference
// for crypto/rand.Reader as the default source everywhere keys are made.
func NewRandomNonce() [InitNonceSize]byte {
	var n [InitNonceSize]byte
	_, _ = rand.Read(n[:])
	return n
}
