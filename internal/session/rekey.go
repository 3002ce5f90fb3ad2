package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/veilnet/veil/internal/frame"
	"github.com/veilnet/veil/internal/vcrypto"
)

// RekeySaltSize is the width of the random salt carried in a rekey
// control frame (Open Question 2 in the expanded spec: deterministic
// derivation seed, not raw keys).
const RekeySaltSize = 32

const rekeyInfoPrefix = "veil-rekey-v1"

// BuildRekeyControl generates a fresh rekey salt, derives the next
// generation's SessionKeys from the current RecvKey, and returns both the
// Control frame to send and the new Keys, which the caller installs via
// BeginRekey. No ack of the control frame is tracked here.
// isInitiator must be the same initiator/responder role this Session was
// established with (§4.4 step 5) so the derived SendKey/RecvKey and nonce
// bases are assigned the same way the handshake assigns them.
func (s *Session) BuildRekeyControl(generation uint64, isInitiator bool) (frame.Frame, Keys, error) {
	var salt [RekeySaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return frame.Frame{}, Keys{}, fmt.Errorf("session: generating rekey salt: %w", err)
	}

	s.mu.Lock()
	oldRecv := s.Current.RecvKey
	s.mu.Unlock()

	newKeys, err := deriveRekeyedKeys(salt, oldRecv, generation, isInitiator)
	if err != nil {
		return frame.Frame{}, Keys{}, err
	}

	payload := make([]byte, 8+RekeySaltSize)
	binary.BigEndian.PutUint64(payload[0:8], generation)
	copy(payload[8:], salt[:])

	f := frame.Frame{Kind: frame.KindControl, ControlType: frame.ControlRekey, Payload: payload}
	return f, newKeys, nil
}

// ApplyRekeyControl is the receiving side's counterpart: given a peer's
// rekey control-frame payload, it recomputes the same new keys from the
// same physical key the sender used as its ikm. The sender derives from
// its own Current.RecvKey — the key it uses to decrypt the receiver's
// frames — which, since AEAD keys are symmetric per direction, is
// byte-identical to the receiver's own Current.SendKey (the key the
// receiver uses to encrypt frames to the sender), not the receiver's
// RecvKey. Using RecvKey here would make the two sides derive different
// key material and break the session. isInitiator must be this session's
// own role (the opposite of the peer that built the control frame), so
// the role swap below mirrors the building side's swap exactly — see
// handshake.DeriveSessionMaterial, which applies the identical swap at
// the initial handshake.
func (s *Session) ApplyRekeyControl(payload []byte, isInitiator bool) (generation uint64, newKeys Keys, err error) {
	if len(payload) != 8+RekeySaltSize {
		return 0, Keys{}, fmt.Errorf("session: rekey control payload wrong size: got %d, want %d", len(payload), 8+RekeySaltSize)
	}
	generation = binary.BigEndian.Uint64(payload[0:8])
	var salt [RekeySaltSize]byte
	copy(salt[:], payload[8:])

	s.mu.Lock()
	peerRecv := s.Current.SendKey
	s.mu.Unlock()

	newKeys, err = deriveRekeyedKeys(salt, peerRecv, generation, isInitiator)
	return generation, newKeys, err
}

// deriveRekeyedKeys implements the pinned rekey derivation: new_keys =
// HKDF-Expand(HKDF-Extract(salt=rekey_salt, ikm=old_recv_key),
// info="veil-rekey-v1"||generation, 88), parsed identically to the
// handshake's session-material layout and with the identical
// initiator/responder role swap as handshake.DeriveSessionMaterial: both
// peers derive byte-identical material from the symmetric ikm, and it is
// only this swap that assigns which physical half each side calls
// SendKey vs. RecvKey. Without it, both sides would install the same
// half as SendKey and every post-rekey frame would fail AEAD open.
func deriveRekeyedKeys(salt [RekeySaltSize]byte, oldRecvKey [vcrypto.KeySize]byte, generation uint64, isInitiator bool) (Keys, error) {
	prk := vcrypto.HKDFExtract(salt[:], oldRecvKey[:])

	info := make([]byte, 0, len(rekeyInfoPrefix)+8)
	info = append(info, []byte(rekeyInfoPrefix)...)
	var genBytes [8]byte
	binary.BigEndian.PutUint64(genBytes[:], generation)
	info = append(info, genBytes[:]...)

	material, err := vcrypto.HKDFExpand(prk, info, 88)
	if err != nil {
		return Keys{}, err
	}

	var a, b [vcrypto.KeySize]byte
	var an, bn [vcrypto.NonceSize]byte
	copy(a[:], material[0:32])
	copy(b[:], material[32:64])
	copy(an[:], material[64:76])
	copy(bn[:], material[76:88])

	if isInitiator {
		return Keys{SendKey: b, RecvKey: a, SendNonceBase: bn, RecvNonceBase: an}, nil
	}
	return Keys{SendKey: a, RecvKey: b, SendNonceBase: an, RecvNonceBase: bn}, nil
}
