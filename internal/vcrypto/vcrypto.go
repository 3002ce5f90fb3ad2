// Package vcrypto implements the cryptographic primitives shared by the
// handshake and session layers: X25519 ECDH, HKDF-SHA256, ChaCha20-Poly1305
// AEAD, and the sequence-number obfuscation PRF.
//
// Grounded on the teacher's transport/internet/gametunnel/crypto.go, which
// already wires X25519 + HKDF + ChaCha20-Poly1305 from golang.org/x/crypto;
// this package keeps the same library stack and generalizes the per-session
// key derivation into the direction-agnostic shape the session layer needs
// (send/recv keys AND nonce bases, plus the obfuscation-key split that the
// teacher's gametunnel package does not need).
package vcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the ChaCha20-Poly1305 key size.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag size.
	TagSize = chacha20poly1305.Overhead
	// PublicKeySize is the X25519 public/private key size.
	PublicKeySize = 32
)

// KeyPair is an ephemeral X25519 key pair. The secret half is owned
// exclusively by whichever handshake half generated it and must be zeroed
// via Zero once consumed.
type KeyPair struct {
	Secret [PublicKeySize]byte
	Public [PublicKeySize]byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair(rand io.Reader) (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand, kp.Secret[:]); err != nil {
		return KeyPair{}, fmt.Errorf("vcrypto: generate secret: %w", err)
	}
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("vcrypto: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Zero wipes the secret half of the key pair.
func (kp *KeyPair) Zero() {
	for i := range kp.Secret {
		kp.Secret[i] = 0
	}
}

// ECDH performs X25519 Diffie-Hellman, rejecting a peer key that produces
// the identity (low-order point attack / all-zero public key).
func ECDH(secret, peerPublic [PublicKeySize]byte) ([PublicKeySize]byte, error) {
	var shared [PublicKeySize]byte
	out, err := curve25519.X25519(secret[:], peerPublic[:])
	if err != nil {
		return shared, fmt.Errorf("vcrypto: ecdh: %w", err)
	}
	allZero := true
	for _, b := range out {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return shared, errors.New("vcrypto: ecdh produced identity point")
	}
	copy(shared[:], out)
	return shared, nil
}

// HKDFExtract implements RFC 5869 extract. An empty salt is treated as
// 32 zero bytes per §4.1.
func HKDFExtract(salt, ikm []byte) [32]byte {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	var prk [32]byte
	copy(prk[:], mac.Sum(nil))
	return prk
}

// HKDFExpand implements RFC 5869 expand. len must be <= 255*32.
func HKDFExpand(prk [32]byte, info []byte, length int) ([]byte, error) {
	if length > 255*32 {
		return nil, fmt.Errorf("vcrypto: hkdf expand length %d exceeds 255*32", length)
	}
	r := hkdf.Expand(sha256.New, prk[:], info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("vcrypto: hkdf expand: %w", err)
	}
	return out, nil
}

// AEADSeal encrypts plaintext with ChaCha20-Poly1305, appending the 16-byte
// tag. Output length is len(plaintext)+TagSize.
func AEADSeal(key [KeySize]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("vcrypto: new aead: %w", err)
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// AEADOpen decrypts and authenticates ciphertext. It returns (nil, false) on
// any authentication failure — never partial plaintext, never a
// distinguishable error, per §4.1.
func AEADOpen(key [KeySize]byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, bool) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, false
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, false
	}
	return pt, true
}

// SequenceNonce XORs the big-endian 8-byte counter into the low 8 bytes of
// base_nonce, per §4.1.
func SequenceNonce(base [NonceSize]byte, counter uint64) [NonceSize]byte {
	var n [NonceSize]byte
	copy(n[:], base[:])
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		n[NonceSize-8+i] ^= ctr[i]
	}
	return n
}

// SequencePRF is a one-round Feistel PRP that shuffles a 64-bit sequence
// number to destroy the linear-counter pattern on the wire. The round
// function is four bytes of ChaCha20 keystream keyed by obfKey, with the
// right half and a 4-byte domain tag forming the stream-cipher nonce.
//
// The high 32 bits of the sequence are treated as the "right half" (stable
// across the practical life of a session — it only changes once the
// sequence wraps past 2^32) and feed the round function; the low 32 bits
// are the "left half" that actually increments every packet, and are the
// half XORed with the round function's output. Only the left half changes,
// so reapplying the identical operation cancels the XOR and recovers the
// input exactly: SequencePRF(k, SequencePRF(k, x)) == x (§8).
func SequencePRF(obfKey [KeySize]byte, seq uint64) uint64 {
	const domainTag = "vseq"

	left := uint32(seq)
	right := uint32(seq >> 32)

	f := feistelRound(obfKey, right, domainTag)
	newLeft := left ^ f

	return uint64(right)<<32 | uint64(newLeft)
}

// feistelRound derives 4 bytes of keystream keyed by obfKey, using a nonce
// built from the domain tag and the round input, and returns them as a
// big-endian uint32.
func feistelRound(obfKey [KeySize]byte, input uint32, domainTag string) uint32 {
	var nonce [chacha20.NonceSize]byte
	copy(nonce[:4], domainTag)
	binary.BigEndian.PutUint32(nonce[4:8], input)
	// nonce[8:12] left zero; domain tag + input already make it unique
	// per (obfKey, input) pair, which is all the PRP needs.

	c, err := chacha20.NewUnauthenticatedCipher(obfKey[:], nonce[:])
	if err != nil {
		// obfKey is always KeySize and nonce always chacha20.NonceSize;
		// this can only fail on a library contract violation.
		panic(fmt.Sprintf("vcrypto: feistel round cipher: %v", err))
	}
	var block [4]byte
	c.XORKeyStream(block[:], block[:])
	return binary.BigEndian.Uint32(block[:])
}
