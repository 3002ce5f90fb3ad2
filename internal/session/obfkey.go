package session

import "github.com/veilnet/veil/internal/vcrypto"

// deriveObfKey separates the sequence-obfuscation PRF key from the
// obfuscation profile's HMAC-tag derivation seed via one more HKDF hop, so
// the same 32-byte profile seed is never used directly as both an HMAC
// key (padding/jitter/heartbeat shape) and a ChaCha20 PRF key (sequence
// obfuscation) — ordinary domain separation, grounded on the same
// HKDF-everywhere discipline §4.1 already uses for session keys.
func deriveObfKey(profileSeed [32]byte) [vcrypto.KeySize]byte {
	prk := vcrypto.HKDFExtract(profileSeed[:], nil)
	material, err := vcrypto.HKDFExpand(prk, []byte("veil-obf-key-v1"), vcrypto.KeySize)
	if err != nil {
		// vcrypto.KeySize is always << 255*32; this cannot fail.
		panic(err)
	}
	var key [vcrypto.KeySize]byte
	copy(key[:], material)
	return key
}
