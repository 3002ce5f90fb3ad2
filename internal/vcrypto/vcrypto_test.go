package vcrypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECDHRoundTrip(t *testing.T) {
	a, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	b, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	sharedA, err := ECDH(a.Secret, b.Public)
	require.NoError(t, err)
	sharedB, err := ECDH(b.Secret, a.Public)
	require.NoError(t, err)

	require.Equal(t, sharedA, sharedB)
}

func TestECDHRejectsIdentity(t *testing.T) {
	var secret [PublicKeySize]byte
	secret[0] = 1
	var zeroPub [PublicKeySize]byte
	_, err := ECDH(secret, zeroPub)
	require.Error(t, err)
}

func TestHKDFExtractEmptySaltEqualsZeroSalt(t *testing.T) {
	ikm := []byte("some shared secret material")
	a := HKDFExtract(nil, ikm)
	b := HKDFExtract(make([]byte, 32), ikm)
	require.Equal(t, a, b)
}

func TestHKDFExpandLength(t *testing.T) {
	prk := HKDFExtract([]byte("salt"), []byte("ikm"))
	out, err := HKDFExpand(prk, []byte("info"), 88)
	require.NoError(t, err)
	require.Len(t, out, 88)

	_, err = HKDFExpand(prk, []byte("info"), 255*32+1)
	require.Error(t, err)
}

func TestAEADRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [NonceSize]byte
	copy(nonce[:], []byte("nonce12345.."))

	plaintext := []byte("the quick brown fox")
	aad := []byte("header")

	ct, err := AEADSeal(key, nonce, aad, plaintext)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext)+TagSize)

	pt, ok := AEADOpen(key, nonce, aad, ct)
	require.True(t, ok)
	require.Equal(t, plaintext, pt)
}

func TestAEADOpenFailsOnWrongNonce(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce, nonce2 [NonceSize]byte
	copy(nonce[:], []byte("nonce12345.."))
	copy(nonce2[:], []byte("different!.."))

	ct, err := AEADSeal(key, nonce, nil, []byte("payload"))
	require.NoError(t, err)

	_, ok := AEADOpen(key, nonce2, nil, ct)
	require.False(t, ok)
}

func TestAEADOpenFailsOnTamperedCiphertext(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [NonceSize]byte
	ct, err := AEADSeal(key, nonce, nil, []byte("payload"))
	require.NoError(t, err)

	ct[0] ^= 0xFF
	_, ok := AEADOpen(key, nonce, nil, ct)
	require.False(t, ok)
}

func TestSequenceNonceXORsLowBytes(t *testing.T) {
	var base [NonceSize]byte
	copy(base[:], []byte("basebasebase"))

	n1 := SequenceNonce(base, 1)
	n2 := SequenceNonce(base, 2)
	require.NotEqual(t, n1, n2)
	require.Equal(t, base[:4], n1[:4]) // high 4 bytes untouched
}

func TestSequencePRFIsSelfInverse(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("obfuscation-key-0123456789abcd!"))

	for _, seq := range []uint64{0, 1, 2, 0xFFFFFFFF, 0x100000000, 1 << 40, ^uint64(0)} {
		obf := SequencePRF(key, seq)
		back := SequencePRF(key, obf)
		require.Equal(t, seq, back, "seq=%d", seq)
	}
}

func TestSequencePRFDeterministicAcrossCalls(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("obfuscation-key-0123456789abcd!"))

	a := SequencePRF(key, 42)
	b := SequencePRF(key, 42)
	require.Equal(t, a, b)
}

func TestSequencePRFDistributionIsRoughlyUniform(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("obfuscation-key-0123456789abcd!"))

	const n = 4096
	buckets := make([]int, 16)
	for seq := uint64(0); seq < n; seq++ {
		obf := SequencePRF(key, seq)
		buckets[obf%16]++
	}

	expected := float64(n) / 16
	chiSquare := 0.0
	for _, count := range buckets {
		diff := float64(count) - expected
		chiSquare += diff * diff / expected
	}
	// 15 degrees of freedom, generous upper bound for a PRF-shaped shuffle.
	require.Less(t, chiSquare, 60.0)
}
