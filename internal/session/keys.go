// Package session implements the per-peer authoritative session state
// (§4.5/§4.6): SessionKeys, the replay window, the ACK bitmap, the
// retransmit buffer, rekeying, and the encrypt/decrypt pipelines that tie
// vcrypto, frame, and obfs together into one outbound/inbound path.
//
// Grounded on the teacher's transport/internet/gametunnel/hub.go, which
// owns a similarly-shaped per-connection mutable struct (keys, sequence
// state, a scheduling priority queue) behind a single mutex; this package
// keeps that "one struct, one mutex, explicit lifecycle" shape and adds
// the spec's replay window, ACK bitmap and rekey machinery the teacher
// does not need.
package session

import "github.com/veilnet/veil/internal/vcrypto"

// Keys is the four fixed-size secrets derived per handshake (§4.1/§4.5).
type Keys struct {
	SendKey       [vcrypto.KeySize]byte
	RecvKey       [vcrypto.KeySize]byte
	SendNonceBase [vcrypto.NonceSize]byte
	RecvNonceBase [vcrypto.NonceSize]byte
}

// Zero wipes all four secrets. Called on rekey rotation (after
// drain_grace) and on session teardown (§4.5 zeroization discipline).
func (k *Keys) Zero() {
	for i := range k.SendKey {
		k.SendKey[i] = 0
	}
	for i := range k.RecvKey {
		k.RecvKey[i] = 0
	}
	for i := range k.SendNonceBase {
		k.SendNonceBase[i] = 0
	}
	for i := range k.RecvNonceBase {
		k.RecvNonceBase[i] = 0
	}
}
