package session

import (
	"errors"

	"github.com/veilnet/veil/internal/frame"
	"github.com/veilnet/veil/internal/obfs"
	"github.com/veilnet/veil/internal/vcrypto"
)

// ErrDropped is returned by DecryptInbound for every policy-defined drop
// (prefix-recovery failure, replay hit, AEAD auth failure). Per §7 this is
// never a propagated error, only a silent drop with a counter increment —
// callers must treat it as "no frame", not as a fault.
var ErrDropped = errors.New("session: datagram dropped")

// DecryptInbound runs one received datagram through the §4.5
// "Decrypt inbound datagram" pipeline. It returns the decoded frame view
// on success, or ErrDropped (wrapping a reason) on any policy drop.
func (s *Session) DecryptInbound(datagram []byte) (frame.View, error) {
	s.mu.Lock()
	profile := s.ObfProfile
	current := s.Current
	previous := s.Previous
	hasPrev := s.hasPrev
	s.mu.Unlock()

	obfKey := deriveObfKey(profile.Seed)
	deobfuscate := func(obfSeq uint64) uint64 { return vcrypto.SequencePRF(obfKey, obfSeq) }

	prefixLen, seq, ok := profile.RecoverPrefixLen(datagram, deobfuscate)
	if !ok {
		return frame.View{}, wrapDrop(obfs.ErrPrefixRecoveryFailed)
	}

	s.mu.Lock()
	accept := s.ReplayState.Check(seq)
	s.mu.Unlock()
	if !accept {
		return frame.View{}, wrapDrop(errors.New("replay window rejected sequence"))
	}

	// A rekey switches Current immediately on the sending side (§4.5
	// "Rekey"), but datagrams the peer sealed under the pre-rotation key
	// may still be in flight. Previous is retained until rekey_drain_grace
	// elapses (BeginRekey/DrainPreviousKeys), so a Current failure falls
	// back to it before the datagram is treated as an auth failure.
	ciphertext := datagram[prefixLen+8:]
	nonce := vcrypto.SequenceNonce(current.RecvNonceBase, seq)
	plaintext, openOK := vcrypto.AEADOpen(current.RecvKey, nonce, nil, ciphertext)
	if !openOK && hasPrev {
		prevNonce := vcrypto.SequenceNonce(previous.RecvNonceBase, seq)
		plaintext, openOK = vcrypto.AEADOpen(previous.RecvKey, prevNonce, nil, ciphertext)
	}
	if !openOK {
		s.mu.Lock()
		s.ConsecutiveAuthFailures++
		s.mu.Unlock()
		return frame.View{}, wrapDrop(errors.New("aead open failed"))
	}

	s.mu.Lock()
	s.ReplayState.Accept(seq)
	s.ConsecutiveAuthFailures = 0
	s.mu.Unlock()

	view, err := frame.DecodeView(plaintext)
	if err != nil {
		return frame.View{}, wrapDrop(err)
	}
	// EncryptOutbound appends PaddingLen(seq) bytes to every Data payload;
	// the shared profile yields the same length here, so strip it.
	if view.Kind == frame.KindData {
		pad := profile.PaddingLen(seq)
		if pad > len(view.Payload) {
			return frame.View{}, wrapDrop(errors.New("data payload shorter than its padding"))
		}
		view.Payload = view.Payload[:len(view.Payload)-pad]
	}
	return view, nil
}

func wrapDrop(reason error) error {
	return errors.Join(ErrDropped, reason)
}
