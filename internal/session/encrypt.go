package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/veilnet/veil/internal/frame"
	"github.com/veilnet/veil/internal/obfs"
	"github.com/veilnet/veil/internal/vcrypto"
)

// FrameHeaderOverhead is the largest per-frame wire header (Data frame,
// 20 bytes), used to size fragments conservatively (§4.5 step 1).
const FrameHeaderOverhead = 20

// FragmentPlaintext splits p into chunks no larger than
// mtu - aead_overhead - frame_header - max_prefix - max_padding, per
// §4.5 step 1. It returns raw chunks only; the caller marks the last one
// Fin when sealing it.
func FragmentPlaintext(p []byte, mtu int, maxPrefix, maxPadding int) ([][]byte, error) {
	budget := mtu - vcrypto.TagSize - FrameHeaderOverhead - maxPrefix - maxPadding
	if budget <= 0 {
		return nil, fmt.Errorf("session: mtu %d too small for overhead (prefix=%d padding=%d)", mtu, maxPrefix, maxPadding)
	}
	if len(p) == 0 {
		return [][]byte{{}}, nil
	}
	var chunks [][]byte
	for off := 0; off < len(p); off += budget {
		end := off + budget
		if end > len(p) {
			end = len(p)
		}
		chunks = append(chunks, p[off:end])
	}
	return chunks, nil
}

// EncryptOutbound runs one plaintext fragment through the §4.5
// "Encrypt outbound" pipeline: pad, encode, nonce, seal, obfuscate the
// sequence, and store the result in the retransmit buffer. It returns the
// finished wire datagram ready to send.
func (s *Session) EncryptOutbound(streamID uint64, fragment []byte, fin bool, now time.Time) ([]byte, uint64, error) {
	seq := s.NextSendSeq()

	s.mu.Lock()
	profile := s.ObfProfile
	s.mu.Unlock()

	paddingLen := profile.PaddingLen(seq)
	payload := make([]byte, len(fragment)+paddingLen)
	copy(payload, fragment)
	if profile.Config.EntropyNormalization && paddingLen > 0 {
		obfs.ApplyEntropyNormalization(payload[len(fragment):], profile.Seed, seq)
	}

	f := frame.Frame{Kind: frame.KindData, StreamID: streamID, Sequence: seq, Fin: fin, Payload: payload}
	datagram, err := s.sealFrame(f, seq, now, true)
	if err != nil {
		return nil, seq, err
	}
	return datagram, seq, nil
}

// EncryptControlFrame seals a non-Data frame (Ack, Control, or Heartbeat)
// through the same nonce/seal/prefix/obfuscate pipeline as Data frames,
// but without the padding step — those frame shapes are fixed-size or
// self-lengthed on the wire and §4.5's padding step only applies to Data
// payloads (§4.2). retransmit selects whether the datagram is tracked for
// resend; Ack frames pass false since a missed Ack is superseded by the
// next periodic Ack rather than explicitly resent.
func (s *Session) EncryptControlFrame(f frame.Frame, now time.Time, retransmit bool) ([]byte, uint64, error) {
	seq := s.NextSendSeq()
	datagram, err := s.sealFrame(f, seq, now, retransmit)
	if err != nil {
		return nil, seq, err
	}
	return datagram, seq, nil
}

// sealFrame encodes f, AEAD-seals it under the current send key at seq,
// and prepends a random prefix plus the obfuscated sequence number.
func (s *Session) sealFrame(f frame.Frame, seq uint64, now time.Time, retransmit bool) ([]byte, error) {
	s.mu.Lock()
	profile := s.ObfProfile
	current := s.Current
	s.mu.Unlock()

	frameBytes, err := frame.Encode(f)
	if err != nil {
		return nil, err
	}

	nonce := vcrypto.SequenceNonce(current.SendNonceBase, seq)
	ciphertext, err := vcrypto.AEADSeal(current.SendKey, nonce, nil, frameBytes)
	if err != nil {
		return nil, err
	}

	obfKey := deriveObfKey(profile.Seed)
	obfSeq := vcrypto.SequencePRF(obfKey, seq)

	prefixLen := profile.PrefixLen(seq)
	datagram := make([]byte, prefixLen+8+len(ciphertext))
	if _, err := io.ReadFull(rand.Reader, datagram[:prefixLen]); err != nil {
		return nil, fmt.Errorf("session: generating prefix: %w", err)
	}
	putBE64(datagram[prefixLen:prefixLen+8], obfSeq)
	copy(datagram[prefixLen+8:], ciphertext)

	if retransmit {
		s.mu.Lock()
		s.RetransmitBuf.Store(seq, datagram, now, DefaultInitialRTO)
		s.mu.Unlock()
	}
	s.RecordSent(len(datagram))

	return datagram, nil
}

func putBE64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
