package obfs

import "fmt"

// MinScanPrefix and MaxScanPrefix bound the cold-start candidate scan (§4).
const (
	MinScanPrefix = 4
	MaxScanPrefix = 12
)

// obfSeqFieldSize is the width of the trailing obfuscated-sequence field
// a candidate prefix length is validated against.
const obfSeqFieldSize = 8

// RecoverPrefixLen recovers the random prefix length a peer chose for an
// inbound datagram without any wire-carried length field, by scanning
// candidate lengths 4..12: for each candidate, it treats the 8 bytes
// immediately after the candidate-length prefix as the obfuscated sequence
// field, deobfuscates it with deobfuscateSeq, recomputes what prefix length
// the sender's Profile would have chosen for that recovered sequence, and
// accepts the first candidate whose recomputed length equals the length
// tried (§4, Open Question 1).
//
// deobfuscateSeq must invert whatever per-packet sequence obfuscation the
// session applies (vcrypto.SequencePRF keyed by the session's obf key); it
// is injected rather than imported to keep this package free of a
// dependency on internal/session.
func (p *Profile) RecoverPrefixLen(datagram []byte, deobfuscateSeq func(obfSeq uint64) uint64) (prefixLen int, sequence uint64, ok bool) {
	for candidate := MinScanPrefix; candidate <= MaxScanPrefix; candidate++ {
		need := candidate + obfSeqFieldSize
		if len(datagram) < need {
			continue
		}
		obfSeq := beUint64(datagram[candidate : candidate+obfSeqFieldSize])
		seq := deobfuscateSeq(obfSeq)

		expected := p.PrefixLen(seq)
		if expected == candidate {
			return candidate, seq, true
		}
	}
	return 0, 0, false
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ErrPrefixRecoveryFailed is returned by higher layers when no candidate in
// [MinScanPrefix, MaxScanPrefix] validates; this indicates either a
// corrupted datagram or one that was never obfuscated by this profile.
var ErrPrefixRecoveryFailed = fmt.Errorf("obfs: no valid prefix length found in [%d, %d]", MinScanPrefix, MaxScanPrefix)
