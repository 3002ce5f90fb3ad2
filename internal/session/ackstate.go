package session

// AckWindowSize is the width of the ACK bitmap (§4.5 C6: "bitmap: u32").
const AckWindowSize = 32

// AckState tracks, from the sender's point of view, which of the last 32
// sequences below head have been acknowledged by the peer (§4.5 C6).
// Distinct from ReplayWindow: this tracks acks the sender has *received*
// for its own outbound sequence space, not inbound replay protection.
type AckState struct {
	head        uint64
	bitmap      uint32
	initialized bool
}

// Ack applies an incoming ack(seq) per the exact case split in §4.5 C6.
func (s *AckState) Ack(seq uint64) {
	if !s.initialized {
		s.initialized = true
		s.head = seq
		s.bitmap = 0
		return
	}

	// Signed difference handles 64-bit sequence wraparound.
	d := int64(seq - s.head)

	switch {
	case d > 0:
		if d >= AckWindowSize {
			s.bitmap = 0
		} else {
			s.bitmap = (s.bitmap << uint(d)) | (1 << uint(d-1))
		}
		s.head = seq

	case d < 0:
		back := -d
		if back <= AckWindowSize {
			s.bitmap |= 1 << uint(back-1)
		}
		// back > 32: too far behind the window, no-op.

	default:
		// seq == head: no-op.
	}
}

// IsAcked mirrors Ack's three cases to answer whether seq has been
// acknowledged (§4.5 C6).
func (s *AckState) IsAcked(seq uint64) bool {
	if !s.initialized {
		return false
	}
	d := int64(seq - s.head)
	switch {
	case d == 0:
		return true
	case d > 0:
		return false
	default:
		back := -d
		if back > AckWindowSize {
			return false
		}
		return s.bitmap&(1<<uint(back-1)) != 0
	}
}

// Head returns the highest acknowledged sequence (for ACK-frame emission).
func (s *AckState) Head() uint64 { return s.head }

// Bitmap returns the raw 32-bit packed view for ACK-frame emission.
func (s *AckState) Bitmap() uint32 { return s.bitmap }
