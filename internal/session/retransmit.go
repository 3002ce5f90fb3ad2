package session

import "time"

// DefaultRetransmitBufferSize bounds the retransmit buffer (§4: "bounded
// (default 1024 entries)").
const DefaultRetransmitBufferSize = 1024

// DefaultInitialRTO, DefaultMaxRTO and DefaultMaxRetransmits implement the
// exponential-backoff retransmit policy (§4.5 "Retransmit").
const (
	DefaultInitialRTO    = 200 * time.Millisecond
	DefaultMaxRTO        = 2 * time.Second
	DefaultMaxRetransmits = 5
)

// retransmitEntry is one in-flight unacknowledged datagram.
type retransmitEntry struct {
	datagram    []byte
	sentAt      time.Time
	rto         time.Duration
	retransmits int
}

// RetransmitBuffer maps outbound sequence numbers to their encrypted
// datagram bytes until acked or SACKed, bounded with drop-oldest eviction
// (§4.5 invariants: "never holds a sequence whose ACK has been applied").
// Grounded on the teacher's priority.go bounded-queue-with-eviction idiom.
type RetransmitBuffer struct {
	capacity int
	order    []uint64 // insertion order, oldest first
	entries  map[uint64]*retransmitEntry
}

// NewRetransmitBuffer builds a buffer with the given capacity (0 = default).
func NewRetransmitBuffer(capacity int) *RetransmitBuffer {
	if capacity <= 0 {
		capacity = DefaultRetransmitBufferSize
	}
	return &RetransmitBuffer{
		capacity: capacity,
		entries:  make(map[uint64]*retransmitEntry, capacity),
	}
}

// Store records a freshly sent datagram for seq, dropping the oldest
// entry if the buffer is at capacity (§4.5 step 8).
func (b *RetransmitBuffer) Store(seq uint64, datagram []byte, now time.Time, initialRTO time.Duration) (droppedOldest bool) {
	if _, exists := b.entries[seq]; !exists {
		b.order = append(b.order, seq)
	}
	b.entries[seq] = &retransmitEntry{datagram: datagram, sentAt: now, rto: initialRTO}

	if len(b.order) > b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		if _, ok := b.entries[oldest]; ok {
			delete(b.entries, oldest)
			droppedOldest = true
		}
	}
	return droppedOldest
}

// Remove deletes seq, used when it has been acked or SACKed.
func (b *RetransmitBuffer) Remove(seq uint64) {
	if _, ok := b.entries[seq]; !ok {
		return
	}
	delete(b.entries, seq)
	for i, s := range b.order {
		if s == seq {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// RemoveAcked removes every buffered sequence the given AckState now
// reports as acknowledged, which is the usual post-Ack-frame cleanup.
func (b *RetransmitBuffer) RemoveAcked(acked *AckState) {
	for _, seq := range append([]uint64(nil), b.order...) {
		if acked.IsAcked(seq) {
			b.Remove(seq)
		}
	}
}

// DueForRetransmit walks the buffer and returns the sequences whose RTO
// has elapsed as of now, bumping their RTO exponentially (capped at
// maxRTO) and retransmit counter. Sequences that have hit maxRetransmits
// are returned separately so the caller can trigger kReconnecting
// (§4.5 "Retransmit").
func (b *RetransmitBuffer) DueForRetransmit(now time.Time, maxRTO time.Duration, maxRetransmits int) (due []RetransmitCandidate, exhausted []uint64) {
	for _, seq := range b.order {
		e := b.entries[seq]
		if e == nil {
			continue
		}
		if now.Sub(e.sentAt) < e.rto {
			continue
		}
		e.retransmits++
		if e.retransmits > maxRetransmits {
			exhausted = append(exhausted, seq)
			continue
		}
		due = append(due, RetransmitCandidate{Sequence: seq, Datagram: e.datagram})
		e.sentAt = now
		e.rto *= 2
		if e.rto > maxRTO {
			e.rto = maxRTO
		}
	}
	return due, exhausted
}

// RetransmitCandidate is one datagram due for resend, with the original
// ciphertext reused verbatim (§4.5: "same sequence and same ciphertext").
type RetransmitCandidate struct {
	Sequence uint64
	Datagram []byte
}

// Len reports the number of in-flight entries, for metrics/tests.
func (b *RetransmitBuffer) Len() int { return len(b.order) }
