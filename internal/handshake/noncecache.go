package handshake

import (
	"sync"
	"time"
)

// DefaultNonceCacheSize is the default bounded FIFO capacity for the
// replay-nonce set (§4.4 step 3).
const DefaultNonceCacheSize = 10_000

// DefaultNonceCacheWindow bounds how long a nonce is remembered,
// independent of FIFO eviction, so an attacker cannot keep a nonce "alive"
// by flooding unrelated nonces around it.
const DefaultNonceCacheWindow = 2 * time.Minute

type nonceEntry struct {
	nonce [InitNonceSize]byte
	seen  time.Time
}

// NonceCache is a bounded, time-aged FIFO of recently seen INIT nonces,
// used to reject replayed INIT datagrams (§4.4 step 3). Grounded on the
// teacher's priority.go queue-bound idiom: a fixed-capacity ring with
// drop-oldest eviction, generalized from packet scheduling to replay
// detection.
type NonceCache struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	order    []nonceEntry
	seen     map[[InitNonceSize]byte]struct{}
}

// NewNonceCache builds a cache with the given capacity and aging window.
func NewNonceCache(capacity int, window time.Duration) *NonceCache {
	if capacity <= 0 {
		capacity = DefaultNonceCacheSize
	}
	if window <= 0 {
		window = DefaultNonceCacheWindow
	}
	return &NonceCache{
		capacity: capacity,
		window:   window,
		seen:     make(map[[InitNonceSize]byte]struct{}, capacity),
	}
}

// CheckAndRemember reports whether nonce has already been seen (a replay);
// if it has not, it records it and evicts aged/overflow entries.
func (c *NonceCache) CheckAndRemember(nonce [InitNonceSize]byte, now time.Time) (replay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(now)

	if _, dup := c.seen[nonce]; dup {
		return true
	}
	c.seen[nonce] = struct{}{}
	c.order = append(c.order, nonceEntry{nonce: nonce, seen: now})

	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest.nonce)
	}
	return false
}

func (c *NonceCache) evictLocked(now time.Time) {
	cut := 0
	for cut < len(c.order) && now.Sub(c.order[cut].seen) > c.window {
		delete(c.seen, c.order[cut].nonce)
		cut++
	}
	if cut > 0 {
		c.order = c.order[cut:]
	}
}

// Len reports the current number of tracked nonces, for metrics/tests.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
