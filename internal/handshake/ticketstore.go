package handshake

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/veilnet/veil/internal/vcrypto"
)

// TicketFormatVersion is the on-disk record version byte (§6).
const TicketFormatVersion = 1

// MaxTicketsPerClient and MaxTicketsTotal bound both the client and server
// caches (§4.4: "Ticket caches (both sides) are bounded").
const (
	MaxTicketsPerClient = 4
	MaxTicketsTotal     = 4096
)

// DefaultTicketLifetime is the default freshness window for 0-RTT
// resumption (§4.4: "now < issued + lifetime, default 24h").
const DefaultTicketLifetime = 24 * time.Hour

// Ticket is a cached session ticket plus the keys it resumes, matching
// the client-side cache record layout in §6:
// version(1)||server_id_len(2 BE)||server_id||ticket_len(2 BE)||ticket||
// lifetime(8 BE)||issued_at(8 BE)||send_key(32)||recv_key(32)||
// send_nonce(12)||recv_nonce(12).
type Ticket struct {
	ServerID   string
	Opaque     []byte // the opaque blob issued by the server, presented verbatim at 0-RTT
	Lifetime   time.Duration
	IssuedAt   time.Time
	SendKey    [vcrypto.KeySize]byte
	RecvKey    [vcrypto.KeySize]byte
	SendNonce  [vcrypto.NonceSize]byte
	RecvNonce  [vcrypto.NonceSize]byte
}

// Expired reports whether the ticket has aged past its lifetime as of now.
func (t Ticket) Expired(now time.Time) bool {
	return !now.Before(t.IssuedAt.Add(t.Lifetime))
}

// EncodeTicketRecord serializes t into the self-delimiting on-disk record
// format described in §6.
func EncodeTicketRecord(t Ticket) []byte {
	serverID := []byte(t.ServerID)
	buf := &bytes.Buffer{}
	buf.WriteByte(TicketFormatVersion)

	var l16 [2]byte
	binary.BigEndian.PutUint16(l16[:], uint16(len(serverID)))
	buf.Write(l16[:])
	buf.Write(serverID)

	binary.BigEndian.PutUint16(l16[:], uint16(len(t.Opaque)))
	buf.Write(l16[:])
	buf.Write(t.Opaque)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(t.Lifetime))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(t.IssuedAt.UnixMilli()))
	buf.Write(u64[:])

	buf.Write(t.SendKey[:])
	buf.Write(t.RecvKey[:])
	buf.Write(t.SendNonce[:])
	buf.Write(t.RecvNonce[:])
	return buf.Bytes()
}

// DecodeTicketRecord parses one record and returns the number of bytes
// consumed, to let the caller walk a file of concatenated records.
func DecodeTicketRecord(buf []byte) (Ticket, int, error) {
	if len(buf) < 1+2 {
		return Ticket{}, 0, fmt.Errorf("handshake: ticket record truncated")
	}
	if buf[0] != TicketFormatVersion {
		return Ticket{}, 0, fmt.Errorf("handshake: unsupported ticket record version %d", buf[0])
	}
	pos := 1

	serverIDLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf) < pos+serverIDLen+2 {
		return Ticket{}, 0, fmt.Errorf("handshake: ticket record truncated at server_id")
	}
	serverID := string(buf[pos : pos+serverIDLen])
	pos += serverIDLen

	ticketLen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if len(buf) < pos+ticketLen+8+8+32+32+12+12 {
		return Ticket{}, 0, fmt.Errorf("handshake: ticket record truncated at opaque/keys")
	}
	opaque := make([]byte, ticketLen)
	copy(opaque, buf[pos:pos+ticketLen])
	pos += ticketLen

	lifetime := time.Duration(binary.BigEndian.Uint64(buf[pos : pos+8]))
	pos += 8
	issuedAtMs := binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8

	var t Ticket
	t.ServerID = serverID
	t.Opaque = opaque
	t.Lifetime = lifetime
	t.IssuedAt = time.UnixMilli(int64(issuedAtMs))

	copy(t.SendKey[:], buf[pos:pos+32])
	pos += 32
	copy(t.RecvKey[:], buf[pos:pos+32])
	pos += 32
	copy(t.SendNonce[:], buf[pos:pos+12])
	pos += 12
	copy(t.RecvNonce[:], buf[pos:pos+12])
	pos += 12

	return t, pos, nil
}

// DecodeAllTicketRecords parses a whole file of concatenated records.
func DecodeAllTicketRecords(buf []byte) ([]Ticket, error) {
	var out []Ticket
	for len(buf) > 0 {
		t, n, err := DecodeTicketRecord(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		buf = buf[n:]
	}
	return out, nil
}

// TicketCache is the bounded, in-memory ticket cache shared by both the
// client (keyed by server_id) and the server (keyed by client_id_hash),
// enforcing MaxTicketsPerClient and MaxTicketsTotal (§4.4).
type TicketCache struct {
	mu      sync.Mutex
	byOwner map[string][]Ticket
	total   int
}

// NewTicketCache builds an empty cache.
func NewTicketCache() *TicketCache {
	return &TicketCache{byOwner: make(map[string][]Ticket)}
}

// Put inserts or replaces a ticket under owner (server_id or
// client_id_hash), evicting the oldest entry for that owner if it would
// exceed MaxTicketsPerClient, and the globally oldest entry if the total
// bound would be exceeded.
func (c *TicketCache) Put(owner string, t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := c.byOwner[owner]
	bucket = append(bucket, t)
	if len(bucket) > MaxTicketsPerClient {
		bucket = bucket[len(bucket)-MaxTicketsPerClient:]
	}
	if len(c.byOwner[owner]) < len(bucket) {
		c.total++
	}
	c.byOwner[owner] = bucket

	for c.total > MaxTicketsTotal {
		c.evictGloballyOldestLocked()
	}
}

func (c *TicketCache) evictGloballyOldestLocked() {
	var oldestOwner string
	var oldestIdx = -1
	var oldestTime time.Time
	for owner, bucket := range c.byOwner {
		for i, t := range bucket {
			if oldestIdx == -1 || t.IssuedAt.Before(oldestTime) {
				oldestOwner, oldestIdx, oldestTime = owner, i, t.IssuedAt
			}
		}
	}
	if oldestIdx == -1 {
		return
	}
	bucket := c.byOwner[oldestOwner]
	bucket = append(bucket[:oldestIdx], bucket[oldestIdx+1:]...)
	if len(bucket) == 0 {
		delete(c.byOwner, oldestOwner)
	} else {
		c.byOwner[oldestOwner] = bucket
	}
	c.total--
}

// Get returns all cached tickets for owner.
func (c *TicketCache) Get(owner string) []Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Ticket, len(c.byOwner[owner]))
	copy(out, c.byOwner[owner])
	return out
}

// Total reports the number of tickets currently cached, for metrics/tests.
func (c *TicketCache) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Owners lists every owner key with at least one cached ticket, for
// callers that need to walk the whole cache (e.g. persisting it to disk).
func (c *TicketCache) Owners() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	owners := make([]string, 0, len(c.byOwner))
	for owner := range c.byOwner {
		owners = append(owners, owner)
	}
	return owners
}
