// Package pipeline implements the optional three-thread high-throughput
// mode of §4.8 (C9): a UDP RX goroutine and TX goroutine linked to a
// single Process goroutine by two bounded queues, so exactly one
// goroutine ever touches a Session's internal state.
//
// Grounded on the teacher's transport/internet/gametunnel/priority.go
// PriorityQueue, which is itself three fixed-capacity `chan *Packet`
// queues drained by a dedicated worker with a non-blocking
// `select { case ch <- v: default: drop+count }` enqueue; this package
// keeps that exact queue shape (Go channels standing in for the spec's
// lock-free SPSC ring, per original_source/src/common/spsc_queue.h) and
// generalizes it from priority scheduling to the RX/Process/TX direction
// split §4.8 describes.
package pipeline

import (
	"sync"
	"time"
)

// Direction marks which way an Item is traveling through Process.
type Direction uint8

const (
	DirectionOutbound Direction = iota // encrypt
	DirectionInbound                   // decrypt
)

// Item is one datagram moving through the pipeline, tagged with its
// direction so Process knows whether to encrypt or decrypt it.
type Item struct {
	Direction Direction
	Data      []byte
	Remote    any // net.Addr, kept as `any` so this package has no net dependency
	StreamID  uint64
	Fin       bool
	EnqueuedAt time.Time
}

// DefaultQueueCapacity is the default SPSC queue depth (§4.8: "default
// 4096, rounded to power of two").
const DefaultQueueCapacity = 4096

// DefaultTXBacklog is the small bounded backlog drained opportunistically
// before the hard drop-with-counter path on TX queue-full (pinned Open
// Question 3 in the expanded spec).
const DefaultTXBacklog = 64

// Counters tracks the drop-on-full counters §4.8 requires.
type Counters struct {
	mu       sync.Mutex
	RXDrops  uint64
	TXDrops  uint64
}

func (c *Counters) incRX() { c.mu.Lock(); c.RXDrops++; c.mu.Unlock() }
func (c *Counters) incTX() { c.mu.Lock(); c.TXDrops++; c.mu.Unlock() }

// Snapshot returns the current drop counts.
func (c *Counters) Snapshot() (rx, tx uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RXDrops, c.TXDrops
}

// Processor is implemented by the session layer: Process performs
// encrypt on outbound items and decrypt on inbound items. It is called
// from exactly one goroutine (the Process stage), so the caller's
// implementation needs no internal locking of its own beyond whatever a
// single Session's own mutex already provides.
type Processor interface {
	Process(item Item) (result Item, ok bool)
}

// Pipeline wires one RX queue and one TX queue around a single Process
// stage goroutine, matching the diagram in §4.8:
//
//	UDP RX -> [rxQueue] -> Process -> [txQueue] -> UDP TX
type Pipeline struct {
	rxQueue chan Item
	txQueue chan Item

	txBacklog    []Item
	txBacklogCap int
	txMu         sync.Mutex

	counters Counters

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Pipeline with the given queue capacity (0 = default,
// rounded to a power of two) and TX backlog size (0 = default).
func New(queueCapacity, txBacklogCap int) *Pipeline {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	queueCapacity = nextPowerOfTwo(queueCapacity)
	if txBacklogCap <= 0 {
		txBacklogCap = DefaultTXBacklog
	}
	return &Pipeline{
		rxQueue:      make(chan Item, queueCapacity),
		txQueue:      make(chan Item, queueCapacity),
		txBacklogCap: txBacklogCap,
		stop:         make(chan struct{}),
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SubmitRX is called by the RX (UDP read) goroutine for each received
// datagram. Queue-full drops the item and increments RXDrops (§4.8:
// "Queue-full on RX => drop").
func (p *Pipeline) SubmitRX(item Item) {
	select {
	case p.rxQueue <- item:
	default:
		p.counters.incRX()
	}
}

// SubmitOutbound is called by the orchestrator for each outbound packet
// read from the virtual interface. It shares rxQueue with SubmitRX since
// both are Process-stage input — the Direction field on Item is what
// tells Process whether to encrypt or decrypt; only the final queue
// before the OS (txQueue) is direction-specific.
func (p *Pipeline) SubmitOutbound(item Item) {
	select {
	case p.rxQueue <- item:
	default:
		p.counters.incRX()
	}
}

// Counters exposes the drop counters for metrics export.
func (p *Pipeline) Counters() *Counters { return &p.counters }

// Output returns the channel the TX goroutine should drain finished
// items from.
func (p *Pipeline) Output() <-chan Item { return p.txQueue }

// RunProcess starts the single Process-stage goroutine, which is the only
// goroutine allowed to call proc.Process (§4.8: "a mutex serializes
// access to it from the Process thread alone — there is exactly one
// Process thread per session"). It returns immediately; call Stop to
// shut it down.
func (p *Pipeline) RunProcess(proc Processor) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.stop:
				p.drainTXBacklogFinal()
				return
			case item := <-p.rxQueue:
				result, ok := proc.Process(item)
				if !ok {
					continue
				}
				p.enqueueTX(result)
			}
		}
	}()
}

// enqueueTX tries the TX queue directly; on queue-full it tries the small
// bounded backlog before the hard drop-with-counter path (pinned Open
// Question 3).
func (p *Pipeline) enqueueTX(item Item) {
	select {
	case p.txQueue <- item:
		p.drainTXBacklog()
		return
	default:
	}

	p.txMu.Lock()
	if len(p.txBacklog) < p.txBacklogCap {
		p.txBacklog = append(p.txBacklog, item)
		p.txMu.Unlock()
		return
	}
	p.txMu.Unlock()
	p.counters.incTX()
}

// drainTXBacklog opportunistically pushes backlogged items onto the TX
// queue now that at least one slot just freed up.
func (p *Pipeline) drainTXBacklog() {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	for len(p.txBacklog) > 0 {
		select {
		case p.txQueue <- p.txBacklog[0]:
			p.txBacklog = p.txBacklog[1:]
		default:
			return
		}
	}
}

func (p *Pipeline) drainTXBacklogFinal() {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	for _, item := range p.txBacklog {
		select {
		case p.txQueue <- item:
		default:
			p.counters.incTX()
		}
	}
	p.txBacklog = nil
}

// Stop signals the Process goroutine to exit and waits for it.
func (p *Pipeline) Stop() {
	close(p.stop)
	p.wg.Wait()
}
