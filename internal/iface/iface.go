// Package iface defines the virtual network interface contract the
// tunnel orchestrator drives (§4.10/§6): read_into/write/set_mtu/
// open/close/is_open. The data-plane engine only ever consumes a
// byte-stream read/write surface, so this package also ships a portable
// loopback implementation usable on any platform without a real TUN
// device; a platform-specific TUN binding can satisfy the same Device
// interface without the rest of the module changing.
//
// Grounded on the teacher's transport/internet/gametunnel/dialer.go and
// listener.go, which wrap a platform transport behind a small interface
// (Dialer/Listener) so upper layers never see the platform-specific
// type; Device plays the same role here for the tunnel's local
// plaintext side.
package iface

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by ReadInto/Write after Close.
var ErrClosed = errors.New("iface: device closed")

// Device is the virtual network interface contract of §4.10. A real
// implementation binds to a platform TUN device; the core package only
// requires this interface.
type Device interface {
	// ReadInto blocks until a plaintext packet is available, copies it
	// into buf, and returns its length. It returns ErrClosed after Close.
	ReadInto(buf []byte) (int, error)

	// Write sends a decrypted plaintext packet to the interface.
	Write(packet []byte) error

	// SetMTU updates the interface's advertised MTU, called whenever PMTU
	// discovery (C7) changes the usable size.
	SetMTU(mtu int) error

	// Open brings the interface up. It is not called until the tunnel has
	// completed its handshake (§4.10: "the interface is not created until
	// Handshaking -> Connected").
	Open() error

	// Close tears the interface down. Idempotent.
	Close() error

	// IsOpen reports whether Open has succeeded and Close has not yet
	// been called.
	IsOpen() bool
}

// LoopbackDevice is a portable, in-process Device backed by a channel,
// useful for tests and for environments with no real TUN binding
// available. Packets written to it by InjectFromPeer are what ReadInto
// returns; packets it receives via Write are published to via Written.
type LoopbackDevice struct {
	mu     sync.Mutex
	open   bool
	mtu    int
	inbox  chan []byte
	writes chan []byte
}

// NewLoopbackDevice builds an unopened LoopbackDevice with the given
// inbound queue depth.
func NewLoopbackDevice(queueDepth int) *LoopbackDevice {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &LoopbackDevice{
		mtu:    1400,
		inbox:  make(chan []byte, queueDepth),
		writes: make(chan []byte, queueDepth),
	}
}

func (d *LoopbackDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *LoopbackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	close(d.inbox)
	return nil
}

func (d *LoopbackDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *LoopbackDevice) SetMTU(mtu int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mtu = mtu
	return nil
}

// MTU returns the last value passed to SetMTU.
func (d *LoopbackDevice) MTU() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtu
}

func (d *LoopbackDevice) ReadInto(buf []byte) (int, error) {
	pkt, ok := <-d.inbox
	if !ok {
		return 0, ErrClosed
	}
	n := copy(buf, pkt)
	return n, nil
}

func (d *LoopbackDevice) Write(packet []byte) error {
	if !d.IsOpen() {
		return ErrClosed
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	select {
	case d.writes <- cp:
		return nil
	default:
		return io.ErrShortWrite
	}
}

// InjectFromPeer feeds a packet that ReadInto will subsequently return,
// simulating a plaintext packet arriving from the local application
// stack. Used by tests that drive both sides of a Device.
func (d *LoopbackDevice) InjectFromPeer(packet []byte) error {
	if !d.IsOpen() {
		return ErrClosed
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	select {
	case d.inbox <- cp:
		return nil
	default:
		return io.ErrShortWrite
	}
}

// Written returns the channel of packets handed to Write, for tests to
// assert on.
func (d *LoopbackDevice) Written() <-chan []byte { return d.writes }
