// Package ipc implements the length-prefixed JSON envelope the daemon
// exposes to a local UI over a per-user UNIX-domain socket (§6 "IPC to a
// UI"): {type, payload} request/response messages, plus server-pushed
// "event" messages and a periodic heartbeat the UI uses to detect a dead
// daemon.
//
// Grounded on original_source/ipc_protocol.cpp and ipc_socket*.cpp (a
// length-prefixed framed JSON protocol over a local socket) and on the
// teacher's non-blocking send idiom from transport/internet/gametunnel,
// generalized here from datagram queues to a framed stream connection.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// MaxMessageSize bounds a single envelope's encoded payload, guarding
// against a misbehaving peer claiming an unbounded length prefix.
const MaxMessageSize = 1 << 20

// DefaultHeartbeatInterval is how often the server emits a heartbeat
// event message (§6: "every few seconds").
const DefaultHeartbeatInterval = 5 * time.Second

// DefaultHeartbeatTimeout is how long a UI should wait without any
// message before assuming the daemon is dead (§6: "if absent for N
// seconds the UI assumes the daemon is dead").
const DefaultHeartbeatTimeout = 15 * time.Second

// MessageType enumerates the envelope's "type" field values named in §6
// plus the event/heartbeat types the server pushes.
type MessageType string

const (
	TypeConnect    MessageType = "connect"
	TypeDisconnect MessageType = "disconnect"
	TypeStatus     MessageType = "status"
	TypeEvent      MessageType = "event"
	TypeHeartbeat  MessageType = "heartbeat"
	TypeError      MessageType = "error"
)

// Envelope is the wire message: a type tag plus an opaque payload.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: marshal payload: %w", err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Conn wraps a net.Conn with the length-prefixed JSON framing: a 4-byte
// big-endian length prefix followed by that many bytes of JSON.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	writeMu sync.Mutex
}

// NewConn wraps an established connection (e.g. from net.Dial("unix",
// path) or a Listener.Accept) for framed envelope exchange.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Send writes one length-prefixed JSON envelope. Safe for concurrent use
// by multiple goroutines sending on the same Conn.
func (c *Conn) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("ipc: envelope too large: %d bytes", len(data))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return fmt.Errorf("ipc: write length prefix: %w", err)
	}
	if _, err := c.nc.Write(data); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// Recv blocks until one full envelope has been read. It is not safe to
// call Recv from more than one goroutine on the same Conn.
func (c *Conn) Recv() (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxMessageSize {
		return Envelope{}, fmt.Errorf("ipc: peer claims oversized message: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: decode envelope: %w", err)
	}
	return env, nil
}

// SetDeadline forwards to the underlying connection, letting a reader
// apply the heartbeat timeout.
func (c *Conn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Server listens on a UNIX-domain socket and dispatches each accepted
// connection to Handler, pushing a heartbeat event on an interval so
// connected UIs can detect a dead daemon.
type Server struct {
	ln                net.Listener
	heartbeatInterval time.Duration
	handler           func(*Conn)

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Listen creates a Server bound to a UNIX-domain socket path. Any stale
// socket file at path is removed first, matching the teacher's
// dialer/listener setup-before-bind idiom.
func Listen(path string, handler func(*Conn)) (*Server, error) {
	_ = removeStaleSocket(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %q: %w", path, err)
	}
	return &Server{
		ln:                ln,
		heartbeatInterval: DefaultHeartbeatInterval,
		handler:           handler,
		conns:             make(map[*Conn]struct{}),
	}, nil
}

// Serve accepts connections until the listener is closed, running
// Handler for each on its own goroutine and broadcasting a heartbeat
// event to every connected client on heartbeatInterval.
func (s *Server) Serve() error {
	stop := make(chan struct{})
	go s.heartbeatLoop(stop)
	defer close(stop)

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return err
		}
		conn := NewConn(nc)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.handler(conn)
		}()
	}
}

func (s *Server) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	env, _ := NewEnvelope(TypeHeartbeat, nil)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for c := range s.conns {
				_ = c.Send(env)
			}
			s.mu.Unlock()
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func removeStaleSocket(path string) error {
	if _, err := net.Dial("unix", path); err == nil {
		return errors.New("ipc: socket already in use")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
