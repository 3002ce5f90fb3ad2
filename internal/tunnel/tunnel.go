// Package tunnel implements the top-level orchestrator state machine
// (§4.10, C10): Disconnected -> Connecting -> Handshaking -> Connected,
// with Reconnecting on any fatal session error and a bounded exponential
// backoff before the next Connecting attempt. The virtual interface is
// never opened before a handshake has completed.
//
// Grounded on the teacher's transport/internet/gametunnel/dialer.go
// (dial, handshake, hand the connection to a session) and hub.go (the
// per-connection run loop once established); this package keeps that
// "dial/accept once, then run a session loop until it dies, then redial"
// shape and adds the explicit state machine and bounded backoff §4.9/
// §4.10 describe. golang.org/x/sync/errgroup fans in the interface-read
// goroutine and the event loop goroutine the way the teacher's hub.go
// fans in its read/write pumps.
package tunnel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/veilnet/veil/internal/config"
	"github.com/veilnet/veil/internal/eventloop"
	"github.com/veilnet/veil/internal/frame"
	"github.com/veilnet/veil/internal/handshake"
	"github.com/veilnet/veil/internal/iface"
	"github.com/veilnet/veil/internal/logging"
	"github.com/veilnet/veil/internal/metrics"
	"github.com/veilnet/veil/internal/obfs"
	"github.com/veilnet/veil/internal/pmtu"
	"github.com/veilnet/veil/internal/session"
	"github.com/veilnet/veil/internal/vcrypto"
	"github.com/veilnet/veil/internal/verr"
)

// State is the orchestrator's position in §4.10's state machine.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// handshakeTimeout bounds a single INIT/RESPONSE round trip before the
// orchestrator retries or gives up on this Connecting attempt.
const handshakeTimeout = 5 * time.Second

// rekeyCheckInterval is how often the data plane polls RekeyDue; the
// thresholds themselves are byte/packet/time based, so this only bounds
// how late a rekey can start after crossing one (§4.5 "Rekey").
const rekeyCheckInterval = 10 * time.Second

// Tunnel drives one point-to-point session end to end, reconnecting on
// failure. A process runs exactly one Tunnel.
type Tunnel struct {
	cfg     *config.Config
	baseLog *slog.Logger
	log     *slog.Logger
	metrics *metrics.Metrics
	dev     iface.Device

	psk  [handshake.PSKSize]byte
	seed [32]byte

	tickets *handshake.TicketCache
	nonces  *handshake.NonceCache

	state atomic.Int32

	pmtuTracker *pmtu.Tracker

	mu      sync.Mutex
	session *session.Session
}

// New builds a Tunnel. dev is the virtual interface to drive once a
// session is established; it must not be opened yet.
func New(cfg *config.Config, log *slog.Logger, m *metrics.Metrics, dev iface.Device, psk [handshake.PSKSize]byte, seed [32]byte) *Tunnel {
	if log == nil {
		log = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	t := &Tunnel{
		cfg:     cfg,
		baseLog: log,
		log:     log,
		metrics: m,
		dev:     dev,
		psk:     psk,
		seed:    seed,
		tickets: handshake.NewTicketCache(),
		nonces:  handshake.NewNonceCache(4096, 30*time.Second),
	}
	t.loadTicketCache()
	t.setState(StateDisconnected)
	return t
}

// loadTicketCache populates t.tickets from cfg.TicketCacheFile if
// configured; a missing or unreadable file is not fatal, since tickets are
// only ever an optimization layered on top of the full handshake.
func (t *Tunnel) loadTicketCache() {
	if t.cfg.TicketCacheFile == "" {
		return
	}
	raw, err := os.ReadFile(t.cfg.TicketCacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("ticket cache read failed", logging.KeyReason, err.Error())
		}
		return
	}
	records, err := handshake.DecodeAllTicketRecords(raw)
	if err != nil {
		t.log.Warn("ticket cache decode failed", logging.KeyReason, err.Error())
		return
	}
	for _, tk := range records {
		if tk.Expired(time.Now()) {
			continue
		}
		t.tickets.Put(tk.ServerID, tk)
	}
}

// persistTicketCache writes every non-expired cached ticket back to
// cfg.TicketCacheFile. Called on clean shutdown; failures are logged, not
// fatal, for the same reason as loadTicketCache.
func (t *Tunnel) persistTicketCache() {
	if t.cfg.TicketCacheFile == "" {
		return
	}
	var out []byte
	now := time.Now()
	for _, owner := range t.tickets.Owners() {
		for _, tk := range t.tickets.Get(owner) {
			if tk.Expired(now) {
				continue
			}
			out = append(out, handshake.EncodeTicketRecord(tk)...)
		}
	}
	if err := os.WriteFile(t.cfg.TicketCacheFile, out, 0o600); err != nil {
		t.log.Warn("ticket cache write failed", logging.KeyReason, err.Error())
	}
}

func (t *Tunnel) setState(s State) {
	t.state.Store(int32(s))
	t.log.Info("tunnel state transition", logging.KeyState, s.String())
}

// State returns the orchestrator's current state.
func (t *Tunnel) State() State { return State(t.state.Load()) }

// Run drives the Disconnected->...->Connected loop, reconnecting on
// failure, until ctx is canceled.
func (t *Tunnel) Run(ctx context.Context) error {
	attempt := 0
	for ctx.Err() == nil {
		t.setState(StateConnecting)
		err := t.connectAndServe(ctx)
		if ctx.Err() != nil {
			t.setState(StateDisconnected)
			return nil
		}
		if err != nil {
			t.log.Warn("session ended", logging.KeyReason, err.Error())
		}

		if t.cfg.Reconnect.MaxAttempts > 0 && attempt >= t.cfg.Reconnect.MaxAttempts {
			t.setState(StateDisconnected)
			return fmt.Errorf("tunnel: exhausted %d reconnect attempts: %w", t.cfg.Reconnect.MaxAttempts, err)
		}

		t.setState(StateReconnecting)
		delay := backoffDelay(t.cfg.Reconnect, attempt)
		attempt++
		t.log.Info("reconnecting", "delay", delay, "attempt", attempt)

		select {
		case <-ctx.Done():
			t.setState(StateDisconnected)
			return nil
		case <-time.After(delay):
		}
	}
	return nil
}

// backoffDelay computes the bounded exponential reconnect delay of
// §4.9, with ±10% jitter so many clients reconnecting to the same
// server don't synchronize.
func backoffDelay(rc config.ReconnectConfig, attempt int) time.Duration {
	d := float64(rc.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= rc.Multiplier
		if d >= float64(rc.MaxDelay) {
			d = float64(rc.MaxDelay)
			break
		}
	}
	jitter := 1.0 + (mrand.Float64()-0.5)*0.2
	delay := time.Duration(d * jitter)
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	return delay
}

// connectAndServe runs exactly one Connecting->Handshaking->Connected
// cycle and returns when the session ends (for any reason, including a
// clean Close).
func (t *Tunnel) connectAndServe(ctx context.Context) error {
	// connID correlates every log line for this one connect/handshake/run
	// cycle without leaking onto the wire; xid's sortable, lock-free IDs
	// are cheap enough to mint per attempt the way runZeroInc-conniver's
	// exporter tags each scrape.
	connID := xid.New()
	t.log = t.baseLog.With(logging.KeyConnID, connID.String())

	conn, remote, err := t.openSocket()
	if err != nil {
		return verr.New(verr.ConfigFatal, err)
	}
	defer conn.Close()

	t.setState(StateHandshaking)
	sess, remote, err := t.handshake(ctx, conn, remote)
	if err != nil {
		return err
	}
	defer sess.Close()

	t.mu.Lock()
	t.session = sess
	t.mu.Unlock()
	t.metrics.RecordSessionEstablished()
	defer t.metrics.RecordSessionTornDown("session_ended")

	if err := t.dev.Open(); err != nil {
		return verr.New(verr.ConfigFatal, fmt.Errorf("open interface: %w", err))
	}
	defer t.dev.Close()

	t.pmtuTracker = pmtu.New(t.cfg.Session.MTU, func(mtu int) {
		_ = t.dev.SetMTU(mtu)
	})
	_ = t.dev.SetMTU(t.pmtuTracker.Current())

	t.setState(StateConnected)
	return t.runDataPlane(ctx, conn, remote, sess)
}

// openSocket binds the local UDP socket. In client mode it connects to
// the configured server; in server mode it listens on local_port.
func (t *Tunnel) openSocket() (net.PacketConn, net.Addr, error) {
	if t.cfg.Mode == "client" {
		raddr, err := net.ResolveUDPAddr("udp", t.cfg.Server)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve server address %q: %w", t.cfg.Server, err)
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: t.cfg.LocalPort})
		if err != nil {
			return nil, nil, fmt.Errorf("bind local socket: %w", err)
		}
		return conn, raddr, nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: t.cfg.LocalPort})
	if err != nil {
		return nil, nil, fmt.Errorf("listen on port %d: %w", t.cfg.LocalPort, err)
	}
	return conn, nil, nil
}

// handshake runs the PSK+ECDH exchange of §4.4 synchronously over conn.
// It returns the established Session and the confirmed peer address.
func (t *Tunnel) handshake(ctx context.Context, conn net.PacketConn, remote net.Addr) (*session.Session, net.Addr, error) {
	start := time.Now()
	var (
		sess *session.Session
		err  error
	)
	if t.cfg.Mode == "client" {
		sess, err = t.handshakeInitiator(ctx, conn, remote)
	} else {
		sess, remote, err = t.handshakeResponder(ctx, conn)
	}
	if err != nil {
		t.metrics.RecordHandshakeReject("handshake_failed")
		return nil, nil, verr.New(verr.HandshakeReject, err)
	}
	t.metrics.HandshakeLatency.Observe(time.Since(start).Seconds())
	t.metrics.HandshakesOK.Inc()
	return sess, remote, nil
}

func (t *Tunnel) handshakeInitiator(ctx context.Context, conn net.PacketConn, remote net.Addr) (*session.Session, error) {
	kp, err := vcrypto.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	defer kp.Zero()

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		initBytes, initBody, err := handshake.EncodeInit(rand.Reader, t.psk, kp.Public, time.Now())
		if err != nil {
			return nil, err
		}
		if _, err := conn.WriteTo(initBytes, remote); err != nil {
			return nil, err
		}

		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		buf := make([]byte, 65536)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			lastErr = err
			continue
		}

		respFrame, err := frame.Decode(buf[:n])
		if err != nil || respFrame.Kind != frame.KindControl || respFrame.ControlType != frame.ControlHandshakeResponse {
			lastErr = fmt.Errorf("handshake: unexpected response datagram")
			continue
		}
		resp, err := handshake.DecodeResponseBody(respFrame.Payload)
		if err != nil {
			lastErr = err
			continue
		}

		shared, err := vcrypto.ECDH(kp.Secret, resp.EphemeralPub)
		if err != nil {
			lastErr = err
			continue
		}
		transcript := append(append([]byte{}, kp.Public[:]...), resp.EphemeralPub[:]...)
		material, err := handshake.DeriveSessionMaterial(t.psk, initBody.Nonce, shared, transcript, true)
		if err != nil {
			return nil, err
		}

		if len(resp.Ticket) > 0 {
			t.tickets.Put(t.cfg.Server, handshake.Ticket{
				ServerID: t.cfg.Server,
				Opaque:   resp.Ticket,
				Lifetime: handshake.DefaultTicketLifetime,
				IssuedAt: time.Now(),
				SendKey:  material.SendKey, RecvKey: material.RecvKey,
				SendNonce: material.SendNonce, RecvNonce: material.RecvNonce,
			})
			t.log.Debug("ticket cached", logging.KeyCorrelationID, handshake.NewClientCorrelationID())
		}

		keys := session.Keys{
			SendKey: material.SendKey, RecvKey: material.RecvKey,
			SendNonceBase: material.SendNonce, RecvNonceBase: material.RecvNonce,
		}
		profile := t.newProfile()
		sess := session.NewSession(resp.SessionID, keys, profile, time.Now())
		sess.SendSeq = 1 // sequence 0 is reserved for the RESPONSE frame
		return sess, nil
	}
	if lastErr == nil {
		lastErr = errors.New("handshake: no response from server")
	}
	return nil, lastErr
}

func (t *Tunnel) handshakeResponder(ctx context.Context, conn net.PacketConn) (*session.Session, net.Addr, error) {
	buf := make([]byte, 65536)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, nil, err
		}
		initBody, err := handshake.DecodeInit(t.psk, buf[:n])
		if err != nil {
			t.metrics.RecordProtocolDrop("init_decode_failed")
			continue
		}
		if t.nonces.CheckAndRemember(initBody.Nonce, time.Now()) {
			t.metrics.RecordHandshakeReject("nonce_replay")
			continue
		}

		kp, err := vcrypto.GenerateKeyPair(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		defer kp.Zero()

		shared, err := vcrypto.ECDH(kp.Secret, initBody.EphemeralPub)
		if err != nil {
			t.metrics.RecordHandshakeReject("ecdh_failed")
			continue
		}
		transcript := append(append([]byte{}, initBody.EphemeralPub[:]...), kp.Public[:]...)
		material, err := handshake.DeriveSessionMaterial(t.psk, initBody.Nonce, shared, transcript, false)
		if err != nil {
			return nil, nil, err
		}

		sessionID := rand64()
		ticketOpaque := make([]byte, 16)
		_, _ = rand.Read(ticketOpaque)
		resp := handshake.ResponseBody{EphemeralPub: kp.Public, SessionID: sessionID, Ticket: ticketOpaque}
		respBytes, err := frame.Encode(frame.Frame{Kind: frame.KindControl, ControlType: frame.ControlHandshakeResponse, Payload: resp.Encode()})
		if err != nil {
			return nil, nil, err
		}
		if _, err := conn.WriteTo(respBytes, remote); err != nil {
			return nil, nil, err
		}

		t.tickets.Put(remote.String(), handshake.Ticket{
			ServerID: remote.String(),
			Opaque:   ticketOpaque,
			Lifetime: handshake.DefaultTicketLifetime,
			IssuedAt: time.Now(),
			SendKey:  material.SendKey, RecvKey: material.RecvKey,
			SendNonce: material.SendNonce, RecvNonce: material.RecvNonce,
		})
		t.log.Debug("ticket issued", logging.KeyCorrelationID, handshake.NewClientCorrelationID())

		keys := session.Keys{
			SendKey: material.SendKey, RecvKey: material.RecvKey,
			SendNonceBase: material.SendNonce, RecvNonceBase: material.RecvNonce,
		}
		profile := t.newProfile()
		return session.NewSession(sessionID, keys, profile, time.Now()), remote, nil
	}
}

func rand64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (t *Tunnel) newProfile() *obfs.Profile {
	cfg := obfs.DefaultConfig()
	cfg.MinPrefix, cfg.MaxPrefix = t.cfg.Obfuscation.MinPrefix, t.cfg.Obfuscation.MaxPrefix
	cfg.MaxTimingJitterNanos = t.cfg.Obfuscation.MaxTimingJitterMs * 1_000_000
	return obfs.NewProfile(t.seed, cfg)
}

// runDataPlane wires the established session into the single-threaded
// event loop and pumps plaintext packets between the virtual interface
// and the wire until the session ends or ctx is canceled.
func (t *Tunnel) runDataPlane(ctx context.Context, conn net.PacketConn, remote net.Addr, sess *session.Session) error {
	loop := eventloop.New(t.cfg.Session.IdleTimeout)

	errc := make(chan error, 1)
	reportErr := func(err error) {
		select {
		case errc <- err:
		default:
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run()
		return nil
	})

	var socketID int
	socketID = loop.AddSocket(conn, remote, eventloop.Handlers{
		OnPacket: func(data []byte, from net.Addr) {
			view, err := sess.DecryptInbound(data)
			if err != nil {
				if errors.Is(err, session.ErrDropped) {
					t.metrics.RecordProtocolDrop("decrypt_dropped")
					return
				}
				reportErr(verr.New(verr.SessionFatal, err))
				return
			}
			t.pmtuTracker.RecordSuccess(len(data))
			t.handleInboundFrame(view, loop, socketID, sess, remote)
		},
		OnAckTimer: func() {
			t.sendAck(loop, socketID, sess, remote)
		},
		OnRetransmitTimer: func() {
			t.retransmitDue(loop, socketID, sess, remote)
		},
		OnIdleTimer: func() {
			reportErr(verr.New(verr.SessionFatal, errors.New("idle timeout")))
		},
		OnError: func(err error) {
			reportErr(verr.New(verr.Transient, err))
		},
	}, t.cfg.Session.AckInterval, t.cfg.Session.RetransmitInterval)
	defer loop.RemoveSocket(socketID)

	rekeyGen := new(uint64)
	*rekeyGen = 1
	loop.ScheduleTimerAsync(rekeyCheckInterval, rekeyCheckInterval, func() {
		t.maybeRekey(loop, socketID, sess, remote, rekeyGen)
	})
	t.scheduleNextHeartbeat(loop, socketID, sess, remote, 0)

	g.Go(func() error {
		return t.pumpInterface(gctx, loop, socketID, sess)
	})

	select {
	case <-ctx.Done():
		loop.Stop()
		_ = g.Wait()
		return nil
	case err := <-errc:
		loop.Stop()
		_ = g.Wait()
		return err
	}
}

// pumpInterface reads plaintext packets from the virtual interface and
// hands each one to the event loop goroutine for fragmentation,
// encryption, and send — Session mutation stays on the one goroutine
// that owns it (§4.7's "no locks inside Session" guarantee).
func (t *Tunnel) pumpInterface(ctx context.Context, loop *eventloop.Loop, socketID int, sess *session.Session) error {
	buf := make([]byte, 65536)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := t.dev.ReadInto(buf)
		if err != nil {
			if errors.Is(err, iface.ErrClosed) {
				return nil
			}
			return verr.New(verr.Transient, err)
		}
		packet := append([]byte(nil), buf[:n]...)
		mtu := t.pmtuTracker.Current()
		loop.Enqueue(func() {
			t.encryptAndSend(loop, socketID, sess, packet, mtu)
		})
	}
}

func (t *Tunnel) encryptAndSend(loop *eventloop.Loop, socketID int, sess *session.Session, packet []byte, mtu int) {
	chunks, err := session.FragmentPlaintext(packet, mtu, t.cfg.Obfuscation.MaxPrefix, maxPaddingEstimate(t.cfg))
	if err != nil {
		t.metrics.RecordProtocolDrop("fragment_failed")
		return
	}
	for i, chunk := range chunks {
		fin := i == len(chunks)-1
		datagram, _, err := sess.EncryptOutbound(0, chunk, fin, time.Now())
		if err != nil {
			t.metrics.RecordProtocolDrop("encrypt_failed")
			continue
		}
		loop.SendPacket(socketID, datagram, nil)
	}
}

func maxPaddingEstimate(cfg *config.Config) int {
	return 800 // Large class upper bound from obfs.DefaultConfig's padding weights
}

func (t *Tunnel) handleInboundFrame(view frame.View, loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr) {
	switch view.Kind {
	case frame.KindData:
		payload := append([]byte{}, view.Payload...)
		if err := t.dev.Write(payload); err != nil {
			t.log.Debug("interface write failed", logging.KeyReason, err.Error())
		}
	case frame.KindAck:
		sess.AckState.Ack(view.AckHead)
		sess.RetransmitBuf.RemoveAcked(&sess.AckState)
	case frame.KindControl:
		switch view.ControlType {
		case frame.ControlRekey:
			if _, newKeys, err := sess.ApplyRekeyControl(view.Payload, t.cfg.Mode == "client"); err == nil {
				sess.BeginRekey(newKeys, time.Now(), t.cfg.Session.RekeyDrainGrace)
				t.metrics.RekeysCompleted.Inc()
			}
		case frame.ControlPing:
			datagram, _, err := sess.EncryptControlFrame(frame.Frame{Kind: frame.KindControl, ControlType: frame.ControlPong}, time.Now(), false)
			if err == nil {
				loop.SendPacket(socketID, datagram, remote)
			}
		}
	case frame.KindHeartbeat:
		// Heartbeats carry no payload obligation beyond refreshing
		// liveness, which the idle timer reset below does.
	}
	loop.ResetIdleTimeout(socketID)
}

func (t *Tunnel) sendAck(loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr) {
	ackFrame := frame.Frame{Kind: frame.KindAck, AckHead: sess.AckState.Head(), AckBitmap: sess.AckState.Bitmap()}
	datagram, _, err := sess.EncryptControlFrame(ackFrame, time.Now(), false)
	if err != nil {
		return
	}
	loop.SendPacket(socketID, datagram, remote)
}

func (t *Tunnel) retransmitDue(loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr) {
	due, exhausted := sess.RetransmitBuf.DueForRetransmit(time.Now(), t.cfg.Session.MaxRTO, t.cfg.Session.MaxRetransmits)
	for _, cand := range due {
		loop.SendPacket(socketID, cand.Datagram, remote)
		t.metrics.RetransmitsSent.Inc()
	}
	for range exhausted {
		t.metrics.RetransmitDrops.Inc()
		if t.pmtuTracker != nil {
			t.pmtuTracker.RecordPathFailure()
		}
	}
	if len(exhausted) > 0 {
		sess.ConsecutiveAuthFailures += len(exhausted)
	}
}

// maybeRekey runs on the loop goroutine on rekeyCheckInterval, initiating
// a rekey when any of the three §4.5 thresholds has fired. Both sides
// install the new keys as soon as the control frame is sent/received
// rather than waiting for an ack, matching the inbound path in
// handleInboundFrame.
func (t *Tunnel) maybeRekey(loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr, generation *uint64) {
	now := time.Now()
	if !sess.RekeyDue(now) {
		return
	}
	f, newKeys, err := sess.BuildRekeyControl(*generation, t.cfg.Mode == "client")
	if err != nil {
		t.log.Warn("rekey control build failed", logging.KeyReason, err.Error())
		return
	}
	datagram, _, err := sess.EncryptControlFrame(f, now, true)
	if err != nil {
		t.log.Warn("rekey control encrypt failed", logging.KeyReason, err.Error())
		return
	}
	loop.SendPacket(socketID, datagram, remote)
	sess.BeginRekey(newKeys, now, t.cfg.Session.RekeyDrainGrace)
	*generation++
	t.metrics.RekeysCompleted.Inc()
}

// scheduleNextHeartbeat reschedules itself after sending, with the next
// delay drawn from the session's obfuscation profile so heartbeat timing
// is indistinguishable from the rest of the deterministic cover traffic
// (§4.3 "Heartbeat interval"). Runs on the loop goroutine throughout, so it
// uses ScheduleTimerAsync rather than the blocking ScheduleTimer.
func (t *Tunnel) scheduleNextHeartbeat(loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr, round uint64) {
	delay := time.Duration(sess.ObfProfile.HeartbeatInterval(round))
	loop.ScheduleTimerAsync(delay, 0, func() {
		t.sendHeartbeat(loop, socketID, sess, remote, round)
		t.scheduleNextHeartbeat(loop, socketID, sess, remote, round+1)
	})
}

func (t *Tunnel) sendHeartbeat(loop *eventloop.Loop, socketID int, sess *session.Session, remote net.Addr, round uint64) {
	now := time.Now()
	payload := sess.ObfProfile.HeartbeatPayload(round, uint64(now.UnixNano()))
	f := frame.Frame{Kind: frame.KindHeartbeat, Timestamp: uint64(now.UnixNano()), Sequence: round, Payload: payload}
	datagram, _, err := sess.EncryptControlFrame(f, now, false)
	if err != nil {
		return
	}
	loop.SendPacket(socketID, datagram, remote)
}
