package eventloop

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newUDPPair(t *testing.T) (a, b net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	b, err = net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestLoopDispatchesPacket(t *testing.T) {
	a, b := newUDPPair(t)

	loop := New(0)
	go loop.Run()
	defer loop.Stop()

	var received atomic.Value
	done := make(chan struct{}, 1)
	sockID := loop.AddSocket(a, b.LocalAddr(), Handlers{
		OnPacket: func(data []byte, remote net.Addr) {
			received.Store(append([]byte(nil), data...))
			done <- struct{}{}
		},
	}, 0, 0)
	_ = sockID

	_, err := b.WriteTo([]byte("hello"), a.LocalAddr())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnPacket dispatch")
	}
	require.Equal(t, []byte("hello"), received.Load().([]byte))
}

func TestLoopTimerFiresAndReschedules(t *testing.T) {
	loop := New(0)
	go loop.Run()
	defer loop.Stop()

	var count atomic.Int32
	loop.ScheduleTimer(5*time.Millisecond, 5*time.Millisecond, func() {
		count.Add(1)
	})

	time.Sleep(60 * time.Millisecond)
	require.GreaterOrEqual(t, count.Load(), int32(3))
}

func TestLoopCancelTimerStopsFiring(t *testing.T) {
	loop := New(0)
	go loop.Run()
	defer loop.Stop()

	var count atomic.Int32
	var id int
	done := make(chan int, 1)
	loop.commands <- func(l *Loop) {
		done <- l.scheduleLocked(-1, 5*time.Millisecond, 5*time.Millisecond, func() { count.Add(1) })
	}
	id = <-done

	time.Sleep(20 * time.Millisecond)
	loop.CancelTimer(id)
	time.Sleep(10 * time.Millisecond)
	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, count.Load(), "canceled timer must not keep firing")
}

func TestLoopResetIdleTimeoutDelaysTeardown(t *testing.T) {
	a, b := newUDPPair(t)
	loop := New(30 * time.Millisecond)
	go loop.Run()
	defer loop.Stop()

	idleFired := make(chan struct{}, 1)
	id := loop.AddSocket(a, b.LocalAddr(), Handlers{
		OnIdleTimer: func() { idleFired <- struct{}{} },
	}, 0, 0)

	time.Sleep(15 * time.Millisecond)
	loop.ResetIdleTimeout(id)

	select {
	case <-idleFired:
		t.Fatal("idle timer fired before reset deadline")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-idleFired:
	case <-time.After(time.Second):
		t.Fatal("idle timer never fired after reset")
	}
}

func TestLoopStopIsIdempotent(t *testing.T) {
	loop := New(0)
	go loop.Run()
	loop.Stop()
	loop.Stop()
}
