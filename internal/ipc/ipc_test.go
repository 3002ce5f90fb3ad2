package ipc

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	type statusPayload struct {
		Connected bool `json:"connected"`
	}
	env, err := NewEnvelope(TypeStatus, statusPayload{Connected: true})
	require.NoError(t, err)
	assert.Equal(t, TypeStatus, env.Type)

	var got statusPayload
	require.NoError(t, env.Decode(&got))
	assert.True(t, got.Connected)
}

func TestNewEnvelopeNilPayload(t *testing.T) {
	env, err := NewEnvelope(TypeDisconnect, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestConnSendRecvFramed(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	env, err := NewEnvelope(TypeConnect, map[string]string{"server": "1.2.3.4:51820"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sc.Send(env) }()

	got, err := cc.Recv()
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, TypeConnect, got.Type)
	var payload map[string]string
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "1.2.3.4:51820", payload["server"])
}

func TestConnRecvRejectsOversizedLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cc := NewConn(client)

	go func() {
		var hdr [4]byte
		hdr[0] = 0x7F // huge length prefix
		server.Write(hdr[:])
	}()

	_, err := cc.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oversized")
}

func TestServerBroadcastsHeartbeat(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "veild.sock")

	srv, err := Listen(sockPath, func(c *Conn) {
		for {
			if _, err := c.Recv(); err != nil {
				return
			}
		}
	})
	require.NoError(t, err)
	srv.heartbeatInterval = 10 * time.Millisecond
	defer srv.Close()

	go srv.Serve()

	nc, err := net.DialTimeout("unix", sockPath, time.Second)
	require.NoError(t, err)
	defer nc.Close()
	cc := NewConn(nc)

	require.NoError(t, cc.SetDeadline(time.Now().Add(2*time.Second)))
	env, err := cc.Recv()
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, env.Type)
}
