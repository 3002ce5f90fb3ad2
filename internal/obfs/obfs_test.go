package obfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSeed() [SeedSize]byte {
	var s [SeedSize]byte
	copy(s[:], []byte("obfuscation-profile-seed-0123456"))
	return s
}

func TestPrefixLenWithinBounds(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	for seq := uint64(0); seq < 500; seq++ {
		l := p.PrefixLen(seq)
		require.GreaterOrEqual(t, l, p.Config.MinPrefix)
		require.LessOrEqual(t, l, p.Config.MaxPrefix)
	}
}

func TestPrefixLenDeterministic(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	require.Equal(t, p.PrefixLen(777), p.PrefixLen(777))
}

func TestPaddingLenWithinOverallBounds(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	for seq := uint64(0); seq < 500; seq++ {
		l := p.PaddingLen(seq)
		require.GreaterOrEqual(t, l, 0)
		require.LessOrEqual(t, l, p.Config.Padding.Large.Max)
	}
}

func TestTimingJitterNeverExceedsMax(t *testing.T) {
	for _, kind := range []JitterKind{JitterUniform, JitterPoisson, JitterExponential} {
		cfg := DefaultConfig()
		cfg.JitterKind = kind
		p := NewProfile(testSeed(), cfg)
		for seq := uint64(0); seq < 200; seq++ {
			j := p.TimingJitter(seq)
			require.GreaterOrEqual(t, j, int64(0))
			require.LessOrEqual(t, j, cfg.MaxTimingJitterNanos)
		}
	}
}

func TestHeartbeatIntervalWithinBoundsAllKinds(t *testing.T) {
	for _, kind := range []HeartbeatTimingKind{HeartbeatUniform, HeartbeatExponential, HeartbeatBurst} {
		cfg := DefaultConfig()
		cfg.HeartbeatTiming = kind
		p := NewProfile(testSeed(), cfg)
		for round := uint64(0); round < 100; round++ {
			d := p.HeartbeatInterval(round)
			require.Greater(t, d, int64(0))
		}
	}
}

func TestHeartbeatPayloadShapes(t *testing.T) {
	kinds := []HeartbeatPayloadKind{
		PayloadEmpty, PayloadTimestamp, PayloadIoTSensor, PayloadGenericTelemetry,
		PayloadRandomSize, PayloadMimicDNS, PayloadMimicSTUN, PayloadMimicRTP, PayloadMimicHTTP,
	}
	for _, k := range kinds {
		cfg := DefaultConfig()
		cfg.HeartbeatPayload = k
		p := NewProfile(testSeed(), cfg)
		payload := p.HeartbeatPayload(1, 1234567890)
		if k == PayloadEmpty {
			require.Empty(t, payload)
		} else {
			require.NotEmpty(t, payload)
		}
	}
}

func TestIoTSensorPayloadShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPayload = PayloadIoTSensor
	p := NewProfile(testSeed(), cfg)
	payload := p.HeartbeatPayload(3, 42)
	require.Len(t, payload, 24)
}

func TestGenericTelemetryPayloadShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPayload = PayloadGenericTelemetry
	p := NewProfile(testSeed(), cfg)
	payload := p.HeartbeatPayload(3, 42)
	require.Len(t, payload, 24)
	require.Equal(t, "TELM", string(payload[0:4]))
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(payload[4:6]))
	require.Equal(t, uint16(16), binary.BigEndian.Uint16(payload[6:8]))
	require.Equal(t, uint64(3), binary.BigEndian.Uint64(payload[8:16]))
	require.Equal(t, uint64(42), binary.BigEndian.Uint64(payload[16:24]))
}

func TestMimicDNSPayloadShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPayload = PayloadMimicDNS
	p := NewProfile(testSeed(), cfg)
	payload := p.HeartbeatPayload(3, 42)
	require.Greater(t, len(payload), 12)
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(payload[4:6])) // qdcount
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(payload[6:8])) // ancount
	// Question name "example.com." in label form, then QTYPE A / QCLASS IN.
	require.Equal(t, byte(7), payload[12])
	require.Equal(t, "example", string(payload[13:20]))
	require.Equal(t, byte(3), payload[20])
	require.Equal(t, "com", string(payload[21:24]))
	require.Equal(t, byte(0), payload[24]) // root label
	qEnd := 25
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(payload[qEnd:qEnd+2]))   // QTYPE A
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(payload[qEnd+2:qEnd+4])) // QCLASS IN
	// Answer starts with a compressed name pointer to offset 12.
	aStart := qEnd + 4
	require.Equal(t, []byte{0xC0, 0x0C}, payload[aStart:aStart+2])
}

func TestMimicSTUNPayloadShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPayload = PayloadMimicSTUN
	p := NewProfile(testSeed(), cfg)
	payload := p.HeartbeatPayload(3, 42)
	require.Greater(t, len(payload), 20)
	require.Equal(t, uint32(0x2112A442), binary.BigEndian.Uint32(payload[4:8]))
	msgLen := binary.BigEndian.Uint16(payload[2:4])
	require.Equal(t, int(msgLen), len(payload)-20)
	require.Equal(t, uint16(0x0020), binary.BigEndian.Uint16(payload[20:22])) // XOR-MAPPED-ADDRESS
}

func TestRandomSizePayloadWithinSpecBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatPayload = PayloadRandomSize
	p := NewProfile(testSeed(), cfg)
	for round := uint64(0); round < 50; round++ {
		payload := p.HeartbeatPayload(round, 0)
		require.GreaterOrEqual(t, len(payload), 8)
		require.LessOrEqual(t, len(payload), 200)
	}
}

func TestHeartbeatPayloadDeterministic(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	a := p.HeartbeatPayload(5, 999)
	b := p.HeartbeatPayload(5, 999)
	require.Equal(t, a, b)
}

func TestApplyEntropyNormalizationChangesSomeBytes(t *testing.T) {
	buf := make([]byte, 100)
	orig := make([]byte, 100)
	ApplyEntropyNormalization(buf, testSeed(), 42)

	changed := false
	for i := range buf {
		if buf[i] != orig[i] {
			changed = true
			break
		}
	}
	require.True(t, changed)
}

func TestApplyEntropyNormalizationNoopOnEmpty(t *testing.T) {
	var buf []byte
	require.NotPanics(t, func() { ApplyEntropyNormalization(buf, testSeed(), 1) })
}

// identityDeobfuscate models a session whose sequence obfuscation is a
// no-op, so the recovered sequence equals the obfuscated field directly.
func identityDeobfuscate(obfSeq uint64) uint64 { return obfSeq }

func TestRecoverPrefixLenFindsSenderChoice(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	const seq = uint64(123)
	chosen := p.PrefixLen(seq)

	datagram := make([]byte, chosen+obfSeqFieldSize+16)
	putBE64(datagram[chosen:chosen+8], seq)

	gotLen, gotSeq, ok := p.RecoverPrefixLen(datagram, identityDeobfuscate)
	require.True(t, ok)
	require.Equal(t, chosen, gotLen)
	require.Equal(t, seq, gotSeq)
}

func TestRecoverPrefixLenFailsOnGarbage(t *testing.T) {
	p := NewProfile(testSeed(), DefaultConfig())
	datagram := make([]byte, 10)
	for i := range datagram {
		datagram[i] = 0xAA
	}
	_, _, ok := p.RecoverPrefixLen(datagram, identityDeobfuscate)
	require.False(t, ok)
}

func putBE64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
