package obfs

import (
	"encoding/binary"
	"math"
)

// HeartbeatInterval returns the deterministic delay in nanoseconds before
// the next heartbeat, given a monotonically increasing heartbeat round
// counter (§4.3). round is independent of the data-plane sequence space so
// heartbeat timing stays stable even on an idle link.
func (p *Profile) HeartbeatInterval(round uint64) int64 {
	cfg := p.Config
	lo, hi := cfg.HeartbeatMinNanos, cfg.HeartbeatMaxNanos
	if hi <= lo {
		return lo
	}

	switch cfg.HeartbeatTiming {
	case HeartbeatUniform:
		span := uint64(hi - lo)
		v := deriveValue(p.Seed, TagHeartbeat, round)
		return lo + int64(v%span)

	case HeartbeatExponential:
		u := deriveFloat01(p.Seed, TagHBExp, round)
		mean := float64(cfg.HeartbeatMeanNanos)
		d := -math.Log(1-u) * mean
		// occasional long gap to mimic keepalive stalls, bounded at MaxGap.
		gapU := deriveFloat01(p.Seed, TagHBGap, round)
		if gapU < cfg.HeartbeatPLongGap {
			d = float64(cfg.HeartbeatMaxGapNanos)
		}
		if d > float64(cfg.HeartbeatMaxGapNanos) {
			d = float64(cfg.HeartbeatMaxGapNanos)
		}
		if d < float64(lo) {
			d = float64(lo)
		}
		return int64(d)

	case HeartbeatBurst:
		burstSize := uniformInRange(p.Seed, TagHBBurstSz, round, cfg.HeartbeatBurstMin, cfg.HeartbeatBurstMax+1)
		posInBurst := round % uint64(burstSize)
		if posInBurst != uint64(burstSize-1) {
			return cfg.HeartbeatBurstIntervalNanos
		}
		return int64(uniformInRange(p.Seed, TagHBSilence, round,
			int(cfg.HeartbeatSilenceMinNanos), int(cfg.HeartbeatSilenceMaxNanos+1)))
	}
	return lo
}

// HeartbeatPayload synthesizes a plausible-looking payload for round,
// shaped according to Config.HeartbeatPayload (§4.3). Grounded on
// original_source/src/common/protocol_wrapper/http_handshake_emulator.cpp
// (PayloadMimicHTTP) and the teacher's QUIC/WebRTC wrapping idea of
// dressing a datagram up as a known protocol's bytes.
func (p *Profile) HeartbeatPayload(round uint64, timestampNanos uint64) []byte {
	switch p.Config.HeartbeatPayload {
	case PayloadEmpty:
		return nil

	case PayloadTimestamp:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, timestampNanos)
		return buf

	case PayloadIoTSensor:
		return synthIoTSensor(p.Seed, round, timestampNanos)

	case PayloadGenericTelemetry:
		return synthGenericTelemetry(p.Seed, round, timestampNanos)

	case PayloadRandomSize:
		n := uniformInRange(p.Seed, TagHeartbeat, round, 8, 201)
		return pseudoRandomBytes(p.Seed, "hb_random", round, n)

	case PayloadMimicDNS:
		return synthMimicDNS(p.Seed, round)

	case PayloadMimicSTUN:
		return synthMimicSTUN(p.Seed, round)

	case PayloadMimicRTP:
		return synthMimicRTP(p.Seed, round, timestampNanos)

	case PayloadMimicHTTP:
		return synthMimicHTTP(p.Seed, round)
	}
	return nil
}

// pseudoRandomBytes fills n bytes deterministically from repeated HMAC
// draws, used where a payload kind wants filler that isn't literally zero.
func pseudoRandomBytes(seed [SeedSize]byte, tag string, round uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i += 8 {
		v := deriveValue(seed, tag, round*1_000_003+uint64(i))
		var chunk [8]byte
		binary.BigEndian.PutUint64(chunk[:], v)
		copy(out[i:], chunk[:])
	}
	return out
}

// synthIoTSensor builds the §4.3 iot-sensor skeleton: type(1)+
// device_id(1)+seq16(2)+temperature(4 BE float)+humidity(4)+battery(4)+
// ts_offset(4)+rotating-XOR checksum(4), 24 bytes total.
func synthIoTSensor(seed [SeedSize]byte, round uint64, ts uint64) []byte {
	const (
		msgType  = 0x01
		deviceID = 0x07
	)
	temp := 18.0 + float32(int(deriveValue(seed, "iot_temp", round)%800)-400)/10.0
	humidity := 20.0 + float32(deriveValue(seed, "iot_hum", round)%600)/10.0
	battery := 3.0 + float32(deriveValue(seed, "iot_batt", round)%1200)/1000.0
	tsOffset := uint32(deriveValue(seed, "iot_tsoff", round) % 1_000_000)

	buf := make([]byte, 24)
	buf[0] = msgType
	buf[1] = deviceID
	binary.BigEndian.PutUint16(buf[2:4], uint16(round))
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(temp))
	binary.BigEndian.PutUint32(buf[8:12], math.Float32bits(humidity))
	binary.BigEndian.PutUint32(buf[12:16], math.Float32bits(battery))
	binary.BigEndian.PutUint32(buf[16:20], tsOffset)

	var checksum uint32
	for i := 0; i < 20; i += 4 {
		checksum ^= binary.BigEndian.Uint32(buf[i : i+4])
	}
	checksum ^= uint32(ts)
	binary.BigEndian.PutUint32(buf[20:24], checksum)
	return buf
}

// synthGenericTelemetry builds the §4.3 generic-telemetry skeleton: magic
// "TELM"(4)+version(2)+length(2)+seq(8)+ts(8), 24 bytes total. length
// covers the bytes following the length field itself (seq+ts, 16 bytes).
func synthGenericTelemetry(seed [SeedSize]byte, round uint64, ts uint64) []byte {
	const version = 1
	const bodyLen = 16 // seq(8) + ts(8)

	buf := make([]byte, 4+2+2+8+8)
	copy(buf[0:4], "TELM")
	binary.BigEndian.PutUint16(buf[4:6], version)
	binary.BigEndian.PutUint16(buf[6:8], bodyLen)
	binary.BigEndian.PutUint64(buf[8:16], round)
	binary.BigEndian.PutUint64(buf[16:24], ts)
	return buf
}

// synthMimicDNS builds an RFC 1035 response skeleton (§4.3): a 12 B
// header, one question for "example.com." A IN, and one answer (A IN)
// with a compressed name pointer, TTL and RDATA derived from seed.
func synthMimicDNS(seed [SeedSize]byte, round uint64) []byte {
	id := uint16(deriveValue(seed, "dns_id", round))

	header := make([]byte, 12)
	binary.BigEndian.PutUint16(header[0:2], id)
	binary.BigEndian.PutUint16(header[2:4], 0x8180) // standard response, no error
	binary.BigEndian.PutUint16(header[4:6], 1)      // qdcount
	binary.BigEndian.PutUint16(header[6:8], 1)      // ancount
	binary.BigEndian.PutUint16(header[8:10], 0)     // nscount
	binary.BigEndian.PutUint16(header[10:12], 0)    // arcount

	// Question: example.com. A IN.
	question := encodeDNSName("example.com.")
	question = append(question, 0x00, 0x01) // QTYPE A
	question = append(question, 0x00, 0x01) // QCLASS IN

	// Answer: compressed name pointer to offset 12 (the question's name),
	// A IN, TTL and a 4-byte RDATA address, both derived from seed.
	ttl := 60 + deriveValue(seed, "dns_ttl", round)%3600
	addr := pseudoRandomBytes(seed, "dns_addr", round, 4)

	answer := []byte{0xC0, 0x0C} // name: pointer to offset 12
	answer = append(answer, 0x00, 0x01) // TYPE A
	answer = append(answer, 0x00, 0x01) // CLASS IN
	var ttlBytes [4]byte
	binary.BigEndian.PutUint32(ttlBytes[:], uint32(ttl))
	answer = append(answer, ttlBytes[:]...)
	answer = append(answer, 0x00, 0x04) // RDLENGTH
	answer = append(answer, addr...)    // RDATA

	out := make([]byte, 0, len(header)+len(question)+len(answer))
	out = append(out, header...)
	out = append(out, question...)
	out = append(out, answer...)
	return out
}

// encodeDNSName encodes a dotted-form DNS name into RFC 1035 label
// sequences terminated by a zero-length label.
func encodeDNSName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			if i > start {
				label := name[start:i]
				out = append(out, byte(len(label)))
				out = append(out, label...)
			}
			start = i + 1
		}
	}
	out = append(out, 0x00)
	return out
}

// synthMimicSTUN builds an RFC 5389 Binding Success Response (§4.3): the
// 20 B header (with the magic cookie) plus an XOR-MAPPED-ADDRESS
// attribute, with the message-length field patched after construction.
func synthMimicSTUN(seed [SeedSize]byte, round uint64) []byte {
	const magicCookie = 0x2112A442

	attr := make([]byte, 4+8) // attr header(4) + IPv4 XOR-MAPPED-ADDRESS value(8)
	binary.BigEndian.PutUint16(attr[0:2], 0x0020) // XOR-MAPPED-ADDRESS
	binary.BigEndian.PutUint16(attr[2:4], 8)      // attribute length

	port := uint16(1024 + deriveValue(seed, "stun_port", round)%60000)
	addr := pseudoRandomBytes(seed, "stun_addr", round, 4)

	xport := port ^ uint16(magicCookie>>16)
	var xaddr [4]byte
	var cookieBytes [4]byte
	binary.BigEndian.PutUint32(cookieBytes[:], magicCookie)
	for i := 0; i < 4; i++ {
		xaddr[i] = addr[i] ^ cookieBytes[i]
	}

	attr[4] = 0x00 // reserved
	attr[5] = 0x01 // family: IPv4
	binary.BigEndian.PutUint16(attr[6:8], xport)
	copy(attr[8:12], xaddr[:])

	buf := make([]byte, 20+len(attr))
	binary.BigEndian.PutUint16(buf[0:2], 0x0101) // Binding Success Response
	binary.BigEndian.PutUint32(buf[4:8], magicCookie)
	txid := pseudoRandomBytes(seed, "stun_txid", round, 12)
	copy(buf[8:20], txid)
	copy(buf[20:], attr)

	// Patch message-length after construction: bytes following the 20 B
	// header (§4.3: "message-length field patched after construction").
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(attr)))
	return buf
}

func synthMimicRTP(seed [SeedSize]byte, round uint64, ts uint64) []byte {
	// RTP header: V=2,P=0,X=0,CC=0 | M=0,PT=96 | seq | timestamp | ssrc.
	buf := make([]byte, 12)
	buf[0] = 0x80
	buf[1] = 96
	binary.BigEndian.PutUint16(buf[2:4], uint16(round))
	binary.BigEndian.PutUint32(buf[4:8], uint32(ts))
	ssrc := uint32(deriveValue(seed, "rtp_ssrc", 0))
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
	return buf
}

func synthMimicHTTP(seed [SeedSize]byte, round uint64) []byte {
	// A short HTTP/1.1 keepalive-looking request line plus headers, grounded
	// on original_source's http_handshake_emulator.cpp front-end disguise.
	body := "GET /poll HTTP/1.1\r\nHost: api.example.com\r\nConnection: keep-alive\r\n\r\n"
	return []byte(body)
}
