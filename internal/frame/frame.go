// Package frame implements the four wire frame kinds carried inside the
// AEAD-encrypted payload of a session datagram: Data, Ack, Control, and
// Heartbeat (§3 WireFrame, §4.2).
//
// Grounded on the teacher's transport/internet/gametunnel/packet.go, which
// encodes/decodes a single fixed packet shape field-by-field in big-endian
// using encoding/binary; this package keeps that approach but generalizes
// it to a tagged union of four frame kinds instead of one QUIC-mimicking
// shape, and adds the owning/view decode split required by §4.2.
package frame

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies which of the four frame shapes a datagram's decrypted
// payload carries. It is the first byte on the wire.
type Kind uint8

const (
	KindData Kind = iota
	KindAck
	KindControl
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindControl:
		return "control"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Control frame type bytes (§4.9 and §4.5 rekey).
const (
	ControlClose              uint8 = 0x00
	ControlPing               uint8 = 0x01
	ControlPong               uint8 = 0x02
	ControlRekey              uint8 = 0x03
	ControlRekeyAck           uint8 = 0x04
	ControlHandshakeResponse  uint8 = 0x05
)

// MaxPayload is the largest per-frame payload allowed on the wire (§3).
const MaxPayload = 65535

// Frame is the decoded, owning representation of any of the four kinds.
// Exactly one of the kind-specific fields is meaningful, selected by Kind.
type Frame struct {
	Kind Kind

	// Data
	StreamID uint64
	Sequence uint64
	Fin      bool
	Payload  []byte

	// Ack
	AckHead   uint64
	AckBitmap uint32

	// Control
	ControlType uint8

	// Heartbeat
	Timestamp uint64
}

// View is a zero-copy decode result: Payload aliases the caller's buffer.
// The caller must keep that buffer alive for the lifetime of the View.
type View struct {
	Kind Kind

	StreamID uint64
	Sequence uint64
	Fin      bool
	Payload  []byte

	AckHead   uint64
	AckBitmap uint32

	ControlType uint8

	Timestamp uint64
}

const (
	dataHeaderSize      = 1 + 8 + 8 + 1 + 2 // kind, stream_id, sequence, fin, payload_len
	ackFrameSize        = 1 + 8 + 8 + 4     // kind, stream_id, ack, bitmap
	controlHeaderSize   = 1 + 1 + 2         // kind, type, payload_len
	heartbeatHeaderSize = 1 + 8 + 8 + 2     // kind, timestamp, sequence, payload_len
)

// Encode serializes f to a freshly allocated byte slice.
func Encode(f Frame) ([]byte, error) {
	buf := make([]byte, encodedSize(f))
	n, err := EncodeTo(f, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func encodedSize(f Frame) int {
	switch f.Kind {
	case KindData:
		return dataHeaderSize + len(f.Payload)
	case KindAck:
		return 21
	case KindControl:
		return controlHeaderSize + len(f.Payload)
	case KindHeartbeat:
		return heartbeatHeaderSize + len(f.Payload)
	default:
		return 0
	}
}

// EncodeTo writes f into out, field by field in declaration order using
// big-endian integers, per §4.2. It returns 0 if out is too small.
func EncodeTo(f Frame, out []byte) (int, error) {
	need := encodedSize(f)
	if need == 0 {
		return 0, fmt.Errorf("frame: unknown kind %d", f.Kind)
	}
	if len(out) < need {
		return 0, nil
	}
	if len(f.Payload) > MaxPayload {
		return 0, fmt.Errorf("frame: payload %d exceeds max %d", len(f.Payload), MaxPayload)
	}

	switch f.Kind {
	case KindData:
		out[0] = byte(KindData)
		binary.BigEndian.PutUint64(out[1:9], f.StreamID)
		binary.BigEndian.PutUint64(out[9:17], f.Sequence)
		if f.Fin {
			out[17] = 1
		} else {
			out[17] = 0
		}
		binary.BigEndian.PutUint16(out[18:20], uint16(len(f.Payload)))
		copy(out[20:], f.Payload)
		return 20 + len(f.Payload), nil

	case KindAck:
		out[0] = byte(KindAck)
		binary.BigEndian.PutUint64(out[1:9], f.StreamID)
		binary.BigEndian.PutUint64(out[9:17], f.AckHead)
		binary.BigEndian.PutUint32(out[17:21], f.AckBitmap)
		return 21, nil

	case KindControl:
		out[0] = byte(KindControl)
		out[1] = f.ControlType
		binary.BigEndian.PutUint16(out[2:4], uint16(len(f.Payload)))
		copy(out[4:], f.Payload)
		return 4 + len(f.Payload), nil

	case KindHeartbeat:
		out[0] = byte(KindHeartbeat)
		binary.BigEndian.PutUint64(out[1:9], f.Timestamp)
		binary.BigEndian.PutUint64(out[9:17], f.Sequence)
		binary.BigEndian.PutUint16(out[17:19], uint16(len(f.Payload)))
		copy(out[19:], f.Payload)
		return 19 + len(f.Payload), nil
	}
	return 0, fmt.Errorf("frame: unknown kind %d", f.Kind)
}

// Decode parses buf into an owning Frame. A decode failure returns a
// non-nil error and the frame is never partially consumed — on mismatch
// (truncated header, payload-length/remaining-length mismatch, unknown
// kind byte) nothing is returned.
func Decode(buf []byte) (Frame, error) {
	v, err := DecodeView(buf)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, len(v.Payload))
	copy(payload, v.Payload)
	return Frame{
		Kind:        v.Kind,
		StreamID:    v.StreamID,
		Sequence:    v.Sequence,
		Fin:         v.Fin,
		Payload:     payload,
		AckHead:     v.AckHead,
		AckBitmap:   v.AckBitmap,
		ControlType: v.ControlType,
		Timestamp:   v.Timestamp,
	}, nil
}

// DecodeView parses buf into a View whose Payload aliases buf. The caller
// must keep buf alive for as long as the View is used.
func DecodeView(buf []byte) (View, error) {
	if len(buf) < 1 {
		return View{}, fmt.Errorf("frame: empty buffer")
	}
	kind := Kind(buf[0])

	switch kind {
	case KindData:
		if len(buf) < dataHeaderSize {
			return View{}, fmt.Errorf("frame: data header truncated: got %d bytes, need %d", len(buf), dataHeaderSize)
		}
		streamID := binary.BigEndian.Uint64(buf[1:9])
		seq := binary.BigEndian.Uint64(buf[9:17])
		fin := buf[17] != 0
		payloadLen := int(binary.BigEndian.Uint16(buf[18:20]))
		if len(buf)-dataHeaderSize != payloadLen {
			return View{}, fmt.Errorf("frame: data payload length mismatch: declared %d, remaining %d", payloadLen, len(buf)-dataHeaderSize)
		}
		return View{
			Kind: KindData, StreamID: streamID, Sequence: seq, Fin: fin,
			Payload: buf[dataHeaderSize:],
		}, nil

	case KindAck:
		if len(buf) != 21 {
			return View{}, fmt.Errorf("frame: ack frame must be exactly 21 bytes, got %d", len(buf))
		}
		streamID := binary.BigEndian.Uint64(buf[1:9])
		head := binary.BigEndian.Uint64(buf[9:17])
		bitmap := binary.BigEndian.Uint32(buf[17:21])
		return View{Kind: KindAck, StreamID: streamID, AckHead: head, AckBitmap: bitmap}, nil

	case KindControl:
		if len(buf) < controlHeaderSize {
			return View{}, fmt.Errorf("frame: control header truncated: got %d bytes, need %d", len(buf), controlHeaderSize)
		}
		ctype := buf[1]
		payloadLen := int(binary.BigEndian.Uint16(buf[2:4]))
		if len(buf)-controlHeaderSize != payloadLen {
			return View{}, fmt.Errorf("frame: control payload length mismatch: declared %d, remaining %d", payloadLen, len(buf)-controlHeaderSize)
		}
		return View{Kind: KindControl, ControlType: ctype, Payload: buf[controlHeaderSize:]}, nil

	case KindHeartbeat:
		if len(buf) < heartbeatHeaderSize {
			return View{}, fmt.Errorf("frame: heartbeat header truncated: got %d bytes, need %d", len(buf), heartbeatHeaderSize)
		}
		ts := binary.BigEndian.Uint64(buf[1:9])
		seq := binary.BigEndian.Uint64(buf[9:17])
		payloadLen := int(binary.BigEndian.Uint16(buf[17:19]))
		if len(buf)-heartbeatHeaderSize != payloadLen {
			return View{}, fmt.Errorf("frame: heartbeat payload length mismatch: declared %d, remaining %d", payloadLen, len(buf)-heartbeatHeaderSize)
		}
		return View{Kind: KindHeartbeat, Timestamp: ts, Sequence: seq, Payload: buf[heartbeatHeaderSize:]}, nil
	}

	return View{}, fmt.Errorf("frame: unknown kind byte 0x%02x", buf[0])
}
