// Package obfs implements the per-session obfuscation profile: padding
// size, prefix length, timing jitter, and heartbeat shaping, all derived
// deterministically from (seed, sequence, context tag) so that both
// endpoints compute the same expected shape without extra wire data
// (§3 ObfuscationProfile, §4.3).
//
// Grounded on the teacher's transport/internet/gametunnel/obfs.go
// (QUIC/WebRTC mimicry wrapping, packet-size distribution tables) and
// packet.go (random padding generation) — this package keeps the same
// "derive a per-packet shape from a keyed pseudo-random function" idea but
// replaces the ad hoc math/rand draws with the spec's HMAC-SHA256-keyed
// derivation so the shape is reproducible from (seed, sequence) alone.
package obfs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// SeedSize is the size of the per-session obfuscation seed (§3).
const SeedSize = 32

// Context tags, ASCII with no trailing NUL, per §4.3.
const (
	TagPadding    = "padding"
	TagPrefix     = "prefix"
	TagJitter     = "jitter"
	TagHeartbeat  = "heartbeat"
	TagHBExp      = "hb_exp"
	TagHBGap      = "hb_gap"
	TagHBBurstSz  = "hb_burst_sz"
	TagHBSilence  = "hb_silence"
	TagPadClass   = "padclass"
	TagAdvPad     = "advpad"
	TagPadJitter  = "padjit"
	TagAdvJitter  = "advjit"
	TagEntropy    = "entropy"
)

// JitterKind selects the timing-jitter distribution shape (§3).
type JitterKind uint8

const (
	JitterUniform JitterKind = iota
	JitterPoisson
	JitterExponential
)

// HeartbeatTimingKind selects the heartbeat interval distribution (§3, §4.3).
type HeartbeatTimingKind uint8

const (
	HeartbeatUniform HeartbeatTimingKind = iota
	HeartbeatExponential
	HeartbeatBurst
)

// HeartbeatPayloadKind selects the synthesized heartbeat payload shape
// (§3, §4.3). http-mimic is a supplemental kind grounded on
// original_source/src/common/protocol_wrapper/http_handshake_emulator.cpp.
type HeartbeatPayloadKind uint8

const (
	PayloadEmpty HeartbeatPayloadKind = iota
	PayloadTimestamp
	PayloadIoTSensor
	PayloadGenericTelemetry
	PayloadRandomSize
	PayloadMimicDNS
	PayloadMimicSTUN
	PayloadMimicRTP
	PayloadMimicHTTP
)

// SizeClass bounds for the three padding size tiers (§3).
type SizeClass struct {
	Min, Max int
}

// PaddingWeights is the weighted roll across small/medium/large padding
// classes.
type PaddingWeights struct {
	SmallWeight, MediumWeight, LargeWeight int
	Small, Medium, Large                   SizeClass
	// JitterBound is an optional additional +/- jitter applied to the
	// chosen size, clamped back into the class bounds.
	JitterBound int
}

// Config is the static, non-seed part of an ObfuscationProfile (§3).
type Config struct {
	Padding PaddingWeights

	MinPrefix, MaxPrefix int // defaults 4..12

	MaxTimingJitterNanos int64
	JitterKind           JitterKind

	HeartbeatMinNanos, HeartbeatMaxNanos int64
	HeartbeatTiming                      HeartbeatTimingKind
	HeartbeatMeanNanos                   int64 // for exponential
	HeartbeatMaxGapNanos                 int64
	HeartbeatPLongGap                    float64 // default 0.1
	HeartbeatBurstIntervalNanos          int64   // default 200ms
	HeartbeatSilenceMinNanos             int64
	HeartbeatSilenceMaxNanos             int64
	HeartbeatBurstMin, HeartbeatBurstMax int

	HeartbeatPayload HeartbeatPayloadKind

	EntropyNormalization bool
}

// DefaultConfig returns sane defaults matching §4.3's stated defaults.
func DefaultConfig() Config {
	return Config{
		Padding: PaddingWeights{
			SmallWeight: 40, MediumWeight: 35, LargeWeight: 25,
			Small:  SizeClass{Min: 0, Max: 64},
			Medium: SizeClass{Min: 64, Max: 256},
			Large:  SizeClass{Min: 256, Max: 800},
		},
		MinPrefix: 4, MaxPrefix: 12,
		MaxTimingJitterNanos: int64(20_000_000), // 20ms
		JitterKind:           JitterUniform,
		HeartbeatMinNanos:    int64(5 * 1_000_000_000),
		HeartbeatMaxNanos:    int64(30 * 1_000_000_000),
		HeartbeatTiming:      HeartbeatUniform,
		HeartbeatMeanNanos:   int64(15 * 1_000_000_000),
		HeartbeatMaxGapNanos: int64(60 * 1_000_000_000),
		HeartbeatPLongGap:    0.1,
		HeartbeatBurstIntervalNanos: int64(200 * 1_000_000),
		HeartbeatSilenceMinNanos:    int64(2 * 1_000_000_000),
		HeartbeatSilenceMaxNanos:    int64(8 * 1_000_000_000),
		HeartbeatBurstMin:           2,
		HeartbeatBurstMax:           6,
		HeartbeatPayload:            PayloadGenericTelemetry,
	}
}

// Profile is a fully configured, seeded obfuscation profile for one
// session direction or peer.
type Profile struct {
	Seed   [SeedSize]byte
	Config Config
}

// NewProfile builds a Profile from a 32-byte seed and config.
func NewProfile(seed [SeedSize]byte, cfg Config) *Profile {
	return &Profile{Seed: seed, Config: cfg}
}

// deriveValue computes HMAC-SHA256(seed, tag || sequence_be) and returns the
// high 8 bytes as a uint64, per §4.3.
func deriveValue(seed [SeedSize]byte, tag string, sequence uint64) uint64 {
	mac := hmac.New(sha256.New, seed[:])
	mac.Write([]byte(tag))
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], sequence)
	mac.Write(seqBytes[:])
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// deriveFloat01 normalizes a derived value to [0, 1).
func deriveFloat01(seed [SeedSize]byte, tag string, sequence uint64) float64 {
	v := deriveValue(seed, tag, sequence)
	return float64(v) / float64(math.MaxUint64) * 0.9999999999 // keep strictly < 1
}

// PrefixLen returns the deterministic random-prefix length in
// [MinPrefix, MaxPrefix] for the given sequence (§4.3).
func (p *Profile) PrefixLen(sequence uint64) int {
	lo, hi := p.Config.MinPrefix, p.Config.MaxPrefix
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo + 1)
	v := deriveValue(p.Seed, TagPrefix, sequence)
	return lo + int(v%span)
}

// PaddingLen returns the deterministic padding length for the given
// sequence: a weighted roll across size classes, uniform within the
// chosen class, with an optional clamped jitter (§4.3).
func (p *Profile) PaddingLen(sequence uint64) int {
	w := p.Config.Padding
	total := w.SmallWeight + w.MediumWeight + w.LargeWeight
	if total <= 0 {
		return 0
	}
	roll := int(deriveValue(p.Seed, TagPadClass, sequence) % uint64(total))

	var class SizeClass
	switch {
	case roll < w.SmallWeight:
		class = w.Small
	case roll < w.SmallWeight+w.MediumWeight:
		class = w.Medium
	default:
		class = w.Large
	}

	size := uniformInRange(p.Seed, TagPadding, sequence, class.Min, class.Max)

	if w.JitterBound > 0 {
		jitterRoll := int(deriveValue(p.Seed, TagAdvPad, sequence) % uint64(2*w.JitterBound+1))
		delta := jitterRoll - w.JitterBound
		size += delta
		if size < class.Min {
			size = class.Min
		}
		if size > class.Max {
			size = class.Max
		}
	}
	if size < 0 {
		size = 0
	}
	return size
}

func uniformInRange(seed [SeedSize]byte, tag string, sequence uint64, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	span := uint64(hi - lo)
	v := deriveValue(seed, tag, sequence)
	return lo + int(v%span)
}

// TimingJitter returns the deterministic inter-packet timing jitter in
// nanoseconds, capped at MaxTimingJitterNanos (§4.3).
func (p *Profile) TimingJitter(sequence uint64) int64 {
	u := deriveFloat01(p.Seed, TagJitter, sequence)
	max := float64(p.Config.MaxTimingJitterNanos)

	var jitter float64
	switch p.Config.JitterKind {
	case JitterUniform:
		jitter = u * max
	case JitterPoisson:
		jitter = -math.Log(1-u) * max / 2
	case JitterExponential:
		jitter = -math.Log(1-u) * max / 3
	}
	if jitter > max {
		jitter = max
	}
	if jitter < 0 {
		jitter = 0
	}
	return int64(jitter)
}

// ApplyEntropyNormalization perturbs up to ~10% of bytes in buf at
// HMAC-derived indices, XORing with HMAC-derived bytes, to smooth
// byte-frequency histograms on compressible padding (§4.3).
func ApplyEntropyNormalization(buf []byte, seed [SeedSize]byte, sequence uint64) {
	if len(buf) == 0 {
		return
	}
	n := len(buf) / 10
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		idxTag := TagEntropy + ":idx"
		byteTag := TagEntropy + ":byte"
		idx := int(deriveValue(seed, idxTag, sequence+uint64(i)) % uint64(len(buf)))
		mask := byte(deriveValue(seed, byteTag, sequence+uint64(i)))
		buf[idx] ^= mask
	}
}
