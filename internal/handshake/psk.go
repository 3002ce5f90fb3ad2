// Package handshake implements the PSK-authenticated ECDH handshake,
// session-ticket resumption, and the handshake state machine (§4.4).
//
// Grounded on the teacher's transport/internet/gametunnel/dialer.go and
// hub.go for the "dial once, exchange a single framed control message,
// then hand a derived session off to the data plane" shape, generalized
// from xray-core's transport-dial handshake to this spec's PSK+ECDH
// protocol.
package handshake

import (
	"fmt"
	"log/slog"
)

// PSKSize is the required effective PSK length (§4.4, §6).
const PSKSize = 32

// LoadPSK validates and extracts a 32-byte PSK from raw file bytes per
// §4.4/§6: >=32 required; exactly 32 used verbatim; >32 truncated to the
// first 32 with a logged CRLF/editor-contamination warning; <32 is fatal.
func LoadPSK(raw []byte, logger *slog.Logger) ([PSKSize]byte, error) {
	return loadFixedSecret(raw, logger, "PSK")
}

// LoadObfuscationSeed validates and extracts the 32-byte obfuscation seed
// using the identical file contract as the PSK (§6).
func LoadObfuscationSeed(raw []byte, logger *slog.Logger) ([PSKSize]byte, error) {
	return loadFixedSecret(raw, logger, "obfuscation seed")
}

func loadFixedSecret(raw []byte, logger *slog.Logger, label string) ([PSKSize]byte, error) {
	var out [PSKSize]byte
	if len(raw) < PSKSize {
		return out, fmt.Errorf("%s file too short: need at least %d bytes, got %d; "+
			"regenerate it with a proper 32-byte random secret (e.g. `head -c 32 /dev/urandom > file`)",
			label, PSKSize, len(raw))
	}
	if len(raw) > PSKSize {
		if logger != nil {
			logger.Warn("secret file longer than expected, truncating to first 32 bytes; "+
				"this usually means a text editor added a trailing newline or CRLF",
				"label", label, "file_len", len(raw))
		}
	}
	copy(out[:], raw[:PSKSize])
	return out, nil
}
