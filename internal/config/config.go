// Package config implements the daemon's YAML configuration file and the
// PSK/obfuscation-seed raw-file loaders described in §6.
//
// Grounded on postalsys-Muti-Metroo/internal/config: a yaml.v3-backed
// struct with a Default() constructor and a Validate() method that
// collects every error before returning, generalized here from the
// teacher's mesh-agent fields to §3/§4's session, obfuscation, and
// reconnect parameters.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veilnet/veil/internal/handshake"
	"github.com/veilnet/veil/internal/verr"
)

// Config is the complete daemon configuration (§6 CLI surface plus the
// session/obfuscation/reconnect tuning knobs).
type Config struct {
	Mode string `yaml:"mode"` // "client" or "server"

	KeyFile  string `yaml:"key_file"`
	SeedFile string `yaml:"seed_file"`

	Server    string `yaml:"server"`     // client: remote addr:port to dial
	LocalPort int    `yaml:"local_port"` // server: listen port; client: 0 = ephemeral

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Session     SessionConfig     `yaml:"session"`
	Obfuscation ObfuscationConfig `yaml:"obfuscation"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`

	TicketCacheFile string `yaml:"ticket_cache_file"` // client only, optional

	IPCSocket string `yaml:"ipc_socket"`

	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
}

// SessionConfig tunes the C5/C6/C7 parameters that §4.5/§4.6 leave as
// "default N" knobs rather than fixed constants.
type SessionConfig struct {
	MTU                  int           `yaml:"mtu"`
	RetransmitBufferSize int           `yaml:"retransmit_buffer_size"`
	AckInterval          time.Duration `yaml:"ack_interval"`
	RetransmitInterval   time.Duration `yaml:"retransmit_interval"`
	InitialRTO           time.Duration `yaml:"initial_rto"`
	MaxRTO               time.Duration `yaml:"max_rto"`
	MaxRetransmits       int           `yaml:"max_retransmits"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	SkewTolerance        time.Duration `yaml:"skew_tolerance"`
	ConsecutiveFailLimit int           `yaml:"consecutive_fail_limit"`
	RekeyDrainGrace      time.Duration `yaml:"rekey_drain_grace"`
}

// ObfuscationConfig holds the YAML obfuscation settings. internal/tunnel
// copies only the prefix bounds and MaxTimingJitterMs into an obfs.Config
// at startup; the jitter kind, heartbeat fields and entropy normalization
// flag are validated here but not applied, so obfs.DefaultConfig's values
// are used for them.
type ObfuscationConfig struct {
	MinPrefix              int     `yaml:"min_prefix"`
	MaxPrefix              int     `yaml:"max_prefix"`
	MaxTimingJitterMs      int64   `yaml:"max_timing_jitter_ms"`
	JitterKind             string  `yaml:"jitter_kind"` // uniform|poisson|exponential
	HeartbeatMinSec        int64   `yaml:"heartbeat_min_sec"`
	HeartbeatMaxSec        int64   `yaml:"heartbeat_max_sec"`
	HeartbeatTiming        string  `yaml:"heartbeat_timing"` // uniform|exponential|burst
	HeartbeatPayload       string  `yaml:"heartbeat_payload"`
	EntropyNormalization   bool    `yaml:"entropy_normalization"`
}

// ReconnectConfig tunes §4.9's bounded exponential backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 = infinite
}

// PipelineConfig selects and tunes the optional C9 high-throughput mode.
type PipelineConfig struct {
	Enabled     bool `yaml:"enabled"`
	QueueSize   int  `yaml:"queue_size"`   // rounded up to a power of two
	TXBacklog   int  `yaml:"tx_backlog"`   // small bounded backlog before hard drop
}

// Default returns a Config with every default named across §4.
func Default() *Config {
	return &Config{
		Mode:      "client",
		LocalPort: 0,
		LogLevel:  "info",
		LogFormat: "text",
		Session: SessionConfig{
			MTU:                  1400,
			RetransmitBufferSize: 1024,
			AckInterval:          20 * time.Millisecond,
			RetransmitInterval:   100 * time.Millisecond,
			InitialRTO:           200 * time.Millisecond,
			MaxRTO:               2 * time.Second,
			MaxRetransmits:       5,
			IdleTimeout:          300 * time.Second,
			SkewTolerance:        30 * time.Second,
			ConsecutiveFailLimit: 16,
			RekeyDrainGrace:      2 * time.Second,
		},
		Obfuscation: ObfuscationConfig{
			MinPrefix: 4, MaxPrefix: 12,
			MaxTimingJitterMs: 20,
			JitterKind:        "uniform",
			HeartbeatMinSec:   5,
			HeartbeatMaxSec:   30,
			HeartbeatTiming:   "uniform",
			HeartbeatPayload:  "generic-telemetry",
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			MaxAttempts:  0,
		},
		Pipeline: PipelineConfig{
			Enabled:   false,
			QueueSize: 4096,
			TXBacklog: 64,
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Newf(verr.ConfigFatal, "read config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from defaults so
// the file only needs to set the fields it wants to override.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, verr.Newf(verr.ConfigFatal, "parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and clamps soft-invalid fields back
// to their defaults, the way the teacher's gametunnel.Config.Validate
// clamps out-of-range fields rather than rejecting the whole file;
// structurally required fields (mode, server address) are hard errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case "client", "server":
	default:
		errs = append(errs, fmt.Sprintf("mode must be \"client\" or \"server\", got %q", c.Mode))
	}

	if c.Mode == "client" && c.Server == "" {
		errs = append(errs, "server is required in client mode")
	}

	if c.KeyFile == "" {
		errs = append(errs, "key_file is required")
	}
	if c.SeedFile == "" {
		errs = append(errs, "seed_file is required")
	}

	if !isValidLogLevel(c.LogLevel) {
		c.LogLevel = "info"
	}
	if !isValidLogFormat(c.LogFormat) {
		c.LogFormat = "text"
	}

	if c.Session.MTU < 576 || c.Session.MTU > 1500 {
		c.Session.MTU = 1400
	}
	if c.Session.RetransmitBufferSize <= 0 {
		c.Session.RetransmitBufferSize = 1024
	}
	if c.Session.MaxRetransmits <= 0 {
		c.Session.MaxRetransmits = 5
	}
	if c.Session.ConsecutiveFailLimit <= 0 {
		c.Session.ConsecutiveFailLimit = 16
	}

	switch c.Obfuscation.JitterKind {
	case "uniform", "poisson", "exponential":
	default:
		errs = append(errs, fmt.Sprintf("obfuscation.jitter_kind invalid: %q", c.Obfuscation.JitterKind))
	}
	switch c.Obfuscation.HeartbeatTiming {
	case "uniform", "exponential", "burst":
	default:
		errs = append(errs, fmt.Sprintf("obfuscation.heartbeat_timing invalid: %q", c.Obfuscation.HeartbeatTiming))
	}
	switch c.Obfuscation.HeartbeatPayload {
	case "empty", "timestamp", "iot-sensor", "generic-telemetry", "random-size",
		"mimic-dns", "mimic-stun", "mimic-rtp", "http-mimic":
	default:
		errs = append(errs, fmt.Sprintf("obfuscation.heartbeat_payload invalid: %q", c.Obfuscation.HeartbeatPayload))
	}
	if c.Obfuscation.MaxPrefix <= c.Obfuscation.MinPrefix {
		c.Obfuscation.MinPrefix, c.Obfuscation.MaxPrefix = 4, 12
	}

	if c.Reconnect.Multiplier <= 1.0 {
		c.Reconnect.Multiplier = 2.0
	}
	if c.Reconnect.MaxAttempts < 0 {
		c.Reconnect.MaxAttempts = 0
	}

	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 4096
	}
	c.Pipeline.QueueSize = nextPowerOfTwo(c.Pipeline.QueueSize)
	if c.Pipeline.TXBacklog < 0 {
		c.Pipeline.TXBacklog = 64
	}

	if len(errs) > 0 {
		return verr.Newf(verr.ConfigFatal, "config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(f string) bool {
	switch f {
	case "text", "json":
		return true
	}
	return false
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// LoadPSK reads and validates the PSK file referenced by KeyFile (§6).
func (c *Config) LoadPSK(logger *slog.Logger) ([handshake.PSKSize]byte, error) {
	raw, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return [handshake.PSKSize]byte{}, verr.Actionable(
			"read key file %q: %v; run: head -c 32 /dev/urandom > %s", c.KeyFile, err, c.KeyFile)
	}
	psk, err := handshake.LoadPSK(raw, logger)
	if err != nil {
		return psk, verr.New(verr.ConfigFatal, err)
	}
	return psk, nil
}

// LoadSeed reads and validates the obfuscation seed file (§6).
func (c *Config) LoadSeed() ([32]byte, error) {
	raw, err := os.ReadFile(c.SeedFile)
	if err != nil {
		return [32]byte{}, verr.Actionable(
			"read seed file %q: %v; run: head -c 32 /dev/urandom > %s", c.SeedFile, err, c.SeedFile)
	}
	seed, err := handshake.LoadObfuscationSeed(raw, nil)
	if err != nil {
		return seed, verr.New(verr.ConfigFatal, err)
	}
	return seed, nil
}
