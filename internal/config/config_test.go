package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnet/veil/internal/verr"
)

func TestDefaultIsValidModuloRequiredFields(t *testing.T) {
	cfg := Default()
	cfg.KeyFile = "/tmp/key"
	cfg.SeedFile = "/tmp/seed"
	cfg.Server = "example.com:1234"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvalidMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "bogus"
	cfg.KeyFile = "k"
	cfg.SeedFile = "s"
	err := cfg.Validate()
	require.Error(t, err)
	kind, ok := verr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, verr.ConfigFatal, kind)
}

func TestValidateRequiresServerInClientMode(t *testing.T) {
	cfg := Default()
	cfg.Mode = "client"
	cfg.KeyFile = "k"
	cfg.SeedFile = "s"
	cfg.Server = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
}

func TestValidateClampsOutOfRangeMTU(t *testing.T) {
	cfg := Default()
	cfg.KeyFile, cfg.SeedFile, cfg.Server = "k", "s", "x:1"
	cfg.Session.MTU = 9000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1400, cfg.Session.MTU)
}

func TestValidateRejectsInvalidJitterKind(t *testing.T) {
	cfg := Default()
	cfg.KeyFile, cfg.SeedFile, cfg.Server = "k", "s", "x:1"
	cfg.Obfuscation.JitterKind = "gaussian"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jitter_kind")
}

func TestValidateRoundsQueueSizeToPowerOfTwo(t *testing.T) {
	cfg := Default()
	cfg.KeyFile, cfg.SeedFile, cfg.Server = "k", "s", "x:1"
	cfg.Pipeline.QueueSize = 100
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 128, cfg.Pipeline.QueueSize)
}

func TestParseOverridesDefaults(t *testing.T) {
	yaml := []byte(`
mode: server
key_file: /etc/veil/psk
seed_file: /etc/veil/seed
local_port: 51820
session:
  mtu: 1300
`)
	cfg, err := Parse(yaml)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 1300, cfg.Session.MTU)
	assert.Equal(t, 20*time.Millisecond, cfg.Session.AckInterval) // unchanged default survives
}

func TestLoadPSKRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psk")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0600))

	cfg := Default()
	cfg.KeyFile = path
	_, err := cfg.LoadPSK(nil)
	require.Error(t, err)
	kind, ok := verr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, verr.ConfigFatal, kind)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadPSKAcceptsExact32Bytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "psk")
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg := Default()
	cfg.KeyFile = path
	psk, err := cfg.LoadPSK(nil)
	require.NoError(t, err)
	assert.Equal(t, data, psk[:])
}
