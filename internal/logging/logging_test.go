package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", "json", &buf)
	log.Debug("hello", KeySessionID, "abc123")
	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, "abc123")
}

func TestNewLoggerWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("info", "text", &buf)
	log.Info("connected", KeyPeerAddr, "1.2.3.4:51820")
	out := buf.String()
	assert.True(t, strings.Contains(out, "msg=connected"))
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("warn", "text", &buf)
	log.Info("should not appear")
	assert.Empty(t, buf.String())
	log.Warn("should appear")
	assert.NotEmpty(t, buf.String())
}

func TestNopLoggerDiscardsOutput(t *testing.T) {
	log := NopLogger()
	log.Error("this goes nowhere")
}
