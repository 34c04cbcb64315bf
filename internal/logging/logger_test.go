package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAutoFormatUsesJSONForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Writer: &buf})
	require.NoError(t, err)

	NewComponentLogger(logger, "pipeline").Info("job done", String(FieldJobID, "abc"), Bytes("size", 2048))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "job done", record["msg"])
	assert.Equal(t, "pipeline", record[FieldComponent])
	assert.Equal(t, "abc", record[FieldJobID])
	assert.Equal(t, "2.0 kB", record["size"])
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "console", Writer: &buf})
	require.NoError(t, err)
	logger.Debug("probe", Bool("gpu", false))
	assert.Contains(t, buf.String(), "gpu=false")
}

func TestNewRejectsUnknownValues(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)

	_, err = New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewComponentLogger(nil, "x")
	logger.Error("ignored", Error(nil))
}

func TestIsTerminalRejectsNonFiles(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
	assert.False(t, IsTerminal(nil))
}
