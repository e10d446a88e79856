package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevelOnUnrecognizedLevel(t *testing.T) {
	New("not-a-level", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewSetsGlobalLevel(t *testing.T) {
	New("warn", "json")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestNewJSONFormatEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "info", "json")
	logger.Info().Str("node_id", "n1").Msg("hello")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "frame-fleet", decoded["service"])
	assert.Equal(t, "n1", decoded["node_id"])
	assert.Equal(t, "hello", decoded["message"])
	assert.NotEmpty(t, decoded["caller"], "New wires .Caller() into every logger")
}

func TestNewPrettyFormatWritesConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "info", "pretty")
	logger.Info().Msg("hello")

	// Pretty output is not JSON; just confirm the console writer produced
	// something containing the message rather than a raw JSON document.
	assert.Contains(t, buf.String(), "hello")
	assert.Error(t, json.Unmarshal(buf.Bytes(), &map[string]interface{}{}))
}

func TestLogErrorIncludesContextFieldsButNoStack(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	LogError(logger, errors.New("broker publish failed"), "failed to dispatch frame", map[string]any{
		"frame": 3,
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "failed to dispatch frame", decoded["message"])
	assert.Equal(t, "broker publish failed", decoded["error"])
	assert.Equal(t, float64(3), decoded["frame"])
	assert.NotContains(t, decoded, "stack_trace")
}

func TestLogErrorWithStackIncludesStackTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	LogErrorWithStack(logger, "boom", "detector panicked")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "detector panicked", decoded["message"])
	assert.Equal(t, "boom", decoded["panic_value"])
	assert.NotEmpty(t, decoded["stack_trace"])
}
