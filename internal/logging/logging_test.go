package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, InfoLevel, ParseLevel("loud"))
}

func TestSessionLoggerTagsSessionID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	log := Session("s1")
	log.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "s1", line["session_id"])
	assert.Equal(t, "hello", line["message"])
}

func TestSessionLoggerChainsDirectly(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Session("s2").Error().Int("rounds", 3).Msg("tripped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "s2", line["session_id"])
	assert.Equal(t, "error", line["level"])
	assert.EqualValues(t, 3, line["rounds"])
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("quiet")
	assert.Zero(t, buf.Len())
	Warn().Msg("loud")
	assert.NotZero(t, buf.Len())
}
