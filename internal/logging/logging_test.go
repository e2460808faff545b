package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "WARN")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Str("component", "test").Msg("shown")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "test", line["component"])
	assert.Contains(t, line, "time")
}

func TestNewLogger_UnknownLevelIsInfo(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "verbose").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(&bytes.Buffer{}, "").GetLevel())
}
