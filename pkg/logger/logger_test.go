package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	lvl := SetupWriter(&buf, "warn", false)
	log.Info().Msg("скрыто")
	log.Warn().Str("component", "Test").Msg("видно")

	assert.Equal(t, zerolog.WarnLevel, lvl)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "видно", entry["message"])
	assert.Equal(t, "Test", entry["component"])
}

func TestSetupWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	assert.Equal(t, zerolog.InfoLevel, SetupWriter(&buf, "loud", false))
	assert.Equal(t, zerolog.InfoLevel, SetupWriter(&buf, "", true))
}
