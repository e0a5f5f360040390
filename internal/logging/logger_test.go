package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONIncludesComponentAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	component := WithComponent(logger, "assets")
	component.Info().Msg("hidden")
	component.Warn().Str("asset", "model").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "assets", entry["component"])
	assert.Equal(t, "model", entry["asset"])
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestProgressSamplerBucketsAndSubjects(t *testing.T) {
	s := NewProgressSampler(10)

	assert.True(t, s.ShouldLog(0, "model"))
	assert.False(t, s.ShouldLog(5, "model"))
	assert.True(t, s.ShouldLog(12, "model"))
	assert.False(t, s.ShouldLog(19, "model"))
	assert.True(t, s.ShouldLog(100, "model"))

	assert.True(t, s.ShouldLog(-1, "labels"), "subject change always logs")
	assert.False(t, s.ShouldLog(-1, "labels"), "unknown totals do not log repeatedly")

	s.Reset()
	assert.True(t, s.ShouldLog(50, "labels"))
}
