package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	requireT := require.New(t)

	buf := &bytes.Buffer{}
	log, err := New(Config{Level: "debug", Format: FormatJSON}, buf)
	requireT.NoError(err)

	log.Debug("Record sealed", "id", "o0000000000000001")

	var entry map[string]any
	requireT.NoError(json.Unmarshal(buf.Bytes(), &entry))
	requireT.Equal("Record sealed", entry["msg"])
	requireT.Equal("DEBUG", entry["level"])
	requireT.Equal("o0000000000000001", entry["id"])
}

func TestLevelFilters(t *testing.T) {
	requireT := require.New(t)

	buf := &bytes.Buffer{}
	log, err := New(Config{Level: "warn", Format: FormatText}, buf)
	requireT.NoError(err)

	log.Info("hidden")
	requireT.Zero(buf.Len())

	log.Warn("shown")
	requireT.True(strings.Contains(buf.String(), "msg=shown"))
}

func TestAutoFormatOnBuffer(t *testing.T) {
	requireT := require.New(t)

	buf := &bytes.Buffer{}
	log, err := New(DefaultConfig(), buf)
	requireT.NoError(err)

	log.Info("auto")
	requireT.True(json.Valid(buf.Bytes()))
}

func TestInvalidConfig(t *testing.T) {
	requireT := require.New(t)

	requireT.Error(Config{Level: "loud"}.Validate())
	requireT.Error(Config{Format: "xml"}.Validate())
	requireT.NoError(DefaultConfig().Validate())

	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	requireT.Error(err)
}

func TestParseLevel(t *testing.T) {
	requireT := require.New(t)

	level, err := ParseLevel("WARNING")
	requireT.NoError(err)
	requireT.Equal(slog.LevelWarn, level)
}

func TestDiscard(t *testing.T) {
	requireT := require.New(t)

	log := Discard()
	requireT.False(log.Enabled(t.Context(), slog.LevelError))
}
