package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("defaults to info text", func(t *testing.T) {
		log, err := New(Options{})
		require.NoError(t, err)
		assert.Equal(t, logrus.InfoLevel, log.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
	})

	t.Run("json formatter writes fields", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Options{Level: "debug", Format: "json", Output: &buf})
		require.NoError(t, err)

		log.WithField("partition", "de").Debug("[GATE] fetch")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "de", entry["partition"])
		assert.Equal(t, "[GATE] fetch", entry["msg"])
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New(Options{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := New(Options{Format: "xml"})
		assert.Error(t, err)
	})
}
