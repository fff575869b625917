package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaults(t *testing.T) {
	l, err := NewLogger("", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "debug", "JSON")
	require.NoError(t, err)

	l.WithField("host", "minion1").Debug("EXEC true")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "minion1", entry["host"])
	assert.Equal(t, "EXEC true", entry["msg"])
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	_, err := NewLogger("loud", "")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	assert.NotNil(t, l)
}
