package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	require.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	require.Equal(t, "***@example.com", RedactEmail("jd@example.com"))
	require.Equal(t, "***@***", RedactEmail("nobody"))
}

func TestRedactHook(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(Options{Level: "debug", RedactPII: true}, &buf)

	log.WithField("recipient", "alice@example.com").
		WithError(errors.New("550 bob@example.org unknown")).
		Info("sent to carol@example.net")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "al***@example.com", line["recipient"])
	require.Equal(t, "550 bo***@example.org unknown", line["error"])
	require.Equal(t, "sent to ca***@example.net", line["msg"])
	require.NotContains(t, buf.String(), "alice@")
}

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(Options{Level: "nonsense", Format: "text"}, &buf)
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	log.WithField("recipient", "alice@example.com").Info("plain")
	require.Contains(t, buf.String(), "alice@example.com")
}
