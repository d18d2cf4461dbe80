package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/config"
)

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := FromConfig(&buf, config.Config{LogLevel: "warn", LogFormat: "json", InstanceID: "api-1", Env: "test"}, "api")
	require.NoError(t, err)

	logger.Info("skipped")
	logger.Warn("cascade retried", "job_ref", "JC-1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "cascade retried", entry["msg"])
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "api-1", entry["instance"])
	assert.Equal(t, "JC-1", entry["job_ref"])
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)

	var buf bytes.Buffer
	logger, err := New(&buf, "", "text")
	require.NoError(t, err)
	logger.Debug("hidden")
	assert.Empty(t, buf.String())
}
