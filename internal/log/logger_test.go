package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent_AttachesComponentAndService(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})

	l := WithComponent("session")
	l.Info().Str(FieldContentSlug, "film-42").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry[FieldComponent])
	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "film-42", entry[FieldContentSlug])
	assert.Equal(t, "hello", entry["message"])
}
