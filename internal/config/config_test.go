package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STREAM_API_URL", "https://api.example.test")
	t.Setenv("STREAM_API_TOKEN", "secret")
	t.Setenv("STREAM_CONTENT_SLUG", "film-42")
	t.Setenv("STREAM_REQUEST_TIMEOUT", "3s")
	t.Setenv("STREAM_RECONNECT_MAX_ATTEMPTS", "7")
	t.Setenv("STREAM_RECONNECT_MULTIPLIER", "1.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.APIURL)
	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, "film-42", cfg.ContentSlug)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 7, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Reconnect.Multiplier)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("STREAM_API_URL", "https://api.example.test")
	t.Setenv("STREAM_API_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_API_TOKEN")
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("STREAM_API_URL", "https://api.example.test")
	t.Setenv("STREAM_API_TOKEN", "secret")
	t.Setenv("STREAM_AUTH_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soon")
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	data := []byte(`
channelUrl: wss://channel.example.test/ws
apiToken: from-file
contentSlug: film-1
reconnect:
  initialInterval: 500ms
  multiplier: 2
  maxInterval: 4s
  maxAttempts: 3
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("STREAM_CONFIG_FILE", path)
	t.Setenv("STREAM_API_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://channel.example.test/ws", cfg.ChannelURL)
	assert.Equal(t, "from-env", cfg.APIToken)
	assert.Equal(t, "film-1", cfg.ContentSlug)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialInterval)
	assert.Equal(t, 4*time.Second, cfg.Reconnect.MaxInterval)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
}

func TestValidate_Reconnect(t *testing.T) {
	cfg := Defaults()
	cfg.APIToken = "x"
	cfg.ChannelURL = "ws://localhost"
	require.NoError(t, cfg.Validate())

	cfg.Reconnect.Multiplier = 0.5
	cfg.Reconnect.MaxAttempts = 0
	cfg.Reconnect.MaxInterval = time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiplier")
	assert.Contains(t, err.Error(), "max attempts")
	assert.Contains(t, err.Error(), "max interval")
}

func TestLoad_EnvLeavesUnsetKeysAlone(t *testing.T) {
	t.Setenv("STREAM_API_URL", "https://api.example.test")
	t.Setenv("STREAM_API_TOKEN", "secret")
	t.Setenv("STREAM_RECONNECT_MAX_INTERVAL", "1m")
	t.Setenv("STREAM_PING_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	def := Defaults()
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxInterval)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, def.Reconnect.InitialInterval, cfg.Reconnect.InitialInterval)
	assert.Equal(t, def.Reconnect.MaxAttempts, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, def.RequestTimeout, cfg.RequestTimeout)
}
