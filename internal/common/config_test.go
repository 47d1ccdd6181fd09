package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFilesDefaultsOnly(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "scrape", config.Queue.QueueName)
	assert.Equal(t, "4m", config.Worker.JobTimeout)
	assert.True(t, config.Scraper.Headless)
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 9090
public_base_url = "https://bridge.example.com"

[queue]
concurrency = 4

[janitor]
enabled = false
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "https://bridge.example.com", config.Server.PublicBaseURL)
	assert.Equal(t, 4, config.Queue.Concurrency)
	assert.False(t, config.Janitor.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, "5m", config.Queue.VisibilityTimeout)
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/credbridge.toml")
	assert.Error(t, err)
}

func TestLoadFromFilesRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
[worker]
job_timeout = "four minutes"
`)

	_, err := LoadFromFiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.job_timeout")
}

func TestSecretsComeFromEnvironmentOnly(t *testing.T) {
	// A key smuggled into the file must not survive the load.
	path := writeConfigFile(t, `
[worker]
callback_url = "http://intake:8080"
encryption_key = "from-file-and-ignored"
`)
	t.Setenv("CREDBRIDGE_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	t.Setenv("CREDBRIDGE_CALLBACK_KEY", "topsecret")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", config.Worker.EncryptionKey)
	assert.Equal(t, "topsecret", config.Worker.CallbackKey)
	assert.Equal(t, "http://intake:8080", config.Worker.CallbackURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CREDBRIDGE_SERVER_PORT", "7070")
	t.Setenv("CREDBRIDGE_SERVER_HOST", "0.0.0.0")
	t.Setenv("CREDBRIDGE_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CREDBRIDGE_LOG_LEVEL", "debug")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Server.AllowedOrigins)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestCallbackBaseURL(t *testing.T) {
	config := NewDefaultConfig()
	assert.Equal(t, "http://localhost:8080", config.CallbackBaseURL())

	config.Worker.CallbackURL = "https://intake.internal/"
	assert.Equal(t, "https://intake.internal", config.CallbackBaseURL(), "trailing slash trimmed")
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}

func TestIsProduction(t *testing.T) {
	config := NewDefaultConfig()
	assert.False(t, config.IsProduction())

	config.Environment = "Production"
	assert.True(t, config.IsProduction())

	config.Environment = " prod "
	assert.True(t, config.IsProduction())
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 9999, "bridge.local")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "bridge.local", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 9999, config.Server.Port, "zero values leave the config untouched")
}
