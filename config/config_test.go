package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"TRICKLE_BASE_URL", "TRICKLE_API_KEY", "OPENAI_API_KEY", "TRICKLE_MODEL",
	"TRICKLE_TIMEOUT", "TRICKLE_PROVIDER_ORDER", "TRICKLE_ALLOW_FALLBACKS",
	"TRICKLE_APP_REFERER", "TRICKLE_APP_TITLE", "TRICKLE_METRICS_ADDR", "NATS_URL",
}

// clearEnv unsets every configuration variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "trickle", cfg.AppTitle)
	assert.Empty(t, cfg.APIKey)
	assert.Nil(t, cfg.ProviderOrder)
	assert.Nil(t, cfg.AllowFallbacks)
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRICKLE_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("TRICKLE_API_KEY", "sk-trickle")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("TRICKLE_MODEL", "anthropic/claude-3.5-sonnet")
	t.Setenv("TRICKLE_TIMEOUT", "30s")
	t.Setenv("TRICKLE_PROVIDER_ORDER", "anthropic, openai,,")
	t.Setenv("TRICKLE_ALLOW_FALLBACKS", "false")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/v1", cfg.BaseURL)
	assert.Equal(t, "sk-trickle", cfg.APIKey)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.ProviderOrder)
	require.NotNil(t, cfg.AllowFallbacks)
	assert.False(t, *cfg.AllowFallbacks)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestFromEnv_APIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.APIKey)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{"timeout", map[string]string{"TRICKLE_TIMEOUT": "soon"}, []string{"TRICKLE_TIMEOUT"}},
		{"negative timeout", map[string]string{"TRICKLE_TIMEOUT": "-1s"}, []string{"must not be negative"}},
		{"fallbacks", map[string]string{"TRICKLE_ALLOW_FALLBACKS": "maybe"}, []string{"TRICKLE_ALLOW_FALLBACKS"}},
		{
			"all problems",
			map[string]string{"TRICKLE_TIMEOUT": "soon", "TRICKLE_ALLOW_FALLBACKS": "maybe"},
			[]string{"TRICKLE_TIMEOUT", "TRICKLE_ALLOW_FALLBACKS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			require.Error(t, err)
			for _, want := range tt.want {
				assert.ErrorContains(t, err, want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("TRICKLE_MODEL=from/dotenv\nTRICKLE_API_KEY=sk-dotenv\n"), 0o600))
	t.Setenv("TRICKLE_API_KEY", "sk-env")
	t.Cleanup(func() { _ = os.Unsetenv("TRICKLE_MODEL") })

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "from/dotenv", cfg.Model)
	assert.Equal(t, "sk-env", cfg.APIKey, "environment wins over .env")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model)
}
