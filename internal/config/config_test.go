package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", "nonexistent.env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, "hybrid", cfg.RotationStrategy)
	assert.Equal(t, "2:3", cfg.DefaultAspectRatio)
	assert.Equal(t, 4, cfg.DefaultImageCount)
	assert.Equal(t, 10, cfg.DailyLimit)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.GenerationTimeout())
	assert.Equal(t, "wss://grok.com/ws/imagine/listen", cfg.UpstreamWSURL)
	assert.Equal(t, "key.txt", cfg.CredentialsFile)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", "nonexistent.env")
	t.Setenv("PORT", "9090")
	t.Setenv("ROTATION_STRATEGY", "round_robin")
	t.Setenv("SESSION_DAILY_LIMIT", "5")
	t.Setenv("BASE_URL", "https://gw.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, "round_robin", cfg.RotationStrategy)
	assert.Equal(t, 5, cfg.DailyLimit)
	assert.Equal(t, "https://gw.example.com", cfg.PublicBaseURL())
}

func TestPublicBaseURLFallback(t *testing.T) {
	cfg := &Config{Port: 8080}
	assert.Equal(t, "http://127.0.0.1:8080", cfg.PublicBaseURL())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreBackend:      "file",
			RotationStrategy:  "hybrid",
			DefaultImageCount: 4,
		}
	}

	t.Run("accepts valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects unknown store backend", func(t *testing.T) {
		cfg := valid()
		cfg.StoreBackend = "etcd"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres requires DATABASE_URL", func(t *testing.T) {
		cfg := valid()
		cfg.StoreBackend = "postgres"
		assert.Error(t, cfg.Validate())

		cfg.DatabaseURL = "postgres://localhost/imagine"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown rotation strategy", func(t *testing.T) {
		cfg := valid()
		cfg.RotationStrategy = "random"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects out-of-range default count", func(t *testing.T) {
		cfg := valid()
		cfg.DefaultImageCount = 5
		assert.Error(t, cfg.Validate())
	})
}
