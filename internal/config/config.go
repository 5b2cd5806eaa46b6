package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port    int    `env:"PORT" envDefault:"8080"`
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL"`

	// Upstream access
	CFClearance    string `env:"CF_CLEARANCE"`
	ProxyURL       string `env:"PROXY_URL"`
	UpstreamWSURL  string `env:"UPSTREAM_WS_URL" envDefault:"wss://grok.com/ws/imagine/listen"`
	UpstreamAPIURL string `env:"UPSTREAM_API_URL" envDefault:"https://grok.com"`

	// Credentials and artifacts
	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"key.txt"`
	ImagesDir       string `env:"IMAGES_DIR" envDefault:"data/images"`

	// Generation defaults
	DefaultAspectRatio       string `env:"DEFAULT_ASPECT_RATIO" envDefault:"2:3"`
	DefaultImageCount        int    `env:"DEFAULT_IMAGE_COUNT" envDefault:"4"`
	GenerationTimeoutSeconds int    `env:"GENERATION_TIMEOUT_SECONDS" envDefault:"120"`

	// Session pool
	StoreBackend     string `env:"STORE_BACKEND" envDefault:"file"`
	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL      string `env:"DATABASE_URL"`
	RotationStrategy string `env:"ROTATION_STRATEGY" envDefault:"hybrid"`
	DailyLimit       int    `env:"SESSION_DAILY_LIMIT" envDefault:"10"`
	MaxAttempts      int    `env:"POOL_MAX_ATTEMPTS" envDefault:"3"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// PublicBaseURL is the externally reachable base for artifact links.
// Falls back to the local listen address when BASE_URL is unset.
func (c *Config) PublicBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", c.Port)
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of file, redis, postgres (got %q)", c.StoreBackend)
	}

	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}

	switch c.RotationStrategy {
	case "round_robin", "least_used", "least_recent", "weighted", "hybrid":
	default:
		return fmt.Errorf("unknown ROTATION_STRATEGY %q", c.RotationStrategy)
	}

	if c.DefaultImageCount < 1 || c.DefaultImageCount > 4 {
		return fmt.Errorf("DEFAULT_IMAGE_COUNT must be between 1 and 4")
	}

	if c.APIKey == "" {
		log.Warn().Msg("API_KEY is empty: the gateway accepts unauthenticated requests")
	}
	if c.CFClearance == "" {
		log.Warn().Msg("CF_CLEARANCE is empty: session verification will fail until it is set")
	}

	return nil
}

func Load() (*Config, error) {
	// Optional .env file, environment variables take precedence.
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
