// Package config loads runtime configuration from defaults, an optional
// .env file, and LOREWEAVE_* environment variables, in that order of
// precedence. Missing provider keys are not an error: the service starts
// degraded and reports availability through the provider probes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/subosito/gotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Providers ProvidersConfig
	Dispatch  DispatchConfig
}

type ServerConfig struct {
	Port      int
	MCPPort   int
	AuthToken string
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	Capacity      int
	RedisAddr     string
	RedisPassword string
	SweepInterval time.Duration
}

type ProvidersConfig struct {
	Primary   string
	Fallbacks []string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicKey   string
	AnthropicModel string

	GeminiKey   string
	GeminiModel string

	OllamaBaseURL string
	OllamaModel   string
}

type DispatchConfig struct {
	RequestTimeout   time.Duration
	MaxRetries       int
	FailureThreshold int
	ResetTimeout     time.Duration
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "loreweave-data"
		}
	}
	return filepath.Join(dir, "loreweave")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Capacity:      1000,
			SweepInterval: time.Minute,
		},
		Providers: ProvidersConfig{
			Primary:        "openai",
			OpenAIBaseURL:  "https://api.openai.com/v1",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-sonnet-4-20250514",
			GeminiModel:    "gemini-2.0-flash",
			OllamaBaseURL:  "http://localhost:11434",
			OllamaModel:    "llama3.1",
		},
		Dispatch: DispatchConfig{
			RequestTimeout:   60 * time.Second,
			MaxRetries:       3,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
	}
}

// Load reads configuration. A .env file in the working directory is
// loaded first (existing environment wins), then LOREWEAVE_* variables
// override the defaults.
func Load() (Config, error) {
	gotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (Config, error) {
	cfg := defaults()

	if err := envInt("LOREWEAVE_PORT", &cfg.Server.Port); err != nil {
		return Config{}, err
	}
	if err := envInt("LOREWEAVE_MCP_PORT", &cfg.Server.MCPPort); err != nil {
		return Config{}, err
	}
	envString("LOREWEAVE_AUTH_TOKEN", &cfg.Server.AuthToken)
	envString("LOREWEAVE_DATA_DIR", &cfg.Storage.DataDir)

	if err := envInt("LOREWEAVE_CACHE_CAPACITY", &cfg.Cache.Capacity); err != nil {
		return Config{}, err
	}
	envString("LOREWEAVE_REDIS_ADDR", &cfg.Cache.RedisAddr)
	envString("LOREWEAVE_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	if err := envDuration("LOREWEAVE_CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval); err != nil {
		return Config{}, err
	}

	envString("LOREWEAVE_PRIMARY_PROVIDER", &cfg.Providers.Primary)
	envString("OPENAI_API_KEY", &cfg.Providers.OpenAIKey)
	envString("LOREWEAVE_OPENAI_BASE_URL", &cfg.Providers.OpenAIBaseURL)
	envString("LOREWEAVE_OPENAI_MODEL", &cfg.Providers.OpenAIModel)
	envString("ANTHROPIC_API_KEY", &cfg.Providers.AnthropicKey)
	envString("LOREWEAVE_ANTHROPIC_MODEL", &cfg.Providers.AnthropicModel)
	envString("GEMINI_API_KEY", &cfg.Providers.GeminiKey)
	envString("LOREWEAVE_GEMINI_MODEL", &cfg.Providers.GeminiModel)
	envString("LOREWEAVE_OLLAMA_BASE_URL", &cfg.Providers.OllamaBaseURL)
	envString("LOREWEAVE_OLLAMA_MODEL", &cfg.Providers.OllamaModel)

	if err := envDuration("LOREWEAVE_REQUEST_TIMEOUT", &cfg.Dispatch.RequestTimeout); err != nil {
		return Config{}, err
	}
	if err := envInt("LOREWEAVE_MAX_RETRIES", &cfg.Dispatch.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := envInt("LOREWEAVE_FAILURE_THRESHOLD", &cfg.Dispatch.FailureThreshold); err != nil {
		return Config{}, err
	}
	if err := envDuration("LOREWEAVE_RESET_TIMEOUT", &cfg.Dispatch.ResetTimeout); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}
