package config

import (
	"testing"
	"time"
)

// TestDefaults verifies defaults survive an empty environment.
func TestDefaults(t *testing.T) {
	for _, key := range []string{
		"LOREWEAVE_PORT", "LOREWEAVE_MCP_PORT", "LOREWEAVE_DATA_DIR",
		"LOREWEAVE_CACHE_CAPACITY", "LOREWEAVE_REDIS_ADDR",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := loadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4601 {
		t.Errorf("Server.MCPPort = %d, want 4601", cfg.Server.MCPPort)
	}
	if cfg.Cache.Capacity != 1000 {
		t.Errorf("Cache.Capacity = %d, want 1000", cfg.Cache.Capacity)
	}
	if cfg.Providers.Primary != "openai" {
		t.Errorf("Providers.Primary = %q, want openai", cfg.Providers.Primary)
	}
	if cfg.Providers.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("Providers.OllamaBaseURL = %q", cfg.Providers.OllamaBaseURL)
	}
	if cfg.Dispatch.RequestTimeout != 60*time.Second {
		t.Errorf("Dispatch.RequestTimeout = %v, want 60s", cfg.Dispatch.RequestTimeout)
	}
}

// TestMissingKeysIsNotAnError verifies the service can start without any
// provider credentials.
func TestMissingKeysIsNotAnError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := loadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.OpenAIKey != "" || cfg.Providers.AnthropicKey != "" {
		t.Error("keys should be empty")
	}
}

// TestEnvOverrides verifies environment variables win over defaults.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOREWEAVE_PORT", "5000")
	t.Setenv("LOREWEAVE_PRIMARY_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("LOREWEAVE_REQUEST_TIMEOUT", "90s")
	t.Setenv("LOREWEAVE_REDIS_ADDR", "localhost:6379")

	cfg, err := loadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Providers.Primary != "anthropic" {
		t.Errorf("Providers.Primary = %q, want anthropic", cfg.Providers.Primary)
	}
	if cfg.Providers.AnthropicKey != "test-key" {
		t.Errorf("Providers.AnthropicKey = %q", cfg.Providers.AnthropicKey)
	}
	if cfg.Dispatch.RequestTimeout != 90*time.Second {
		t.Errorf("Dispatch.RequestTimeout = %v, want 90s", cfg.Dispatch.RequestTimeout)
	}
	if cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("Cache.RedisAddr = %q", cfg.Cache.RedisAddr)
	}
}

// TestInvalidValuesRejected verifies malformed numbers and durations fail.
func TestInvalidValuesRejected(t *testing.T) {
	t.Setenv("LOREWEAVE_PORT", "not-a-number")
	if _, err := loadFromEnv(); err == nil {
		t.Error("expected error for invalid port")
	}

	t.Setenv("LOREWEAVE_PORT", "")
	t.Setenv("LOREWEAVE_REQUEST_TIMEOUT", "soon")
	if _, err := loadFromEnv(); err == nil {
		t.Error("expected error for invalid duration")
	}
}
