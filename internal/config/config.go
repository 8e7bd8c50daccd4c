// Package config loads the gateway configuration from the environment,
// with .env support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	Cache  CacheConfig
	Ledger LedgerConfig
	Embed  EmbedConfig
	Index  IndexConfig
	LLM    LLMConfig
	Ingest IngestConfig
}

type ServerConfig struct {
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type CacheConfig struct {
	Backend   string // "memory" or "redis"
	Prefix    string
	RedisAddr string
}

type LedgerConfig struct {
	Path   string
	Limit  int64
	Window time.Duration
}

type EmbedConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type IndexConfig struct {
	BaseURL string
	APIKey  string
}

type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type IngestConfig struct {
	Enabled     bool
	FrontierURL string
	Interval    time.Duration
}

// Load reads the configuration. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Server: ServerConfig{
			Port:            getenv("PORT", "8080"),
			RequestTimeout:  getenvDuration("REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			Backend:   getenv("CACHE_BACKEND", "memory"),
			Prefix:    getenv("CACHE_PREFIX", "newsrag"),
			RedisAddr: getenv("REDIS_ADDR", "127.0.0.1:6379"),
		},
		Ledger: LedgerConfig{
			Path:   getenv("LEDGER_PATH", "quota.db"),
			Limit:  getenvInt64("QUOTA_LIMIT", 5),
			Window: getenvDuration("QUOTA_WINDOW", 24*time.Hour),
		},
		Embed: EmbedConfig{
			BaseURL: getenv("EMBEDDER_BASE_URL", ""),
			APIKey:  os.Getenv("EMBEDDER_API_KEY"),
			Model:   getenv("EMBEDDER_MODEL", ""),
		},
		Index: IndexConfig{
			BaseURL: getenv("PINECONE_BASE_URL", ""),
			APIKey:  os.Getenv("PINECONE_API_KEY"),
		},
		LLM: LLMConfig{
			BaseURL: getenv("LLM_BASE_URL", "https://api.groq.com/openai"),
			APIKey:  os.Getenv("GROQ_API_KEY"),
			Model:   getenv("LLM_MODEL", ""),
		},
		Ingest: IngestConfig{
			Enabled:     getenvBool("INGEST_ENABLED", true),
			FrontierURL: getenv("FRONTIER_URL", "https://timesofindia.indiatimes.com"),
			Interval:    getenvDuration("INGEST_INTERVAL", time.Hour),
		},
	}
}

// getenv returns the value of the environment variable key or def if
// not set.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
