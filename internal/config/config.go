// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Cursor store backends.
const (
	CursorStoreMemory   = "memory"
	CursorStoreRedis    = "redis"
	CursorStorePostgres = "postgres"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// S3 bucket the files are copied into
	S3Endpoint  string // empty = AWS default endpoint resolution
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3ACL       string

	// Dropbox API
	DropboxAPIURL      string
	DropboxContentURL  string
	DropboxTimeout     time.Duration // 0 = no timeout
	DropboxMaxAttempts int

	// Cursor persistence
	CursorStore   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Sync behavior
	ResumeFromCursor bool
	SyncDeletes      bool
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9090"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "json"),
		DatabaseURL:        envOr("DATABASE_URL", ""),
		S3Endpoint:         envOr("S3_ENDPOINT", ""),
		S3Bucket:           envOr("S3_BUCKET", "kissr"),
		S3AccessKey:        envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:        envOr("S3_SECRET_KEY", ""),
		S3Region:           envOr("S3_REGION", "us-east-1"),
		S3ACL:              envOr("S3_ACL", "public-read"),
		DropboxAPIURL:      envOr("DROPBOX_API_URL", "https://api.dropboxapi.com"),
		DropboxContentURL:  envOr("DROPBOX_CONTENT_URL", "https://content.dropboxapi.com"),
		DropboxTimeout:     envDuration("DROPBOX_TIMEOUT", 0),
		DropboxMaxAttempts: envInt("DROPBOX_MAX_ATTEMPTS", 1),
		CursorStore:        envOr("CURSOR_STORE", CursorStoreMemory),
		RedisAddr:          envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      envOr("REDIS_PASSWORD", ""),
		RedisDB:            envInt("REDIS_DB", 0),
		ResumeFromCursor:   envBool("RESUME_FROM_CURSOR", false),
		SyncDeletes:        envBool("SYNC_DELETES", true),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	switch cfg.CursorStore {
	case CursorStoreMemory, CursorStoreRedis, CursorStorePostgres:
	default:
		return nil, fmt.Errorf("CURSOR_STORE must be one of memory, redis, postgres (got %q)", cfg.CursorStore)
	}
	if cfg.DropboxMaxAttempts < 1 {
		cfg.DropboxMaxAttempts = 1
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
