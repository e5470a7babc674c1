// Package config loads the streaming engine's configuration from the
// environment: Reddit credentials, the listing selection, pacing knobs,
// persistence paths, and the inspection server port.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddittail/streamengine"
)

// Config holds all configuration for the application.
type Config struct {
	App    AppConfig
	Reddit RedditConfig
	Stream StreamConfig
	Store  StoreConfig
	Server ServerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string
	Version string
}

// RedditConfig holds Reddit API credentials and the one subreddit polled.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Subreddit    string
}

// StreamConfig holds the streaming engine's pacing and listing knobs. The
// defaults below apply when the corresponding variables are unset.
type StreamConfig struct {
	Listings               []string
	SafetyFactor           float64
	MinWait                time.Duration
	MaxWait                time.Duration
	EditFetchAttempts      int
	ExceptionPause         time.Duration
	RatelimitExhaustion    int
	LogStreams             bool
	ShowDelay              bool
	UseExponentialPacer    bool
	MaxTimeBeforeFullFetch time.Duration
	QuotaRequests          int
	QuotaWindow            time.Duration
}

// StoreConfig holds persistence configuration: where cursor files and the
// SQLite mirror live.
type StoreConfig struct {
	CacheRoot  string
	SQLitePath string
}

// ServerConfig holds the inspection/health HTTP server's configuration.
type ServerConfig struct {
	Port int
}

// Load loads configuration from envPath (default ".env") plus the process
// environment.
func Load(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "reddittail"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Reddit: RedditConfig{
			ClientID:     getEnv("REDDIT_CLIENT_ID", ""),
			ClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),
			UserAgent:    getEnv("REDDIT_USER_AGENT", ""),
			Subreddit:    getEnv("REDDIT_SUBREDDIT", "golang"),
		},
		Stream: StreamConfig{
			Listings:               parseListings(getEnv("STREAM_LISTINGS", "submissions,comments")),
			SafetyFactor:           getEnvAsFloat("STREAM_SAFETY_FACTOR", 0.9),
			MinWait:                time.Duration(getEnvAsFloat("STREAM_MIN_WAIT_SECONDS", 1)) * time.Second,
			MaxWait:                time.Duration(getEnvAsFloat("STREAM_MAX_WAIT_SECONDS", 16)) * time.Second,
			EditFetchAttempts:      getEnvAsInt("STREAM_EDIT_FETCH_ATTEMPTS", 3),
			ExceptionPause:         time.Duration(getEnvAsInt("STREAM_EXCEPTION_PAUSE_SECONDS", 60)) * time.Second,
			RatelimitExhaustion:    getEnvAsInt("STREAM_RATELIMIT_EXHAUSTION", 30),
			LogStreams:             getEnvAsBool("STREAM_LOG_STREAMS", true),
			ShowDelay:              getEnvAsBool("STREAM_SHOW_DELAY", false),
			UseExponentialPacer:    getEnvAsBool("STREAM_USE_EXPONENTIAL_PACER", false),
			MaxTimeBeforeFullFetch: time.Duration(getEnvAsInt("STREAM_MAX_TIME_BEFORE_FULL_FETCH_SECONDS", 60)) * time.Second,
			QuotaRequests:          getEnvAsInt("STREAM_QUOTA_REQUESTS", 1000),
			QuotaWindow:            time.Duration(getEnvAsInt("STREAM_QUOTA_WINDOW_SECONDS", 600)) * time.Second,
		},
		Store: StoreConfig{
			CacheRoot:  getEnv("STORE_CACHE_ROOT", "."),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "./reddittail.db"),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if log != nil {
		log.WithField("file", envPath).Info("config loaded successfully")
	}
	return cfg, nil
}

// parseListings parses a comma-separated list of listing names.
func parseListings(listingsStr string) []string {
	parts := strings.Split(listingsStr, ",")

	listings := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			listings = append(listings, trimmed)
		}
	}
	if len(listings) == 0 {
		listings = append(listings, "submissions")
	}
	return listings
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration.
func validateConfig(cfg *Config) error {
	if cfg.Reddit.ClientID == "" {
		return fmt.Errorf("REDDIT_CLIENT_ID environment variable is required")
	}
	if cfg.Reddit.ClientSecret == "" {
		return fmt.Errorf("REDDIT_CLIENT_SECRET environment variable is required")
	}
	// User-Agent required per API documentation; it has strict requirements.
	if cfg.Reddit.UserAgent == "" {
		return fmt.Errorf("REDDIT_USER_AGENT environment variable is required")
	}
	if cfg.Reddit.Subreddit == "" {
		return fmt.Errorf("REDDIT_SUBREDDIT environment variable is required")
	}
	if len(cfg.Stream.Listings) == 0 {
		return fmt.Errorf("STREAM_LISTINGS environment variable is required")
	}
	for _, listing := range cfg.Stream.Listings {
		if _, ok := streamengine.Listings[listing]; !ok {
			return fmt.Errorf("STREAM_LISTINGS contains unknown listing %q", listing)
		}
	}
	if cfg.Stream.SafetyFactor <= 0 || cfg.Stream.SafetyFactor > 1 {
		return fmt.Errorf("STREAM_SAFETY_FACTOR must be in (0, 1]")
	}

	if cfg.Store.SQLitePath != "" {
		dbDir := filepath.Dir(cfg.Store.SQLitePath)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	return nil
}
