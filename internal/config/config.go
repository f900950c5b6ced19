// Package config provides configuration management for Storyforge.
// It loads settings from environment variables with the STORYFORGE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the Storyforge backend.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Backup     BackupConfig
	LLM        LLMConfig
	Media      MediaConfig
	Registry   RegistryConfig
	Extraction ExtractionConfig
	Logging    LoggingConfig
}

// ServerConfig contains HTTP and socket server configuration.
type ServerConfig struct {
	Port           int      // Server port (default: 7373)
	Host           string   // Server host (default: 127.0.0.1)
	AllowedOrigins []string // Websocket origin patterns (default: localhost:3000, 127.0.0.1:3000)
	EventsPerSec   float64  // Sustained inbound socket events per connection (default: 10)
	EventBurst     int      // Inbound burst per connection (default: 20)
	APIToken       string   // Bearer token for /api routes; empty disables auth
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string // sqlite or postgres (default: sqlite)
	DataPath      string // Directory for the sqlite file (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres
}

// BackupConfig schedules sqlite backups. An empty Dir disables them.
type BackupConfig struct {
	Dir      string        // Backup directory (default: empty, disabled)
	Interval time.Duration // Time between backups (default: 1h)
	Verify   bool          // Integrity-check each backup (default: true)
}

// LLMConfig contains text-generation provider configuration.
type LLMConfig struct {
	OpenAIAPIKey  string        // OpenAI API key
	OpenAIModel   string        // Default extraction model (default: gpt-4o-mini)
	OpenAIBaseURL string        // Optional proxy/base URL
	VeniceAPIKey  string        // Venice.ai API key (OpenAI-compatible)
	VeniceModel   string        // Venice model (default: llama-3.3-70b)
	VeniceBaseURL string        // Venice base URL (default: https://api.venice.ai/api/v1)
	Timeout       time.Duration // Per-request timeout (default: 120s)
}

// MediaConfig contains audio and image provider configuration.
type MediaConfig struct {
	ElevenLabsAPIKey string // ElevenLabs key for TTS and sound effects
	FalAPIKey        string // Fal AI key for character-consistent images
	CacheDir         string // Sound effect cache directory (default: ./data/sfx)
	ImageDir         string // Public directory for downloaded images (default: ./public/images)
}

// Capacity is a {max, warn} pair for one bounded registry map.
type Capacity struct {
	Max  int
	Warn int
}

// RegistryConfig bounds the in-memory session registries.
type RegistryConfig struct {
	Sessions             Capacity
	PendingAudio         Capacity
	LaunchSequences      Capacity
	GenerationProgress   Capacity
	SessionTTL           time.Duration // default 30m
	PendingAudioTTL      time.Duration // default 10m
	LaunchSequenceTTL    time.Duration // default 15m
	ProgressTTL          time.Duration // default 20m
	CompletedProgressTTL time.Duration // default 5m
	SweepInterval        time.Duration // default 60s
}

// ExtractionConfig tunes the extraction pipeline.
type ExtractionConfig struct {
	ChunkSize    int           // Characters per chunk (default: 30000)
	ChunkOverlap int           // Overlap between chunks (default: 2000)
	MaxRetries   int           // Attempts per LLM call (default: 3)
	BackoffBase  time.Duration // Base unit for 2^attempt backoff (default: 1s)
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string // default: info
	Format string // json or console (default: json)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults and validates the result.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects internally inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	caps := map[string]Capacity{
		"sessions":            c.Registry.Sessions,
		"pending_audio":       c.Registry.PendingAudio,
		"launch_sequences":    c.Registry.LaunchSequences,
		"generation_progress": c.Registry.GenerationProgress,
	}
	for name, cp := range caps {
		if cp.Max <= 0 {
			errs = append(errs, fmt.Errorf("config: %s max must be positive (got %d)", name, cp.Max))
		}
		if cp.Warn <= 0 || cp.Warn > cp.Max {
			errs = append(errs, fmt.Errorf("config: %s warn must be in (0, max] (got %d, max %d)", name, cp.Warn, cp.Max))
		}
	}

	ttls := map[string]time.Duration{
		"session_ttl":            c.Registry.SessionTTL,
		"pending_audio_ttl":      c.Registry.PendingAudioTTL,
		"launch_sequence_ttl":    c.Registry.LaunchSequenceTTL,
		"progress_ttl":           c.Registry.ProgressTTL,
		"completed_progress_ttl": c.Registry.CompletedProgressTTL,
		"sweep_interval":         c.Registry.SweepInterval,
	}
	for name, d := range ttls {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive", name))
		}
	}

	if c.Extraction.ChunkSize <= 0 {
		errs = append(errs, errors.New("config: extraction chunk size must be positive"))
	}
	if c.Extraction.ChunkOverlap < 0 || c.Extraction.ChunkOverlap >= c.Extraction.ChunkSize {
		errs = append(errs, fmt.Errorf("config: chunk overlap %d must be in [0, %d)", c.Extraction.ChunkOverlap, c.Extraction.ChunkSize))
	}
	if c.Extraction.MaxRetries < 1 {
		errs = append(errs, errors.New("config: extraction max retries must be at least 1"))
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("config: STORYFORGE_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine))
	}

	return errors.Join(errs...)
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnvInt("STORYFORGE_PORT", 7373),
			Host:           getEnv("STORYFORGE_HOST", "127.0.0.1"),
			AllowedOrigins: getEnvList("STORYFORGE_ALLOWED_ORIGINS", []string{"localhost:3000", "127.0.0.1:3000"}),
			EventsPerSec:   getEnvFloat("STORYFORGE_EVENTS_PER_SEC", 10),
			EventBurst:     getEnvInt("STORYFORGE_EVENT_BURST", 20),
			APIToken:       getEnv("STORYFORGE_API_TOKEN", ""),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("STORYFORGE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("STORYFORGE_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("STORYFORGE_POSTGRES_DSN", ""),
		},
		Backup: BackupConfig{
			Dir:      getEnv("STORYFORGE_BACKUP_DIR", ""),
			Interval: getEnvDuration("STORYFORGE_BACKUP_INTERVAL", time.Hour),
			Verify:   getEnvBool("STORYFORGE_BACKUP_VERIFY", true),
		},
		LLM: LLMConfig{
			OpenAIAPIKey:  getEnv("STORYFORGE_OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("STORYFORGE_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: getEnv("STORYFORGE_OPENAI_BASE_URL", ""),
			VeniceAPIKey:  getEnv("STORYFORGE_VENICE_API_KEY", ""),
			VeniceModel:   getEnv("STORYFORGE_VENICE_MODEL", "llama-3.3-70b"),
			VeniceBaseURL: getEnv("STORYFORGE_VENICE_BASE_URL", "https://api.venice.ai/api/v1"),
			Timeout:       getEnvDuration("STORYFORGE_LLM_TIMEOUT", 120*time.Second),
		},
		Media: MediaConfig{
			ElevenLabsAPIKey: getEnv("STORYFORGE_ELEVENLABS_API_KEY", ""),
			FalAPIKey:        getEnv("STORYFORGE_FAL_API_KEY", ""),
			CacheDir:         getEnv("STORYFORGE_SFX_CACHE_DIR", "./data/sfx"),
			ImageDir:         getEnv("STORYFORGE_IMAGE_DIR", "./public/images"),
		},
		Registry: RegistryConfig{
			Sessions:             getEnvCapacity("STORYFORGE_MAX_SESSIONS", Capacity{Max: 1000, Warn: 800}),
			PendingAudio:         getEnvCapacity("STORYFORGE_MAX_PENDING_AUDIO", Capacity{Max: 500, Warn: 400}),
			LaunchSequences:      getEnvCapacity("STORYFORGE_MAX_LAUNCH_SEQUENCES", Capacity{Max: 200, Warn: 160}),
			GenerationProgress:   getEnvCapacity("STORYFORGE_MAX_GENERATION_PROGRESS", Capacity{Max: 500, Warn: 400}),
			SessionTTL:           getEnvDuration("STORYFORGE_SESSION_TTL", 30*time.Minute),
			PendingAudioTTL:      getEnvDuration("STORYFORGE_PENDING_AUDIO_TTL", 10*time.Minute),
			LaunchSequenceTTL:    getEnvDuration("STORYFORGE_LAUNCH_SEQUENCE_TTL", 15*time.Minute),
			ProgressTTL:          getEnvDuration("STORYFORGE_PROGRESS_TTL", 20*time.Minute),
			CompletedProgressTTL: getEnvDuration("STORYFORGE_COMPLETED_PROGRESS_TTL", 5*time.Minute),
			SweepInterval:        getEnvDuration("STORYFORGE_SWEEP_INTERVAL", 60*time.Second),
		},
		Extraction: ExtractionConfig{
			ChunkSize:    getEnvInt("STORYFORGE_CHUNK_SIZE", 30000),
			ChunkOverlap: getEnvInt("STORYFORGE_CHUNK_OVERLAP", 2000),
			MaxRetries:   getEnvInt("STORYFORGE_MAX_RETRIES", 3),
			BackoffBase:  getEnvDuration("STORYFORGE_BACKOFF_BASE", time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("STORYFORGE_LOG_LEVEL", "info"),
			Format: getEnv("STORYFORGE_LOG_FORMAT", "json"),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration parses a Go duration string ("90s", "15m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvCapacity reads "<max>" or "<max>:<warn>". A bare max sets warn to 80%
// of max.
func getEnvCapacity(key string, defaultValue Capacity) Capacity {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	maxStr, warnStr, hasWarn := strings.Cut(value, ":")
	maxVal, err := strconv.Atoi(strings.TrimSpace(maxStr))
	if err != nil {
		return defaultValue
	}
	warnVal := maxVal * 8 / 10
	if hasWarn {
		if w, err := strconv.Atoi(strings.TrimSpace(warnStr)); err == nil {
			warnVal = w
		}
	}
	if warnVal <= 0 {
		warnVal = maxVal
	}
	return Capacity{Max: maxVal, Warn: warnVal}
}
