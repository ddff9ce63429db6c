// Package config loads installer configuration from environment
// variables, an optional .env file, and an optional structure file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all installer configuration.
type Config struct {
	// Destination
	Dest          string
	Subfolder     string
	StructureFile string

	// Archive source overrides, keyed by archive name
	URLOverrides map[string]string

	// Debugging
	KeepDownloads bool
	KeepTemp      bool

	// Extraction
	ExtractCommand string
	ExtractTimeout time.Duration
	PollInterval   time.Duration
	StableTicks    int

	// HTTP
	HTTPTimeout   time.Duration
	UserAgent     string
	RetryAttempts int

	// Archive cache (disabled when CacheDir is empty)
	CacheDir     string
	CacheEntries int

	// S3 sources
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// Observability
	MetricsFile string
	LogLevel    string
	LogFormat   string
}

// urlEnv maps archive names of the default structure to the variables
// that override their URLs.
var urlEnv = map[string]string{
	"SDLite":     "SDLITE_REPO_URL",
	"SDL2":       "SDLITE_SDL2_URL",
	"SDL2_image": "SDLITE_SDL2_IMAGE_URL",
}

// Load reads configuration from environment variables with defaults. A
// .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Dest:           envOr("SDLITE_DEST", ""),
		Subfolder:      envOr("SDLITE_SUBFOLDER", "SDLite"),
		StructureFile:  envOr("SDLITE_STRUCTURE_FILE", ""),
		URLOverrides:   make(map[string]string),
		KeepDownloads:  envBool("SDLITE_KEEP_DOWNLOADS", false),
		KeepTemp:       envBool("SDLITE_KEEP_TEMP", false),
		ExtractCommand: envOr("SDLITE_EXTRACT_COMMAND", ""),
		ExtractTimeout: envDuration("SDLITE_EXTRACT_TIMEOUT", 60*time.Second),
		PollInterval:   envDuration("SDLITE_POLL_INTERVAL", 200*time.Millisecond),
		StableTicks:    envInt("SDLITE_STABLE_TICKS", 6),
		HTTPTimeout:    envDuration("SDLITE_HTTP_TIMEOUT", 0), // 0 = no overall limit
		UserAgent:      envOr("SDLITE_USER_AGENT", "SDLiteSetup/2.1"),
		RetryAttempts:  envInt("SDLITE_RETRY_ATTEMPTS", 3),
		CacheDir:       envOr("SDLITE_CACHE_DIR", ""),
		CacheEntries:   envInt("SDLITE_CACHE_ENTRIES", 16),
		S3Endpoint:     envOr("SDLITE_S3_ENDPOINT", ""),
		S3Region:       envOr("SDLITE_S3_REGION", "us-east-1"),
		S3AccessKey:    envOr("SDLITE_S3_ACCESS_KEY", ""),
		S3SecretKey:    envOr("SDLITE_S3_SECRET_KEY", ""),
		MetricsFile:    envOr("SDLITE_METRICS_FILE", ""),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
	}
	for name, key := range urlEnv {
		if v := os.Getenv(key); v != "" {
			cfg.URLOverrides[name] = v
		}
	}

	return cfg, nil
}

// Validate checks settings that can only be judged once flags have been
// applied on top of the environment.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dest) == "" {
		return fmt.Errorf("destination is required (-dest or SDLITE_DEST)")
	}
	if c.Subfolder != "" {
		if filepath.IsAbs(c.Subfolder) || !localPath(c.Subfolder) {
			return fmt.Errorf("subfolder %q must be a relative path inside the destination", c.Subfolder)
		}
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract timeout must be positive, got %s", c.ExtractTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.StableTicks <= 0 {
		return fmt.Errorf("stable ticks must be positive, got %d", c.StableTicks)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive, got %d", c.RetryAttempts)
	}
	return nil
}

// InstallDir is the chosen destination with the project subfolder
// appended.
func (c *Config) InstallDir() string {
	if c.Subfolder == "" {
		return filepath.Clean(c.Dest)
	}
	return filepath.Join(c.Dest, c.Subfolder)
}

// Structure returns the structure file's contents, or the default
// structure, with URL overrides applied.
func (c *Config) Structure() (*Structure, error) {
	var s *Structure
	if c.StructureFile != "" {
		var err error
		if s, err = LoadStructureFile(c.StructureFile); err != nil {
			return nil, err
		}
	} else {
		s = DefaultStructure()
	}

	for name, u := range c.URLOverrides {
		if err := s.SetURL(name, u); err != nil {
			return nil, err
		}
	}
	return s, nil
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
