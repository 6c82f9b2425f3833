// Package config provides configuration management functionality.
//
// Settings come from two places: a line-oriented config.txt with KEY=VALUE
// pairs (scrape target, batch sizes, range database path) and the process
// environment (credentials, ports, hosting switches). A .env file is loaded
// first so local development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// From config.txt.
	BaseURL      string
	Organizer    string
	Event        string
	StartingDate string // YYYY-MM-DD
	BatchSize    int    // hands per commit batch
	BatchLimit   int    // upstream page size
	RangesPath   string // prebuilt preflop range database
	NormalizeCur bool   // divide chip amounts by the chip unit value

	// From environment.
	APIUsername string
	APIPassword string
	ReadAPIKey  string // shared secret for the read API, empty disables the check
	LogLevel    string
	Port        int

	// Optional S3 archive upload.
	S3Bucket    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
}

// Defaults applied when config.txt omits a key.
const (
	DefaultBatchSize  = 500
	DefaultBatchLimit = 50
)

// Load reads the KEY=VALUE config file at configPath plus the environment.
// A missing config file is not an error; Validate catches missing keys.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	kv, err := readKeyValues(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseURL:      strings.TrimRight(kv["BASE_URL"], "/"),
		Organizer:    kv["ORGANIZER"],
		Event:        kv["EVENT"],
		StartingDate: kv["STARTING_DATE"],
		BatchSize:    intOr(kv["BATCH_SIZE"], DefaultBatchSize),
		BatchLimit:   intOr(kv["BATCH_LIMIT"], DefaultBatchLimit),
		RangesPath:   kv["RANGES_PATH"],
		NormalizeCur: strings.EqualFold(kv["NORMALIZE_CUR"], "Y"),

		APIUsername: os.Getenv("BATTLE_API_USERNAME"),
		APIPassword: os.Getenv("BATTLE_API_PASSWORD"),
		ReadAPIKey:  os.Getenv("READ_API_KEY"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnvAsInt("PORT", 8000),

		S3Bucket:    os.Getenv("ARCHIVE_S3_BUCKET"),
		S3Endpoint:  os.Getenv("ARCHIVE_S3_ENDPOINT"),
		S3AccessKey: os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
		S3Region:    getEnv("ARCHIVE_S3_REGION", "auto"),
	}

	return cfg, nil
}

// Validate checks the settings the ingestion driver cannot run without.
// The read-only server does not call this; it works without credentials.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is not set")
	}
	if c.Organizer == "" || c.Event == "" {
		return fmt.Errorf("ORGANIZER and EVENT must both be set")
	}
	if c.StartingDate == "" {
		return fmt.Errorf("STARTING_DATE is not set")
	}
	if _, err := time.Parse("2006-01-02", c.StartingDate); err != nil {
		return fmt.Errorf("STARTING_DATE %q is not YYYY-MM-DD: %w", c.StartingDate, err)
	}
	if c.APIUsername == "" || c.APIPassword == "" {
		return fmt.Errorf("BATTLE_API_USERNAME and BATTLE_API_PASSWORD must be set")
	}
	return nil
}

// S3Configured reports whether archive uploads are enabled.
func (c *Config) S3Configured() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// readKeyValues parses the config file. Keys are upper-cased and trimmed,
// lines without '=' (including comments) are skipped, unknown keys are kept
// and simply never read.
func readKeyValues(path string) (map[string]string, error) {
	kv := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kv, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return kv, nil
}

func intOr(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
