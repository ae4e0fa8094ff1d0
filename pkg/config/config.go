package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Environment string        `yaml:"environment"`
	Server      ServerConfig  `yaml:"server"`
	Storage     StorageConfig `yaml:"storage"`
	Ingest      IngestConfig  `yaml:"ingest"`
	Logging     LoggingConfig `yaml:"logging"`
	Janitor     JanitorConfig `yaml:"janitor"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig holds SQLite settings
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabaseFile string `yaml:"database_file"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// IngestConfig holds upload and inference settings
type IngestConfig struct {
	MaxUploadBytes   int64   `yaml:"max_upload_bytes"`
	SampleSize       int     `yaml:"sample_size"`
	NumericThreshold float64 `yaml:"numeric_threshold"`
	BatchSize        int     `yaml:"batch_size"`
	Sheet            string  `yaml:"sheet"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// JanitorConfig controls the sweep of abandoned staging tables
type JanitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// DatabasePath returns the full path of the SQLite database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.DatabaseFile)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			RequestTimeout: 110 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
		},
		Storage: StorageConfig{
			DataDir:      "data",
			DatabaseFile: "insight.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Ingest: IngestConfig{
			MaxUploadBytes:   100 << 20,
			SampleSize:       100,
			NumericThreshold: 0.8,
			BatchSize:        500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Janitor: JanitorConfig{
			Enabled:  true,
			Schedule: "@every 15m",
			MaxAge:   time.Hour,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file named by
// INSIGHT_CONFIG, and environment variables, in that order of precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("INSIGHT_CONFIG"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile overlays the YAML file at path onto the configuration.
// Keys absent from the file keep their current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(path))
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Storage.DataDir = getEnv("STORAGE_DIR", c.Storage.DataDir)
	c.Storage.DatabaseFile = getEnv("DATABASE_FILE", c.Storage.DatabaseFile)
	c.Storage.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Storage.MaxOpenConns)
	c.Storage.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Storage.MaxIdleConns)

	c.Ingest.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(c.Ingest.MaxUploadBytes)))
	c.Ingest.SampleSize = getEnvAsInt("INFERENCE_SAMPLE_SIZE", c.Ingest.SampleSize)
	c.Ingest.NumericThreshold = getEnvAsFloat("NUMERIC_THRESHOLD", c.Ingest.NumericThreshold)
	c.Ingest.BatchSize = getEnvAsInt("INSERT_BATCH_SIZE", c.Ingest.BatchSize)
	c.Ingest.Sheet = getEnv("XLSX_SHEET", c.Ingest.Sheet)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Janitor.Enabled = getEnvAsBool("JANITOR_ENABLED", c.Janitor.Enabled)
	c.Janitor.Schedule = getEnv("JANITOR_SCHEDULE", c.Janitor.Schedule)
	c.Janitor.MaxAge = getEnvAsDuration("JANITOR_MAX_AGE", c.Janitor.MaxAge)
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Storage.DataDir == "" || c.Storage.DatabaseFile == "" {
		return fmt.Errorf("storage data_dir and database_file are required")
	}
	if c.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.Ingest.SampleSize < 1 {
		return fmt.Errorf("sample_size must be at least 1")
	}
	if c.Ingest.NumericThreshold <= 0 || c.Ingest.NumericThreshold > 1 {
		return fmt.Errorf("numeric_threshold must be in (0, 1], got %v", c.Ingest.NumericThreshold)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor schedule is required when the janitor is enabled")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
