package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the postvault pipeline
type Config struct {
	// Platform integrations
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`
	Telegram  TelegramConfig  `yaml:"telegram" json:"telegram"`

	// Local archive database
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Per-platform request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry behavior for transient failures (login, classifier calls)
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Media download settings
	Media MediaConfig `yaml:"media" json:"media"`

	// LLM classification settings
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`

	// REST surface
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Username              string `yaml:"username" json:"username"`
	UserAgent             string `yaml:"user_agent" json:"user_agent"`
	BaseURL               string `yaml:"base_url" json:"base_url"`
	MaxRequestsPerSession int    `yaml:"max_requests_per_session" json:"max_requests_per_session"`
}

// TelegramConfig holds Telegram-specific configuration
type TelegramConfig struct {
	Phone                 string `yaml:"phone" json:"phone"`
	APIID                 string `yaml:"api_id" json:"api_id"`
	APIHash               string `yaml:"api_hash" json:"api_hash"`
	BaseURL               string `yaml:"base_url" json:"base_url"`
	MaxRequestsPerSession int    `yaml:"max_requests_per_session" json:"max_requests_per_session"`
}

// DatabaseConfig holds the archive location
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RateLimitConfig holds per-platform delay policies
type RateLimitConfig struct {
	Instagram DelayConfig `yaml:"instagram" json:"instagram"`
	Telegram  DelayConfig `yaml:"telegram" json:"telegram"`
}

// DelayConfig bounds the adaptive delay between remote requests
type DelayConfig struct {
	MinDelay       time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	ErrorFactor    float64       `yaml:"error_factor" json:"error_factor"`
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction"`
}

// RetryConfig holds retry behavior for transient failures
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// MediaConfig holds media download settings
type MediaConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Directory       string        `yaml:"directory" json:"directory"`
	ImageTimeout    time.Duration `yaml:"image_timeout" json:"image_timeout"`
	DocumentTimeout time.Duration `yaml:"document_timeout" json:"document_timeout"`
	SaveMetadata    bool          `yaml:"save_metadata" json:"save_metadata"`
}

// ClassifierConfig holds LLM classification settings
type ClassifierConfig struct {
	Name              string            `yaml:"name" json:"name"`
	Model             string            `yaml:"model" json:"model"`
	APIBase           string            `yaml:"api_base" json:"api_base"`
	APIKey            string            `yaml:"api_key" json:"api_key"`
	Temperature       float64           `yaml:"temperature" json:"temperature"`
	MaxTokens         int               `yaml:"max_tokens" json:"max_tokens"`
	Timeout           time.Duration     `yaml:"timeout" json:"timeout"`
	RequestsPerMinute int               `yaml:"requests_per_minute" json:"requests_per_minute"`
	Classes           map[string]string `yaml:"classes" json:"classes"`
}

// APIConfig holds the REST server settings
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			BaseURL:   "https://www.instagram.com",
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
		},
		Database: DatabaseConfig{
			Path: filepath.Join("data", "postvault.db"),
		},
		RateLimit: RateLimitConfig{
			Instagram: DelayConfig{
				MinDelay:       5 * time.Second,
				MaxDelay:       30 * time.Second,
				ErrorFactor:    0.5,
				JitterFraction: 0.3,
			},
			Telegram: DelayConfig{
				MinDelay:       2 * time.Second,
				MaxDelay:       30 * time.Second,
				ErrorFactor:    0.5,
				JitterFraction: 0.25,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     60 * time.Second,
			Multiplier:     2.0,
		},
		Media: MediaConfig{
			Enabled:         true,
			Directory:       filepath.Join("data", "downloads"),
			ImageTimeout:    30 * time.Second,
			DocumentTimeout: 60 * time.Second,
			SaveMetadata:    true,
		},
		Classifier: ClassifierConfig{
			Name:              "multiclass",
			Model:             "llama3.2",
			APIBase:           "http://localhost:11434/v1",
			Temperature:       0.1,
			MaxTokens:         1000,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
		},
		API: APIConfig{
			Addr: ":8974",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from POSTVAULT_* environment variables
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("POSTVAULT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("POSTVAULT_IG_USERNAME"); v != "" {
		c.Instagram.Username = v
	}
	if v := os.Getenv("POSTVAULT_IG_USER_AGENT"); v != "" {
		c.Instagram.UserAgent = v
	}
	if v := os.Getenv("POSTVAULT_IG_BASE_URL"); v != "" {
		c.Instagram.BaseURL = v
	}
	if v := os.Getenv("POSTVAULT_TG_PHONE"); v != "" {
		c.Telegram.Phone = v
	}
	if v := os.Getenv("POSTVAULT_TG_API_ID"); v != "" {
		c.Telegram.APIID = v
	}
	if v := os.Getenv("POSTVAULT_TG_API_HASH"); v != "" {
		c.Telegram.APIHash = v
	}
	if v := os.Getenv("POSTVAULT_TG_BASE_URL"); v != "" {
		c.Telegram.BaseURL = v
	}

	if v := os.Getenv("POSTVAULT_MAX_REQUESTS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			c.Instagram.MaxRequestsPerSession = n
			c.Telegram.MaxRequestsPerSession = n
		}
	}

	if v := os.Getenv("POSTVAULT_MEDIA_DIR"); v != "" {
		c.Media.Directory = v
	}
	if v := os.Getenv("POSTVAULT_MEDIA_ENABLED"); v != "" {
		c.Media.Enabled = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("POSTVAULT_CLASSIFIER"); v != "" {
		c.Classifier.Name = v
	}
	if v := os.Getenv("POSTVAULT_LLM_MODEL"); v != "" {
		c.Classifier.Model = v
	}
	if v := os.Getenv("POSTVAULT_LLM_API_BASE"); v != "" {
		c.Classifier.APIBase = v
	}
	if v := os.Getenv("POSTVAULT_LLM_API_KEY"); v != "" {
		c.Classifier.APIKey = v
	}

	if v := os.Getenv("POSTVAULT_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("POSTVAULT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("POSTVAULT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"postvault.yaml",
		"postvault.yml",
		".postvault.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "postvault", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "postvault", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".postvault.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}

	for platform, d := range map[string]DelayConfig{
		"instagram": c.RateLimit.Instagram,
		"telegram":  c.RateLimit.Telegram,
	} {
		if d.MinDelay <= 0 {
			errs = append(errs, fmt.Errorf("%s min delay must be positive", platform))
		}
		if d.MaxDelay < d.MinDelay {
			errs = append(errs, fmt.Errorf("%s max delay must not be below min delay", platform))
		}
		if d.ErrorFactor < 0 {
			errs = append(errs, fmt.Errorf("%s error factor cannot be negative", platform))
		}
		if d.JitterFraction < 0 || d.JitterFraction > 0.5 {
			errs = append(errs, fmt.Errorf("%s jitter fraction must be within [0, 0.5]", platform))
		}
	}

	if c.Instagram.MaxRequestsPerSession < 0 {
		errs = append(errs, errors.New("instagram max requests per session cannot be negative"))
	}
	if c.Telegram.MaxRequestsPerSession < 0 {
		errs = append(errs, errors.New("telegram max requests per session cannot be negative"))
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, errors.New("retry max attempts must be between 1 and 10"))
	}
	if c.Retry.InitialBackoff <= 0 {
		errs = append(errs, errors.New("retry initial backoff must be positive"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	if c.Media.Enabled {
		if c.Media.Directory == "" {
			errs = append(errs, errors.New("media directory is required when media download is enabled"))
		}
		if c.Media.ImageTimeout <= 0 || c.Media.DocumentTimeout <= 0 {
			errs = append(errs, errors.New("media timeouts must be positive"))
		}
	}

	if c.Classifier.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("classifier requests per minute must be positive"))
	}
	if c.Classifier.Timeout <= 0 {
		errs = append(errs, errors.New("classifier timeout must be positive"))
	}
	if len(c.Classifier.Classes) == 1 {
		errs = append(errs, errors.New("classifier needs at least two classes"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if db, ok := flags["db"].(string); ok && db != "" {
		c.Database.Path = db
	}
	if dir, ok := flags["media-dir"].(string); ok && dir != "" {
		c.Media.Directory = dir
	}
	if noMedia, ok := flags["no-media"].(bool); ok && noMedia {
		c.Media.Enabled = false
	}
	if maxReq, ok := flags["max-requests"].(int); ok && maxReq > 0 {
		c.Instagram.MaxRequestsPerSession = maxReq
		c.Telegram.MaxRequestsPerSession = maxReq
	}
	if name, ok := flags["classifier"].(string); ok && name != "" {
		c.Classifier.Name = name
	}
	if model, ok := flags["model"].(string); ok && model != "" {
		c.Classifier.Model = model
	}
	if apiBase, ok := flags["api-base"].(string); ok && apiBase != "" {
		c.Classifier.APIBase = apiBase
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.API.Addr = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".postvault.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
