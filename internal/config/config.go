package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const ConfigFileName = "dashgate.yaml"

// DefaultSDKURL is where the Superset embedded SDK bundle is fetched from
const DefaultSDKURL = "https://unpkg.com/@superset-ui/embedded-sdk/bundle/index.js"

// Config holds all configuration for the application
type Config struct {
	API      APIConfig      `yaml:"api"`
	Superset SupersetConfig `yaml:"superset"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig holds the backend API configuration
type APIConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Timeout of zero means requests are not time-limited
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SupersetConfig holds the embedding target
type SupersetConfig struct {
	URL              string        `yaml:"url" validate:"required,url"`
	DashboardID      string        `yaml:"dashboard_id" validate:"required"`
	SDKURL           string        `yaml:"sdk_url" validate:"omitempty,url"`
	HideTitle        bool          `yaml:"hide_title"`
	FullUserFallback string        `yaml:"full_user_fallback"`
	EmbedDelay       time.Duration `yaml:"embed_delay" validate:"gte=0"`
}

// ServerConfig holds the local host server configuration
type ServerConfig struct {
	Address   string `yaml:"address" validate:"required,hostname_port"`
	PublicURL string `yaml:"public_url" validate:"required,url"`
}

// SessionConfig selects where the session record is persisted
type SessionConfig struct {
	Backend      string        `yaml:"backend" validate:"oneof=file keyring sqlite redis memory"`
	Path         string        `yaml:"path"`
	RedisAddress string        `yaml:"redis_address" validate:"required_if=Backend redis"`
	RedisKey     string        `yaml:"redis_key"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"` // json, console
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Superset: SupersetConfig{
			URL:       "http://localhost:8088",
			SDKURL:    DefaultSDKURL,
			HideTitle: true,
		},
		Server: ServerConfig{
			Address:   "127.0.0.1:3000",
			PublicURL: "http://localhost:3000",
		},
		Session: SessionConfig{
			Backend:      "file",
			PollInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from .env files, dashgate.yaml and environment variables.
// Later sources override earlier ones.
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := Default()

	path, err := FindConfigFile()
	if err == nil {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults, the given yaml file and the environment, without .env files
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for dashgate.yaml in current directory and parent directories
func FindConfigFile() (string, error) {
	if path := os.Getenv("DASHGATE_CONFIG"); path != "" {
		return path, nil
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	dir := currentDir
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("%s not found in %s or any parent directory: %w", ConfigFileName, currentDir, os.ErrNotExist)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg from the environment. The unprefixed and VITE_ names are
// the ones the dashboard deployment already uses.
func applyEnv(cfg *Config) error {
	setString(&cfg.API.BaseURL, "DASHGATE_API_BASE_URL", "API_BASE_URL", "VITE_API_BASE_URL")
	setString(&cfg.Superset.URL, "DASHGATE_SUPERSET_URL", "SUPERSET_URL", "VITE_SUPERSET_URL")
	setString(&cfg.Superset.DashboardID, "DASHGATE_SUPERSET_DASHBOARD_ID", "SUPERSET_DASHBOARD_ID", "VITE_SUPERSET_DASHBOARD_ID")
	setString(&cfg.Superset.SDKURL, "DASHGATE_SUPERSET_SDK_URL")
	setString(&cfg.Superset.FullUserFallback, "DASHGATE_FULL_USER_FALLBACK")
	setString(&cfg.Server.Address, "DASHGATE_ADDRESS")
	setString(&cfg.Server.PublicURL, "DASHGATE_PUBLIC_URL")
	setString(&cfg.Session.Backend, "DASHGATE_SESSION_BACKEND")
	setString(&cfg.Session.Path, "DASHGATE_SESSION_PATH")
	setString(&cfg.Session.RedisAddress, "DASHGATE_REDIS_ADDRESS", "REDIS_ADDRESS")
	setString(&cfg.Session.RedisKey, "DASHGATE_REDIS_KEY")
	setString(&cfg.Logging.Level, "DASHGATE_LOG_LEVEL", "LOG_LEVEL")
	setString(&cfg.Logging.Format, "DASHGATE_LOG_FORMAT", "LOG_FORMAT")

	if err := setBool(&cfg.Superset.HideTitle, "DASHGATE_HIDE_TITLE"); err != nil {
		return err
	}
	for _, d := range []struct {
		target *time.Duration
		key    string
	}{
		{&cfg.API.Timeout, "DASHGATE_API_TIMEOUT"},
		{&cfg.Superset.EmbedDelay, "DASHGATE_EMBED_DELAY"},
		{&cfg.Session.PollInterval, "DASHGATE_SESSION_POLL_INTERVAL"},
	} {
		if err := setDuration(d.target, d.key); err != nil {
			return err
		}
	}
	return nil
}

// setString assigns the first non-empty variable among keys
func setString(target *string, keys ...string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
			return
		}
	}
}

func setBool(target *bool, key string) error {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
	case "1", "true", "yes", "on":
		*target = true
	case "0", "false", "no", "off":
		*target = false
	default:
		return fmt.Errorf("invalid boolean for %s: %q", key, v)
	}
	return nil
}

func setDuration(target *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*target = d
	return nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	c.Superset.URL = strings.TrimRight(c.Superset.URL, "/")

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
