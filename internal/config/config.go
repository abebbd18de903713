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

	"github.com/kjstillabower/weather-collector/internal/validation"
)

// DefaultCities is the tracked city list when the config file names none.
var DefaultCities = []string{
	"New York",
	"Los Angeles",
	"Chicago",
	"Houston",
	"Phoenix",
	"London",
	"Tokyo",
	"Paris",
}

const (
	defaultAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	defaultRegion = "us-east-1"
	cityMaxLength = 100
)

// ConfigError reports missing or invalid configuration. It is raised before
// any network call is made.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config holds collector configuration loaded from .env, YAML and env.
type Config struct {
	WeatherAPIKey      string
	WeatherAPIURL      string
	WeatherAPITimeout  time.Duration
	RateLimitPerMinute int // 0 disables the outbound limiter

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	S3Bucket           string
	S3Endpoint         string
	S3Prefix           string

	LocalBackup    bool
	LocalBackupDir string

	PushgatewayURL string
	PushJob        string

	Cities []string
}

type fileConfig struct {
	Cities []string `yaml:"cities"`

	WeatherAPI struct {
		URL                string `yaml:"url"`
		Timeout            string `yaml:"timeout"`
		RateLimitPerMinute *int   `yaml:"rate_limit_per_minute"`
	} `yaml:"weather_api"`

	Storage struct {
		Prefix      string `yaml:"prefix"`
		LocalBackup *bool  `yaml:"local_backup"`
		LocalDir    string `yaml:"local_dir"`
	} `yaml:"storage"`

	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
	} `yaml:"metrics"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev, optional),
// then required credentials from the environment. Real environment variables
// win over .env. Call from project root.
func Load() (*Config, error) {
	return load(true)
}

// LoadStorage is Load without the weather API key requirement, for commands
// that only touch the bucket.
func LoadStorage() (*Config, error) {
	return load(false)
}

func load(needWeatherKey bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Err: fmt.Errorf("load .env: %w", err)}
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("get working directory: %w", err)}
	}
	fc, err := readFileConfig(filepath.Join(cwd, "config", env+".yaml"))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	cfg := &Config{
		WeatherAPIKey:      strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY")),
		AWSAccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		AWSSecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
		AWSRegion:          strings.TrimSpace(os.Getenv("AWS_REGION")),
		S3Bucket:           strings.TrimSpace(os.Getenv("S3_BUCKET_NAME")),
		S3Endpoint:         strings.TrimSpace(os.Getenv("S3_ENDPOINT_URL")),
	}

	var missing []string
	for _, kv := range []struct{ name, value string }{
		{"OPENWEATHER_API_KEY", cfg.WeatherAPIKey},
		{"AWS_ACCESS_KEY_ID", cfg.AWSAccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", cfg.AWSSecretAccessKey},
		{"S3_BUCKET_NAME", cfg.S3Bucket},
	} {
		if kv.value == "" && (needWeatherKey || kv.name != "OPENWEATHER_API_KEY") {
			missing = append(missing, kv.name)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = defaultRegion
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = defaultAPIURL
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RateLimitPerMinute = 60
	if fc.WeatherAPI.RateLimitPerMinute != nil {
		cfg.RateLimitPerMinute = *fc.WeatherAPI.RateLimitPerMinute
	}

	cfg.S3Prefix = strings.TrimSpace(fc.Storage.Prefix)
	cfg.LocalBackup = true
	if fc.Storage.LocalBackup != nil {
		cfg.LocalBackup = *fc.Storage.LocalBackup
	}
	cfg.LocalBackupDir = strings.TrimSpace(fc.Storage.LocalDir)
	if cfg.LocalBackupDir == "" {
		cfg.LocalBackupDir = "."
	}

	cfg.PushgatewayURL = strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))
	if cfg.PushgatewayURL == "" {
		cfg.PushgatewayURL = strings.TrimSpace(fc.Metrics.PushgatewayURL)
	}
	cfg.PushJob = strings.TrimSpace(fc.Metrics.Job)

	cfg.Cities = fc.Cities
	if len(cfg.Cities) == 0 {
		cfg.Cities = append([]string(nil), DefaultCities...)
	}

	if err := validate(cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

// readFileConfig parses the YAML file at path. A missing file yields the
// zero fileConfig so defaults apply.
func readFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// SetCities replaces the city list, validating each entry.
func (c *Config) SetCities(cities []string) error {
	prev := c.Cities
	c.Cities = cities
	if err := validateCities(c); err != nil {
		c.Cities = prev
		return &ConfigError{Err: err}
	}
	return nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("weather_api.rate_limit_per_minute must not be negative, got %d", cfg.RateLimitPerMinute)
	}
	return validateCities(cfg)
}

// validateCities trims every city, rejects invalid names and duplicates
// (case-insensitive), and keeps the configured order.
func validateCities(cfg *Config) error {
	if len(cfg.Cities) == 0 {
		return fmt.Errorf("at least one city is required")
	}
	seen := make(map[string]struct{}, len(cfg.Cities))
	out := make([]string, 0, len(cfg.Cities))
	for i, c := range cfg.Cities {
		city, err := validation.ValidateCity(c, 1, cityMaxLength)
		if err != nil {
			return fmt.Errorf("cities[%d] %q: %w", i, c, err)
		}
		key := strings.ToLower(city)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("cities[%d] %q: duplicate city", i, c)
		}
		seen[key] = struct{}{}
		out = append(out, city)
	}
	cfg.Cities = out
	return nil
}
