// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr  string `yaml:"listenAddr"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	Auth struct {
		Mode       string `yaml:"mode"` // dev or hmac
		HMACSecret string `yaml:"hmacSecret"`
	} `yaml:"auth"`

	Mapbox struct {
		AccessToken       string  `yaml:"accessToken"`
		BaseURL           string  `yaml:"baseUrl"`
		TimeoutSec        int     `yaml:"timeoutSec"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	} `yaml:"mapbox"`

	Optimize struct {
		Profile      string `yaml:"profile"`
		TimeLimitSec int    `yaml:"timeLimitSec"`
	} `yaml:"optimize"`
}

// Load reads .env, the YAML file at path (when non-empty), then applies
// environment overrides. Missing files are not errors; a malformed file is.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{ListenAddr: ":8080"}
	cfg.Auth.Mode = "dev"
	cfg.Optimize.Profile = "driving"
	cfg.Optimize.TimeLimitSec = 30

	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	overrideString(&cfg.ListenAddr, "LISTEN_ADDR")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisURL, "REDIS_URL")
	overrideString(&cfg.Auth.Mode, "AUTH_MODE")
	overrideString(&cfg.Auth.HMACSecret, "AUTH_HMAC_SECRET")
	overrideString(&cfg.Mapbox.AccessToken, "MAPBOX_ACCESS_TOKEN")
	overrideString(&cfg.Mapbox.BaseURL, "MAPBOX_BASE_URL")
	overrideInt(&cfg.Mapbox.TimeoutSec, "MAPBOX_TIMEOUT_SEC")
	overrideFloat(&cfg.Mapbox.RequestsPerSecond, "MAPBOX_REQUESTS_PER_SECOND")
	overrideString(&cfg.Optimize.Profile, "OPTIMIZE_PROFILE")
	overrideInt(&cfg.Optimize.TimeLimitSec, "OPTIMIZE_TIME_LIMIT_SEC")

	return cfg, nil
}

// SolveTimeLimit is the configured solver budget as a duration.
func (c Config) SolveTimeLimit() time.Duration {
	return time.Duration(c.Optimize.TimeLimitSec) * time.Second
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
