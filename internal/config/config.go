package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" env:"JWT_SECRET"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"POSTGRES_URL"`
	} `yaml:"postgres"`
	Activity struct {
		TTL             string            `yaml:"ttl"`
		RevealDelay     string            `yaml:"revealDelay" env:"REVEAL_DELAY"`
		RetainCompleted string            `yaml:"retainCompleted"`
		IdleTimeout     string            `yaml:"idleTimeout"`
		Scoring         map[string]string `yaml:"scoring"`
	} `yaml:"activity"`
	LMSAPI struct {
		BaseURL string `yaml:"baseUrl" env:"LMS_API_URL"`
		Token   string `yaml:"token" env:"LMS_API_TOKEN"`
		Timeout string `yaml:"timeout"`
	} `yaml:"lmsApi"`
	Reporter struct {
		Retries              int    `yaml:"retries"`
		InitialBackoff       string `yaml:"initialBackoff"`
		MaxBackoff           string `yaml:"maxBackoff"`
		RedeliveryBackoff    string `yaml:"redeliveryBackoff"`
		RedeliveryMaxBackoff string `yaml:"redeliveryMaxBackoff"`
		DrainInterval        string `yaml:"drainInterval"`
		MaxAttempts          int    `yaml:"maxAttempts"`
		BatchSize            int    `yaml:"batchSize"`
	} `yaml:"reporter"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
