package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Leaderboard bus backends.
const (
	BusNone     = ""
	BusRedis    = "redis"
	BusRabbitMQ = "rabbitmq"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Leaderboard struct {
		QueueSize int    `yaml:"queue_size"`
		Bus       string `yaml:"bus"`
		Channel   string `yaml:"channel"`
	} `yaml:"leaderboard"`
}

// Load reads YAML config from path. JWT_SECRET overrides auth.jwt_secret.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	cfg.Leaderboard.Bus = strings.ToLower(strings.TrimSpace(cfg.Leaderboard.Bus))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Leaderboard.Bus {
	case BusNone:
	case BusRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("leaderboard bus %q requires redis.addr", c.Leaderboard.Bus)
		}
	case BusRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("leaderboard bus %q requires rabbitmq.url", c.Leaderboard.Bus)
		}
	default:
		return fmt.Errorf("unknown leaderboard bus %q", c.Leaderboard.Bus)
	}
	if c.Leaderboard.QueueSize < 0 {
		return fmt.Errorf("leaderboard.queue_size must not be negative")
	}
	return nil
}

// RequireAuth fails when no signing secret is configured. Commands that issue
// or verify tokens call it; migrate and seed do not need one.
func (c Config) RequireAuth() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret (or JWT_SECRET) must be set")
	}
	return nil
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
