package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const devJWTSecret = "dev-jwt-secret-change-in-production"

// Config is the process configuration. Values come from defaults, then an
// optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	AppEnv      string `yaml:"app_env"`
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	JWTSecret          string `yaml:"jwt_secret_key"`
	JWTIssuer          string `yaml:"jwt_issuer"`
	AccessTokenSeconds int    `yaml:"jwt_expire_seconds"`
	StreamTokenSeconds int    `yaml:"stream_token_expire_seconds"`
	SessionSeconds     int    `yaml:"session_expire_seconds"`
	MaxConcurrentUsers int    `yaml:"max_concurrent_users"`

	MediaRoot          string   `yaml:"media_root"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	LoginRatePerMinute int      `yaml:"login_rate_per_minute"`
	TrustedProxies     []string `yaml:"trusted_proxies"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func DefaultConfig() Config {
	return Config{
		AppEnv:             "development",
		HTTPAddr:           ":8000",
		DatabaseURL:        "postgres://localhost:5432/audio_drama?sslmode=disable",
		RedisURL:           "redis://localhost:6379/0",
		JWTSecret:          devJWTSecret,
		JWTIssuer:          "audio-drama",
		AccessTokenSeconds: 1800,
		StreamTokenSeconds: 600,
		SessionSeconds:     1800,
		MaxConcurrentUsers: 10,
		LoginRatePerMinute: 10,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig builds the configuration and validates it.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.AppEnv, "APP_ENV")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.JWTSecret, "JWT_SECRET_KEY")
	setString(&c.JWTIssuer, "JWT_ISSUER")
	setString(&c.MediaRoot, "MEDIA_ROOT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")

	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		c.TrustedProxies = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"JWT_EXPIRE_SECONDS", &c.AccessTokenSeconds},
		{"STREAM_TOKEN_EXPIRE_SECONDS", &c.StreamTokenSeconds},
		{"SESSION_EXPIRE_SECONDS", &c.SessionSeconds},
		{"MAX_CONCURRENT_USERS", &c.MaxConcurrentUsers},
		{"LOGIN_RATE_PER_MINUTE", &c.LoginRatePerMinute},
	}
	for _, it := range ints {
		if err := setInt(it.dst, it.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr cannot be empty")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret_key cannot be empty")
	}
	if c.IsProduction() && c.JWTSecret == devJWTSecret {
		return fmt.Errorf("jwt_secret_key must be set in production")
	}
	if c.AccessTokenSeconds <= 0 {
		return fmt.Errorf("jwt_expire_seconds must be positive, got %d", c.AccessTokenSeconds)
	}
	if c.StreamTokenSeconds <= 0 {
		return fmt.Errorf("stream_token_expire_seconds must be positive, got %d", c.StreamTokenSeconds)
	}
	if c.SessionSeconds <= 0 {
		return fmt.Errorf("session_expire_seconds must be positive, got %d", c.SessionSeconds)
	}
	if c.MaxConcurrentUsers < 1 {
		return fmt.Errorf("max_concurrent_users must be at least 1, got %d", c.MaxConcurrentUsers)
	}
	if c.LoginRatePerMinute < 1 {
		return fmt.Errorf("login_rate_per_minute must be at least 1, got %d", c.LoginRatePerMinute)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	return nil
}

// Proxies parses TrustedProxies. Without entries no forwarding header is
// believed and clients are identified by their socket address.
func (c *Config) Proxies() (TrustedProxies, error) {
	return ParseTrustedProxies(c.TrustedProxies)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenSeconds) * time.Second
}

func (c *Config) StreamTTL() time.Duration {
	return time.Duration(c.StreamTokenSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
