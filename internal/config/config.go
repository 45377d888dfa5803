package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all memberhub settings. Values come from an optional YAML
// file and are then overridden by environment variables.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Log         LogConfig         `yaml:"log"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	StaticDir    string        `yaml:"static_dir"`
	TLSCert      string        `yaml:"tls_cert"`
	TLSKey       string        `yaml:"tls_key"`
	// TrustProxy enables X-Forwarded-For for client IP detection.
	TrustProxy bool `yaml:"trust_proxy"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig is optional; an empty Addr selects in-memory rate limiting
// and caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	SessionKey    string        `yaml:"session_key"`
	JWTSecret     string        `yaml:"jwt_secret"`
	MasterKeyHex  string        `yaml:"master_key_hex"`
	MasterKeyFile string        `yaml:"master_key_file"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	MFATTL        time.Duration `yaml:"mfa_ttl"`
	SessionMaxAge time.Duration `yaml:"session_max_age"`
	SecureCookies bool          `yaml:"secure_cookies"`
}

type RateLimitConfig struct {
	LoginPerWindow int           `yaml:"login_per_minute"`
	Window         time.Duration `yaml:"window"`
}

type LeaderboardConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every optional field filled in.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			StaticDir:    "public",
		},
		Database: DatabaseConfig{MaxConns: 10},
		Auth: AuthConfig{
			MasterKeyFile: "master.key",
			Issuer:        "memberhub",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			MFATTL:        5 * time.Minute,
			SessionMaxAge: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			LoginPerWindow: 10,
			Window:         time.Minute,
		},
		Leaderboard: LeaderboardConfig{CacheTTL: time.Minute},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty and present), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Maintenance commands use it since they
// only need a subset of the settings.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.StaticDir, "STATIC_DIR")
	setString(&c.HTTP.TLSCert, "TLS_CERT")
	setString(&c.HTTP.TLSKey, "TLS_KEY")
	setBool(&c.HTTP.TrustProxy, "TRUST_PROXY")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.SessionKey, "SESSION_KEY")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.MasterKeyHex, "MASTER_KEY_HEX")
	setBool(&c.Auth.SecureCookies, "SECURE_COOKIES")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	if len(c.Auth.SessionKey) < 32 {
		errs = append(errs, errors.New("auth.session_key (SESSION_KEY) must be at least 32 bytes"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.MFATTL <= 0 {
		errs = append(errs, errors.New("auth token TTLs must be positive"))
	}
	if c.RateLimit.LoginPerWindow <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit values must be positive"))
	}
	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		errs = append(errs, errors.New("http.tls_cert and http.tls_key must be set together"))
	}
	return errors.Join(errs...)
}
