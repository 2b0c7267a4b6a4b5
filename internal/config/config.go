// Package config handles loading and validation of service configuration.
// Supports both development (env vars or a config file) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

const (
	defaultSessionTTL = 30 * time.Minute
	defaultRateLimit  = 10
	defaultRateBurst  = 20
	minNonceSecretLen = 16
)

// Config holds all service configuration.
// Environment determines whether store credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	StoreID    string

	// "multi" (one batch request per chunk) or "sequential" (one request per record)
	BatchStrategy string

	// Per-credential request rate (requests/second) and burst
	RateLimit float64
	RateBurst int

	// Path of the SQLite submission journal; empty disables it
	AuditDB string

	Sessions SessionConfig

	// Store-specific configuration (loaded from secrets)
	Store StoreConfig
}

// SessionConfig selects where matrix sessions live between requests.
type SessionConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// StoreConfig contains the store credentials and the keys admins use to
// reach this service. In production it is loaded from Secret Manager as JSON.
type StoreConfig struct {
	StoreURL  string `json:"store_url" yaml:"store_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`

	// Keys accepted in the Matrix-Credential header.
	AdminKeys []string `json:"admin_keys" yaml:"admin_keys"`

	// HMAC secret for nonces issued by POST /nonce.
	NonceSecret string `json:"nonce_secret" yaml:"nonce_secret"`
}

// fileConfig matches the JSON/YAML config file layout.
type fileConfig struct {
	Port          string      `json:"port" yaml:"port"`
	Environment   string      `json:"environment" yaml:"environment"`
	LogLevel      string      `json:"log_level" yaml:"log_level"`
	StoreID       string      `json:"store_id" yaml:"store_id"`
	BatchStrategy string      `json:"batch_strategy" yaml:"batch_strategy"`
	RateLimit     float64     `json:"rate_limit" yaml:"rate_limit"`
	RateBurst     int         `json:"rate_burst" yaml:"rate_burst"`
	AuditDB       string      `json:"audit_db" yaml:"audit_db"`
	Sessions      fileSession `json:"sessions" yaml:"sessions"`
	Store         StoreConfig `json:"store" yaml:"store"`
}

type fileSession struct {
	Backend       string `json:"backend" yaml:"backend"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	TTL           string `json:"ttl" yaml:"ttl"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:          envOrDefault("PORT", "8080"),
		Environment:   envOrDefault("ENVIRONMENT", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		GCPProject:    os.Getenv("GCP_PROJECT"),
		StoreID:       os.Getenv("STORE_ID"),
		BatchStrategy: os.Getenv("BATCH_STRATEGY"),
		AuditDB:       os.Getenv("AUDIT_DB"),
		Sessions: SessionConfig{
			Backend:       envOrDefault("SESSION_STORE", SessionStoreMemory),
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
		},
	}

	var err error
	if cfg.Sessions.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Sessions.TTL, err = envDuration("SESSION_TTL", defaultSessionTTL); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envFloat("RATE_LIMIT", defaultRateLimit); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = envInt("RATE_BURST", defaultRateBurst); err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.StoreID == "" {
			return nil, fmt.Errorf("STORE_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading store config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file, picked by
// extension. Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	ttl := defaultSessionTTL
	if fc.Sessions.TTL != "" {
		if ttl, err = time.ParseDuration(fc.Sessions.TTL); err != nil {
			return nil, fmt.Errorf("invalid sessions.ttl: %w", err)
		}
	}

	cfg := &Config{
		Port:          withDefault(fc.Port, "8080"),
		Environment:   withDefault(fc.Environment, "development"),
		LogLevel:      withDefault(fc.LogLevel, "info"),
		StoreID:       fc.StoreID,
		BatchStrategy: fc.BatchStrategy,
		RateLimit:     fc.RateLimit,
		RateBurst:     fc.RateBurst,
		AuditDB:       fc.AuditDB,
		Sessions: SessionConfig{
			Backend:       withDefault(fc.Sessions.Backend, SessionStoreMemory),
			RedisAddr:     fc.Sessions.RedisAddr,
			RedisPassword: fc.Sessions.RedisPassword,
			RedisDB:       fc.Sessions.RedisDB,
			TTL:           ttl,
		},
		Store: fc.Store,
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches store config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Store); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads store config from individual environment variables.
func (c *Config) loadFromEnv() {
	c.Store = StoreConfig{
		StoreURL:    os.Getenv("STORE_URL"),
		APIKey:      os.Getenv("STORE_API_KEY"),
		APISecret:   os.Getenv("STORE_API_SECRET"),
		AdminKeys:   splitList(os.Getenv("ADMIN_KEYS")),
		NonceSecret: os.Getenv("NONCE_SECRET"),
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	u, err := url.Parse(c.Store.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("invalid store_url: scheme must be http or https")
	}
	if c.Store.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.Store.APISecret == "" {
		return fmt.Errorf("api_secret is required")
	}
	if len(c.Store.AdminKeys) == 0 {
		return fmt.Errorf("at least one admin key is required")
	}
	if len(c.Store.NonceSecret) < minNonceSecretLen {
		return fmt.Errorf("nonce_secret must be at least %d characters", minNonceSecretLen)
	}

	switch c.BatchStrategy {
	case "", "multi", "sequential":
	default:
		return fmt.Errorf("invalid batch_strategy %q (multi or sequential)", c.BatchStrategy)
	}

	switch c.Sessions.Backend {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Sessions.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store %q (memory or redis)", c.Sessions.Backend)
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// splitList parses a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
