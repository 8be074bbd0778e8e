package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "PaperLogin"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultStoreBackend      = BackendRedis
	defaultStoreTimeout      = 2 * time.Second
	defaultLoginCodeLength   = 9
	defaultLoginCodeValidity = 300 * time.Second
	defaultWebCodeLength     = 8
	defaultWebCodeValidity   = 600 * time.Second
	defaultCodeMaxAttempts   = 5
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultSweepInterval     = 30 * time.Second

	// CodePlaceholder marks where the login code goes in WEBSITE_URL.
	CodePlaceholder = "{code}"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName      string
	AppEnv       string
	Port         string
	LogLevel     string
	StoreBackend string
	DatabaseURL  string
	RedisURL     string
	KeyPrefix    string
	StoreTimeout time.Duration

	LoginCodeLength   int
	LoginCodeValidity time.Duration
	WebCodeLength     int
	WebCodeValidity   time.Duration
	WebsiteURL        string
	CodeMaxAttempts   int

	ServiceTokenSecret string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	SweepInterval      time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", defaultStoreBackend)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KeyPrefix:          os.Getenv("KEY_PREFIX"),
		WebsiteURL:         os.Getenv("WEBSITE_URL"),
		ServiceTokenSecret: os.Getenv("SERVICE_TOKEN_SECRET"),
	}

	var err error
	if cfg.StoreTimeout, err = durationEnv("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LoginCodeValidity, err = durationEnv("LOGIN_CODE_VALIDITY", defaultLoginCodeValidity); err != nil {
		return Config{}, err
	}
	if cfg.WebCodeValidity, err = durationEnv("WEB_CODE_VALIDITY", defaultWebCodeValidity); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.LoginCodeLength, err = intEnv("LOGIN_CODE_LENGTH", defaultLoginCodeLength); err != nil {
		return Config{}, err
	}
	if cfg.WebCodeLength, err = intEnv("WEB_CODE_LENGTH", defaultWebCodeLength); err != nil {
		return Config{}, err
	}
	if cfg.CodeMaxAttempts, err = intEnv("CODE_MAX_ATTEMPTS", defaultCodeMaxAttempts); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded values are usable together.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_BACKEND=%s is only allowed in development, APP_ENV=%s", c.StoreBackend, c.AppEnv)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.LoginCodeLength <= 0 {
		return fmt.Errorf("LOGIN_CODE_LENGTH must be positive, got %d", c.LoginCodeLength)
	}
	if c.WebCodeLength <= 0 {
		return fmt.Errorf("WEB_CODE_LENGTH must be positive, got %d", c.WebCodeLength)
	}
	if c.LoginCodeValidity <= 0 {
		return fmt.Errorf("LOGIN_CODE_VALIDITY must be positive, got %s", c.LoginCodeValidity)
	}
	if c.WebCodeValidity <= 0 {
		return fmt.Errorf("WEB_CODE_VALIDITY must be positive, got %s", c.WebCodeValidity)
	}
	if c.CodeMaxAttempts <= 0 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be positive, got %d", c.CodeMaxAttempts)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.WebsiteURL != "" && !strings.Contains(c.WebsiteURL, CodePlaceholder) {
		return fmt.Errorf("WEBSITE_URL must contain %s", CodePlaceholder)
	}
	if c.ServiceTokenSecret == "" && !c.IsDev() {
		return fmt.Errorf("SERVICE_TOKEN_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads key_SECONDS as whole seconds, falling back to key as a
// Go duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
