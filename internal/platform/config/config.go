package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: CONSENT_HTTP_ADDR overrides
// http.addr.
const EnvPrefix = "CONSENT"

// DevJWTSigningKey is the signing key used when none is configured. It is
// only fit for local development.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// Storage backends for the browsing-context slot.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config is the root configuration of the consent service and CLI.
type Config struct {
	Consent  Consent  `mapstructure:"consent"`
	HTTP     HTTP     `mapstructure:"http"`
	Storage  Storage  `mapstructure:"storage"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Auth     Auth     `mapstructure:"auth"`
	Remote   Remote   `mapstructure:"remote"`
	Cleanup  Cleanup  `mapstructure:"cleanup"`
	Log      Log      `mapstructure:"log"`
	// Scripts is the provider catalog. Empty uses the built-in catalog.
	Scripts []Script `mapstructure:"scripts"`
}

// Script is one consent-gated third-party script.
type Script struct {
	ID       string `mapstructure:"id"`
	Category string `mapstructure:"category"`
	Src      string `mapstructure:"src"`
	Async    bool   `mapstructure:"async"`
}

// Consent holds the policy knobs.
type Consent struct {
	Namespace string        `mapstructure:"namespace"`
	Version   string        `mapstructure:"version"`
	Retention time.Duration `mapstructure:"retention"`
}

// HTTP captures HTTP server level configuration.
type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	StreamBuffer    int           `mapstructure:"stream_buffer"`
}

// Storage selects where browsing-context records live.
type Storage struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// Database configures the server-side user consent store. An empty URL
// keeps user consent in memory.
type Database struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Redis configures the redis slot.
type Redis struct {
	URL string `mapstructure:"url"`
}

// Kafka configures event forwarding. No brokers disables it.
type Kafka struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	Acks    string `mapstructure:"acks"`
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

// Remote points signed-in sync at another consent service. An empty URL
// syncs in process.
type Remote struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Cleanup schedules the stale user consent sweep.
type Cleanup struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// Log sets the log level.
type Log struct {
	Level string `mapstructure:"level"`
}

// Load reads config.yaml (from the working directory, ./configs, or the
// explicit path) and applies CONSENT_* environment overrides on top of the
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("consent.namespace", "lipo")
	v.SetDefault("consent.version", "1")
	v.SetDefault("consent.retention", 90*24*time.Hour)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 0)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.stream_buffer", 16)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.dir", ".consent")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "consent.changed")
	v.SetDefault("kafka.acks", "all")

	v.SetDefault("auth.jwt_signing_key", DevJWTSigningKey)
	v.SetDefault("auth.issuer", "lipo")
	v.SetDefault("auth.audience", "lipo-consent")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 5*time.Second)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.schedule", "@every 1h")

	v.SetDefault("log.level", "info")
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	if c.Consent.Namespace == "" {
		return errors.New("consent.namespace is required")
	}
	if c.Consent.Version == "" {
		return errors.New("consent.version is required")
	}
	if c.Consent.Retention <= 0 {
		return errors.New("consent.retention must be positive")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for the file backend")
		}
	case StorageRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Auth.JWTSigningKey == "" {
		return errors.New("auth.jwt_signing_key is required")
	}
	return nil
}

// UsesDevSigningKey reports whether tokens are signed with the built-in
// development key.
func (c *Config) UsesDevSigningKey() bool {
	return c.Auth.JWTSigningKey == DevJWTSigningKey
}
