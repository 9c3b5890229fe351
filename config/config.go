// config/config.go

// Package config loads the storefront's settings from the environment.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Baiano-Indiano/tech-gamer-ecommerce-sub001/money"
)

// Config holds all service configuration.
type Config struct {
	ListenAddr string
	Port       string
	HealthPort string
	BaseURL    string

	// RedisAddr selects Redis storage; empty means in-memory storage.
	RedisAddr     string
	StoragePrefix string

	// CatalogFile replaces the bundled catalog when set.
	CatalogFile string

	Shipping money.Amount

	// MaxSessions bounds the sessions kept in memory; SessionIdleTimeout
	// drops sessions unused for that long (0 disables).
	MaxSessions        int
	SessionIdleTimeout time.Duration

	EnableTracing bool
	// TraceExporter is "otlp" or "stdout".
	TraceExporter string
	EnableMetrics bool
	OTLPEndpoint  string

	LogLevel logrus.Level
}

// environment is the raw form read by envconfig before validation.
type environment struct {
	ListenAddr    string        `envconfig:"LISTEN_ADDR"`
	Port          string        `envconfig:"PORT" default:"8080"`
	HealthPort    string        `envconfig:"HEALTH_PORT" default:"7070"`
	BaseURL       string        `envconfig:"BASE_URL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	StoragePrefix string        `envconfig:"STORAGE_PREFIX" default:"storefront:"`
	CatalogFile   string        `envconfig:"CATALOG_FILE"`
	ShippingFlat  string        `envconfig:"SHIPPING_FLAT" default:"15.00"`
	MaxSessions   int           `envconfig:"MAX_SESSIONS" default:"10000"`
	IdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	EnableTracing string        `envconfig:"ENABLE_TRACING"`
	TraceExporter string        `envconfig:"TRACE_EXPORTER" default:"otlp"`
	EnableMetrics string        `envconfig:"ENABLE_METRICS"`
	OTLPEndpoint  string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the environment. Unset variables take their defaults.
func Load() (*Config, error) {
	var env environment
	if err := envconfig.Process("", &env); err != nil {
		return nil, errors.Wrap(err, "reading environment")
	}
	return env.config()
}

func (env environment) config() (*Config, error) {
	cfg := &Config{
		ListenAddr:    env.ListenAddr,
		Port:          strings.TrimSpace(env.Port),
		HealthPort:    strings.TrimSpace(env.HealthPort),
		BaseURL:       strings.TrimSuffix(env.BaseURL, "/"),
		RedisAddr:     strings.TrimSpace(env.RedisAddr),
		StoragePrefix: env.StoragePrefix,
		CatalogFile:   env.CatalogFile,
		MaxSessions:   env.MaxSessions,
		EnableTracing: env.EnableTracing == "1",
		TraceExporter: env.TraceExporter,
		EnableMetrics: env.EnableMetrics == "1",
		OTLPEndpoint:  env.OTLPEndpoint,
	}

	// plain host names get the default Redis port
	if cfg.RedisAddr != "" && !strings.Contains(cfg.RedisAddr, ":") {
		cfg.RedisAddr += ":6379"
	}

	shipping, err := money.ParseReais(env.ShippingFlat)
	if err != nil {
		return nil, errors.Wrap(err, "SHIPPING_FLAT")
	}
	if shipping < 0 {
		return nil, errors.Errorf("SHIPPING_FLAT must not be negative, got %s", shipping)
	}
	cfg.Shipping = shipping

	if cfg.MaxSessions < 1 {
		return nil, errors.Errorf("MAX_SESSIONS must be positive, got %d", cfg.MaxSessions)
	}
	if env.IdleTimeout < 0 {
		return nil, errors.Errorf("SESSION_IDLE_TIMEOUT must not be negative, got %s", env.IdleTimeout)
	}
	cfg.SessionIdleTimeout = env.IdleTimeout

	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "LOG_LEVEL")
	}
	cfg.LogLevel = level

	if cfg.TraceExporter != "otlp" && cfg.TraceExporter != "stdout" {
		return nil, errors.Errorf("TRACE_EXPORTER must be otlp or stdout, got %q", cfg.TraceExporter)
	}

	for name, port := range map[string]string{"PORT": cfg.Port, "HEALTH_PORT": cfg.HealthPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return nil, errors.Errorf("%s must be a port number, got %q", name, port)
		}
	}
	if cfg.Port == cfg.HealthPort {
		return nil, errors.Errorf("PORT and HEALTH_PORT must differ, both are %s", cfg.Port)
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.ListenAddr + ":" + c.Port
}

// HealthAddr is the gRPC health listen address.
func (c *Config) HealthAddr() string {
	return c.ListenAddr + ":" + c.HealthPort
}
