package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	domaincfg "graphkb-backend/domain/config"
)

// Config holds all runtime configuration
type Config struct {
	// Runtime
	Environment string
	LogLevel    string

	// Graph persistence
	GraphFilePath string
	GraphName     string

	// Schema
	SchemaFilePath string
	WatchSchema    bool

	// Observability
	EnableMetrics   bool
	MetricsAddress  string
	EnableTracing   bool
	TracingEndpoint string
	TraceSampleRate float64

	// Subscriptions
	CacheRefreshSeconds int

	// Delivery
	DeliveryMaxAttempts    int
	DeliveryTimeoutSeconds int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		GraphFilePath: getEnv("GRAPH_FILE", "data/graph.json"),
		GraphName:     getEnv("GRAPH_NAME", "knowledge-graph"),

		SchemaFilePath: getEnv("SCHEMA_FILE", ""),
		WatchSchema:    getEnvBool("WATCH_SCHEMA", true),

		EnableMetrics:   getEnvBool("ENABLE_METRICS", true),
		MetricsAddress:  getEnv("METRICS_ADDRESS", ":9102"),
		EnableTracing:   getEnvBool("ENABLE_TRACING", false),
		TracingEndpoint: getEnv("OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 0),

		CacheRefreshSeconds: getEnvInt("SUBSCRIPTION_REFRESH_SECONDS", 30),

		DeliveryMaxAttempts:    getEnvInt("DELIVERY_MAX_ATTEMPTS", 3),
		DeliveryTimeoutSeconds: getEnvInt("DELIVERY_TIMEOUT_SECONDS", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.GraphFilePath == "" {
		return fmt.Errorf("GRAPH_FILE is required")
	}
	if c.DeliveryMaxAttempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Environment == "production" && c.SchemaFilePath == "" {
		return fmt.Errorf("SCHEMA_FILE is required in production")
	}
	return nil
}

// DomainConfig maps the runtime configuration onto the domain defaults
func (c *Config) DomainConfig() *domaincfg.DomainConfig {
	dc := domaincfg.DefaultDomainConfig()
	dc.GraphName = c.GraphName
	dc.CacheRefreshInterval = time.Duration(c.CacheRefreshSeconds) * time.Second
	dc.DeliveryMaxAttempts = c.DeliveryMaxAttempts
	dc.DeliveryTimeout = time.Duration(c.DeliveryTimeoutSeconds) * time.Second
	return dc
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
