package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment is the deployment environment the service runs in
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvProd    Environment = "prod"
	EnvTest    Environment = "test"
	EnvStaging Environment = "staging"
)

// Config holds all application configuration
type Config struct {
	Env         Environment
	Port        int
	ServiceName string
	Database    DatabaseConfig
	Redis       RedisConfig
	RabbitMQ    RabbitMQConfig
	GP          GatewayConfig
	Robi        GatewayConfig
	Logger      LoggerConfig
}

// DatabaseConfig holds PostgreSQL pool configuration
type DatabaseConfig struct {
	URL             string
	ConnectionLimit int
	PoolTimeout     time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds the list/KV store configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RabbitMQConfig holds the notification broker configuration
type RabbitMQConfig struct {
	Host string
	Port int
	User string
	Pass string
}

// GatewayConfig holds one carrier gateway's connection settings
type GatewayConfig struct {
	BaseURL       string
	BasicAuthUser string
	BasicAuthPass string
	Timeout       time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level string
}

// URL builds the AMQP connection URL
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Pass, c.Host, c.Port)
}

// Addr builds the Redis host:port address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadFromEnv loads configuration from environment variables.
// Invalid or missing required values abort startup.
func LoadFromEnv() (*Config, error) {
	var r envReader
	cfg := &Config{
		// NODE_ENV is the canonical name; APP_ENV is accepted for manifests
		// that already use it.
		Env:         Environment(getEnv("NODE_ENV", getEnv("APP_ENV", "dev"))),
		Port:        r.asInt("PORT", 3000),
		ServiceName: getEnv("SERVICE_NAME", "renewal-service"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			ConnectionLimit: r.asInt("DB_CONNECTION_LIMIT", 20),
			PoolTimeout:     r.asSeconds("DB_POOL_TIMEOUT", 10*time.Second),
			ConnectTimeout:  r.asSeconds("DB_CONNECT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     r.asInt("REDIS_PORT", 6379),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       r.asInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host: getEnv("RMQ_HOST", "localhost"),
			Port: r.asInt("RMQ_PORT", 5672),
			User: getEnv("RMQ_USER", "guest"),
			Pass: getEnv("RMQ_PASS", "guest"),
		},
		GP: GatewayConfig{
			BaseURL:       os.Getenv("GP_BASE_URL"),
			BasicAuthUser: os.Getenv("GP_BASIC_AUTH_USER"),
			BasicAuthPass: os.Getenv("GP_BASIC_AUTH_PASS"),
			Timeout:       r.asSeconds("GP_TIMEOUT", 5*time.Second),
		},
		Robi: GatewayConfig{
			BaseURL: os.Getenv("ROBI_BASE_URL"),
			Timeout: r.asSeconds("ROBI_TIMEOUT", 5*time.Second),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
	if r.err != nil {
		return nil, r.err
	}

	// Validate required fields
	switch cfg.Env {
	case EnvDev, EnvProd, EnvTest, EnvStaging:
	default:
		return nil, fmt.Errorf("NODE_ENV must be one of dev|prod|test|staging, got %q", cfg.Env)
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("PORT must be a positive integer")
	}
	if !strings.HasPrefix(cfg.Database.URL, "postgres://") {
		return nil, fmt.Errorf("DATABASE_URL must start with postgres://")
	}
	if cfg.Database.ConnectionLimit <= 0 {
		return nil, fmt.Errorf("DB_CONNECTION_LIMIT must be a positive integer")
	}
	if cfg.GP.BaseURL == "" {
		return nil, fmt.Errorf("GP_BASE_URL is required")
	}
	if cfg.GP.BasicAuthUser == "" || cfg.GP.BasicAuthPass == "" {
		return nil, fmt.Errorf("GP_BASIC_AUTH_USER and GP_BASIC_AUTH_PASS are required")
	}
	if cfg.Robi.BaseURL == "" {
		return nil, fmt.Errorf("ROBI_BASE_URL is required")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader reads typed environment values and records the first malformed
// one so LoadFromEnv aborts instead of silently running on defaults.
type envReader struct {
	err error
}

func (r *envReader) asInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s must be an integer, got %q", key, valueStr)
		}
		return defaultValue
	}
	return value
}

// asSeconds reads an integer number of seconds
func (r *envReader) asSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s must be an integer number of seconds, got %q", key, valueStr)
		}
		return defaultValue
	}
	return time.Duration(value) * time.Second
}
