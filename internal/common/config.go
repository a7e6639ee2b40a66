package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env    string
	Server ServerConfig
	Store  StoreConfig
	Bus    BusConfig
	Log    LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig holds document store configuration
type StoreConfig struct {
	Path     string
	InMemory bool
}

// BusConfig holds event bus configuration
type BusConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	RetryDelay     time.Duration
	HandlerTimeout time.Duration
	SigningKey     string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// LoadConfig loads configuration from a .env file (if present) and
// environment variables.
func LoadConfig() *Config {
	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Addr:         getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Path:     getEnv("STORE_PATH", "./data/receipts"),
			InMemory: getEnvAsBool("STORE_IN_MEMORY", false),
		},
		Bus: BusConfig{
			Workers:        getEnvAsInt("BUS_WORKERS", 4),
			QueueSize:      getEnvAsInt("BUS_QUEUE_SIZE", 256),
			MaxAttempts:    getEnvAsInt("BUS_MAX_ATTEMPTS", 3),
			RetryDelay:     getEnvAsDuration("BUS_RETRY_DELAY", 200*time.Millisecond),
			HandlerTimeout: getEnvAsDuration("BUS_HANDLER_TIMEOUT", 30*time.Second),
			SigningKey:     getEnv("BUS_SIGNING_KEY", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. The bus signing key is only
// mandatory in production; dev environments run unsigned.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return NewAppError("CONFIG_ERROR", "STORE_PATH is required", ErrInvalidInput)
	}
	if c.Env == "production" && c.Bus.SigningKey == "" {
		return NewAppError("CONFIG_ERROR", "BUS_SIGNING_KEY is required in production", ErrInvalidInput)
	}
	return nil
}
