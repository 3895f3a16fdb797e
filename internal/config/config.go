package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server      ServerConfig
	Dispatch    DispatchConfig
	Admission   AdmissionConfig
	Reservation ReservationConfig
	Worker      WorkerConfig
	DB          DatabaseConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	RateLimitRPS int
}

type DispatchConfig struct {
	// FallbackDelay bounds how long an emergency may stay pending before
	// the default responder is auto-dispatched.
	FallbackDelay      time.Duration
	DefaultResponderID string
}

type AdmissionConfig struct {
	SurgeScoreThreshold int
	OverloadThreshold   float64
}

type ReservationConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 25),
		},
		Dispatch: DispatchConfig{
			FallbackDelay:      getEnvDuration("FALLBACK_DELAY", 5*time.Second),
			DefaultResponderID: getEnv("DEFAULT_RESPONDER_ID", "MH-12-AB-1234"),
		},
		Admission: AdmissionConfig{
			SurgeScoreThreshold: getEnvInt("SURGE_SCORE_THRESHOLD", 80),
			OverloadThreshold:   getEnvFloat("OVERLOAD_THRESHOLD", 95),
		},
		Reservation: ReservationConfig{
			TTL:           getEnvDuration("RESERVATION_TTL", 10*time.Minute),
			SweepInterval: getEnvDuration("RESERVATION_SWEEP_INTERVAL", 15*time.Second),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/ems-dispatch.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Admission.SurgeScoreThreshold < 0 || c.Admission.SurgeScoreThreshold > 100 {
		return fmt.Errorf("surge score threshold must be in [0,100]: %d", c.Admission.SurgeScoreThreshold)
	}
	if c.Admission.OverloadThreshold < 0 || c.Admission.OverloadThreshold > 100 {
		return fmt.Errorf("overload threshold must be in [0,100]: %.1f", c.Admission.OverloadThreshold)
	}

	if c.Reservation.TTL < time.Second {
		return fmt.Errorf("reservation TTL must be at least 1 second")
	}
	if c.Reservation.SweepInterval < time.Second {
		return fmt.Errorf("reservation sweep interval must be at least 1 second")
	}
	if c.Dispatch.FallbackDelay < 0 {
		return fmt.Errorf("fallback delay must not be negative")
	}
	if c.Dispatch.DefaultResponderID == "" {
		return fmt.Errorf("default responder id is required")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
