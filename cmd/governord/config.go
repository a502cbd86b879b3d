package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/governor"
)

// serverConfig holds everything the daemon reads from the environment.
type serverConfig struct {
	Addr     string
	LogLevel string

	// Store selects the persistence backend: memory, redis or postgres.
	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string

	// Categories maps category names to downstream webhook URLs. Each
	// entry becomes a registered handler that POSTs the operation
	// payload to its URL.
	Categories map[string]string

	Governor governor.Config
}

// loadConfig reads configuration from GOVERNOR_* environment variables.
// Unset variables keep their defaults; malformed values are errors.
func loadConfig() (*serverConfig, error) {
	cfg := &serverConfig{
		Addr:       envString("GOVERNOR_ADDR", ":8080"),
		LogLevel:   envString("GOVERNOR_LOG_LEVEL", "info"),
		Store:      envString("GOVERNOR_STORE", "memory"),
		RedisAddr:  envString("GOVERNOR_REDIS_ADDR", "localhost:6379"),
		Categories: map[string]string{},
		Governor:   governor.DefaultConfig(),
	}
	cfg.RedisPassword = os.Getenv("GOVERNOR_REDIS_PASSWORD")
	cfg.DatabaseURL = os.Getenv("GOVERNOR_DATABASE_URL")

	switch cfg.Store {
	case "memory", "redis", "postgres":
	default:
		return nil, fmt.Errorf("invalid GOVERNOR_STORE %q (memory, redis or postgres)", cfg.Store)
	}
	if cfg.Store == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("GOVERNOR_DATABASE_URL is required when GOVERNOR_STORE=postgres")
	}

	var err error
	if cfg.RedisDB, err = envInt("GOVERNOR_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Governor.MaxConcurrent, err = envInt("GOVERNOR_MAX_CONCURRENT", cfg.Governor.MaxConcurrent); err != nil {
		return nil, err
	}
	if cfg.Governor.MaxQueueSize, err = envInt("GOVERNOR_MAX_QUEUE_SIZE", cfg.Governor.MaxQueueSize); err != nil {
		return nil, err
	}
	if cfg.Governor.MaxAttempts, err = envInt("GOVERNOR_MAX_ATTEMPTS", cfg.Governor.MaxAttempts); err != nil {
		return nil, err
	}
	if cfg.Governor.CircuitFailureThreshold, err = envInt("GOVERNOR_CIRCUIT_FAILURE_THRESHOLD", cfg.Governor.CircuitFailureThreshold); err != nil {
		return nil, err
	}
	if cfg.Governor.AdmissionTimeout, err = envDuration("GOVERNOR_ADMISSION_TIMEOUT", cfg.Governor.AdmissionTimeout); err != nil {
		return nil, err
	}
	if cfg.Governor.CircuitCooldown, err = envDuration("GOVERNOR_CIRCUIT_COOLDOWN", cfg.Governor.CircuitCooldown); err != nil {
		return nil, err
	}
	if cfg.Governor.ShutdownTimeout, err = envDuration("GOVERNOR_SHUTDOWN_TIMEOUT", cfg.Governor.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.Governor.CPUThreshold, err = envFloat("GOVERNOR_CPU_THRESHOLD", cfg.Governor.CPUThreshold); err != nil {
		return nil, err
	}
	if cfg.Governor.MemoryThreshold, err = envFloat("GOVERNOR_MEMORY_THRESHOLD", cfg.Governor.MemoryThreshold); err != nil {
		return nil, err
	}

	if scope := os.Getenv("GOVERNOR_BREAKER_SCOPE"); scope != "" {
		switch governor.BreakerScope(scope) {
		case governor.ScopeCategory, governor.ScopeTenant, governor.ScopePair:
			cfg.Governor.BreakerScope = governor.BreakerScope(scope)
		default:
			return nil, fmt.Errorf("invalid GOVERNOR_BREAKER_SCOPE %q (category, tenant or pair)", scope)
		}
	}

	if cfg.Categories, err = parseCategories(os.Getenv("GOVERNOR_CATEGORIES")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseCategories parses "name=url,name=url" into a category map.
func parseCategories(raw string) (map[string]string, error) {
	categories := map[string]string{}
	if raw == "" {
		return categories, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid GOVERNOR_CATEGORIES entry %q (want name=url)", pair)
		}
		categories[name] = url
	}
	return categories, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
