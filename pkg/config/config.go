package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config carries all runtime configuration, loaded from FLEETLOCK_*
// environment variables.
type Config struct {
	AWSRegion string

	BackendURL string
	Prefix     string
	AgentID    string

	HeartbeatInterval       time.Duration
	InitialReconnectBackoff time.Duration
	MaxReconnectBackoff     time.Duration

	MetricsBackends     []string
	DatadogAddress      string
	CloudWatchNamespace string

	LogLevel string
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := LoadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadEnv reads configuration from the environment without validating it,
// so callers can overlay a profile before calling Validate.
func LoadEnv() *Config {
	return &Config{
		AWSRegion:               getEnv("AWS_REGION", "ap-northeast-1"),
		BackendURL:              getEnv("FLEETLOCK_BACKEND_URL", ""),
		Prefix:                  getEnv("FLEETLOCK_PREFIX", "fleetlock-"),
		AgentID:                 getEnv("FLEETLOCK_AGENT_ID", ""),
		HeartbeatInterval:       getEnvSeconds("FLEETLOCK_HEARTBEAT_SECONDS", time.Second),
		InitialReconnectBackoff: getEnvSeconds("FLEETLOCK_INITIAL_RECONNECT_BACKOFF_SECONDS", 100*time.Millisecond),
		MaxReconnectBackoff:     getEnvSeconds("FLEETLOCK_MAX_RECONNECT_BACKOFF_SECONDS", 60*time.Second),
		MetricsBackends:         splitList(getEnv("FLEETLOCK_METRICS_BACKENDS", "")),
		DatadogAddress:          getEnv("FLEETLOCK_DATADOG_ADDRESS", "127.0.0.1:8125"),
		CloudWatchNamespace:     getEnv("FLEETLOCK_CLOUDWATCH_NAMESPACE", "Fleetlock"),
		LogLevel:                getEnv("FLEETLOCK_LOG_LEVEL", "info"),
	}
}

func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("FLEETLOCK_BACKEND_URL is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("FLEETLOCK_HEARTBEAT_SECONDS must be positive")
	}
	if c.InitialReconnectBackoff <= 0 {
		return fmt.Errorf("FLEETLOCK_INITIAL_RECONNECT_BACKOFF_SECONDS must be positive")
	}
	if c.MaxReconnectBackoff < c.InitialReconnectBackoff {
		return fmt.Errorf("FLEETLOCK_MAX_RECONNECT_BACKOFF_SECONDS must be at least the initial backoff")
	}
	for _, b := range c.MetricsBackends {
		switch b {
		case "datadog", "prometheus", "cloudwatch":
		default:
			return fmt.Errorf("unknown metrics backend %q", b)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvSeconds reads a duration expressed as a decimal number of seconds,
// e.g. "0.1" for 100ms.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		var seconds float64
		if _, err := fmt.Sscanf(value, "%g", &seconds); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
