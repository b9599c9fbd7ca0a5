// Package config holds all configuration types and loading logic for Courier.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a Courier server instance.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Seed    SeedConfig    `yaml:"seed"`
	Spam    SpamConfig    `yaml:"spam"`
	Workers WorkerConfig  `yaml:"workers"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// SeedConfig lists the users loaded into the registry at startup.
// There is no self-service registration; these lists are the whole registry.
type SeedConfig struct {
	RegularUsers []string `yaml:"regular_users"`
	AdminUsers   []string `yaml:"admin_users"`
}

// SpamConfig selects and tunes the spam-check policy.
type SpamConfig struct {
	// Policy is "random" or "keywords".
	Policy string `yaml:"policy"`
	// Probability applies to the random policy only.
	Probability float64 `yaml:"probability"`
	// CheckDelayMs simulates the latency of a real checker.
	CheckDelayMs int `yaml:"check_delay_ms"`
	// Keywords apply to the keywords policy only.
	Keywords []string `yaml:"keywords"`
}

// CheckDelay returns the simulated check latency as a duration.
func (s SpamConfig) CheckDelay() time.Duration {
	return time.Duration(s.CheckDelayMs) * time.Millisecond
}

// WorkerConfig sizes the spam-check worker pool.
type WorkerConfig struct {
	Count int `yaml:"count"`
}

// HTTPConfig controls the public HTTP server.
type HTTPConfig struct {
	// MaxBodyBytes caps request body size.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// RateLimit is requests per second per client IP; Burst allows spikes.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Seed: SeedConfig{
			RegularUsers: []string{"Alice", "Malory"},
			AdminUsers:   []string{"Dizzzmas", "Ilya"},
		},
		Spam: SpamConfig{
			Policy:       "random",
			Probability:  0.5,
			CheckDelayMs: 100,
			Keywords:     []string{},
		},
		Workers: WorkerConfig{
			Count: 1,
		},
		HTTP: HTTPConfig{
			MaxBodyBytes: 64 * 1024,
			RateLimit:    100,
			Burst:        200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run Courier with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	COURIER_PORT       — sets node.port
//	COURIER_DATA_DIR   — sets node.data_dir
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("COURIER_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("COURIER_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	switch c.Spam.Policy {
	case "random", "keywords":
		// valid
	default:
		return errors.New(`spam.policy must be one of "random", "keywords"`)
	}
	if c.Spam.Probability < 0 || c.Spam.Probability > 1 {
		return errors.New("spam.probability must be between 0 and 1")
	}
	if c.Spam.CheckDelayMs < 0 {
		return errors.New("spam.check_delay_ms must be >= 0")
	}
	if c.Workers.Count < 1 {
		return errors.New("workers.count must be at least 1")
	}
	if c.HTTP.MaxBodyBytes < 1 {
		return errors.New("http.max_body_bytes must be at least 1")
	}
	if c.HTTP.RateLimit <= 0 {
		return errors.New("http.rate_limit must be positive")
	}
	if c.HTTP.Burst < 1 {
		return errors.New("http.burst must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}
