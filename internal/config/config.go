// Package config loads the receiver's YAML configuration: per-receiver TCP
// ports, logging settings, media root, and the optional command port,
// with CMS_LOG_LEVEL/LOG_LEVEL environment overrides.
//
// Grounded on original_source/utils/config_loader.py (get_port lowercases
// and hyphenates the receiver key, raises on a missing entry) and on this
// repo's usual env-driven flat Config struct shape.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCommandAddr is used when the config omits command_port.
const DefaultCommandAddr = "127.0.0.1:6688"

// Receiver is one emulated CMS receiver's wiring.
type Receiver struct {
	Name string
	Port int
}

// Logging holds the logger's ambient settings.
type Logging struct {
	Level     string `yaml:"level"`
	MediaRoot string `yaml:"media_root"`
	LogDir    string `yaml:"log_dir"`
}

// Environment is the raw `environment:` YAML block.
type Environment struct {
	Ports map[string]int `yaml:"ports"`
}

// rawConfig mirrors the YAML document's top-level shape before
// normalization into Config.
type rawConfig struct {
	Environment Environment `yaml:"environment"`
	Logging     Logging     `yaml:"logging"`
	CommandPort string      `yaml:"command_port"`
	MetricsAddr string      `yaml:"metrics_addr"`
}

// Config is the normalized, validated configuration the rest of the
// process consumes.
type Config struct {
	Receivers   []Receiver
	Logging     Logging
	CommandAddr string
	MetricsAddr string
}

// Load reads and validates a YAML config file at path, applying
// CMS_LOG_LEVEL/LOG_LEVEL environment overrides afterward.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(raw.Environment.Ports) == 0 {
		return nil, fmt.Errorf("config: %s declares no environment.ports", path)
	}

	cfg := &Config{
		Logging:     raw.Logging,
		CommandAddr: raw.CommandPort,
		MetricsAddr: raw.MetricsAddr,
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.MediaRoot == "" {
		cfg.Logging.MediaRoot = "./log_media"
	}
	if cfg.Logging.LogDir == "" {
		cfg.Logging.LogDir = "./logs"
	}
	if cfg.CommandAddr == "" {
		cfg.CommandAddr = DefaultCommandAddr
	}

	for name, port := range raw.Environment.Ports {
		cfg.Receivers = append(cfg.Receivers, Receiver{Name: normalizeKey(name), Port: port})
	}

	if override := firstNonEmpty(os.Getenv("CMS_LOG_LEVEL"), os.Getenv("LOG_LEVEL")); override != "" {
		cfg.Logging.Level = override
	}

	return cfg, nil
}

// Port looks up a receiver's configured port by name, matching
// get_port_by_key's fail-fast-on-miss contract; callers at startup should
// treat a false return as a fatal configuration error.
func (c *Config) Port(receiver string) (int, bool) {
	key := normalizeKey(receiver)
	for _, r := range c.Receivers {
		if r.Name == key {
			return r.Port, true
		}
	}
	return 0, false
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
