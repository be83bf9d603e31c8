// Package config loads sitemon settings from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDurationMinutes is the focus timer length offered on install.
	DefaultDurationMinutes = 60
	// MaxDurationMinutes is the longest timer the CLI accepts.
	MaxDurationMinutes = 480
	// DefaultRuleLimit mirrors the browser's dynamic rule cap.
	DefaultRuleLimit = 5000
)

// DefaultAllowedSites is the allow-list written on first install.
var DefaultAllowedSites = []string{
	"github.com",
	"developer.mozilla.org",
	"docs.google.com",
	"gmail.com",
	"google.com",
	"wikipedia.org",
	"localhost",
	"git.local",
	"dictionary.cambridge.org",
	"claude.ai",
	"duckduckgo.com",
	"proton.me",
}

// Config holds all daemon and client settings.
type Config struct {
	DefaultDurationMinutes int           `yaml:"default_duration_minutes"`
	MaxDurationMinutes     int           `yaml:"max_duration_minutes"`
	DefaultAllowedSites    []string      `yaml:"default_allowed_sites"`
	ControlAddr            string        `yaml:"control_addr"`
	ClientTimeout          time.Duration `yaml:"client_timeout"`
	RuleLimit              int           `yaml:"rule_limit"`
	Notify                 bool          `yaml:"notify"`
	DNS                    DNSConfig     `yaml:"dns"`
}

// DNSConfig configures the optional enforcing resolver.
type DNSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Upstream   string `yaml:"upstream"`
	BlockedIP  string `yaml:"blocked_ip"`
	BlockedTTL int    `yaml:"blocked_ttl"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	sites := make([]string, len(DefaultAllowedSites))
	copy(sites, DefaultAllowedSites)

	return &Config{
		DefaultDurationMinutes: DefaultDurationMinutes,
		MaxDurationMinutes:     MaxDurationMinutes,
		DefaultAllowedSites:    sites,
		ControlAddr:            "127.0.0.1:47820",
		ClientTimeout:          5 * time.Second,
		RuleLimit:              DefaultRuleLimit,
		Notify:                 true,
		DNS: DNSConfig{
			Enabled:    false,
			Listen:     "127.0.0.1:5353",
			Upstream:   "1.1.1.1:53",
			BlockedIP:  "0.0.0.0",
			BlockedTTL: 10,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would make the daemon misbehave.
func (c *Config) Validate() error {
	if c.DefaultDurationMinutes < 1 || c.DefaultDurationMinutes > c.MaxDurationMinutes {
		return fmt.Errorf("default_duration_minutes must be between 1 and %d", c.MaxDurationMinutes)
	}
	if c.RuleLimit < 1 {
		return errors.New("rule_limit must be positive")
	}
	if c.ClientTimeout <= 0 {
		return errors.New("client_timeout must be positive")
	}
	if _, _, err := net.SplitHostPort(c.ControlAddr); err != nil {
		return fmt.Errorf("control_addr: %w", err)
	}
	if c.DNS.Enabled {
		if _, _, err := net.SplitHostPort(c.DNS.Listen); err != nil {
			return fmt.Errorf("dns.listen: %w", err)
		}
		if _, _, err := net.SplitHostPort(c.DNS.Upstream); err != nil {
			return fmt.Errorf("dns.upstream: %w", err)
		}
		if net.ParseIP(c.DNS.BlockedIP) == nil {
			return fmt.Errorf("dns.blocked_ip %q is not an IP address", c.DNS.BlockedIP)
		}
	}
	return nil
}
