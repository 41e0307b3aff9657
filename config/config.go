// Package config provides configuration management for the VPN client.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-client/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// LogLevel is the minimum application log level: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// ShowNotifications enables desktop notifications for tunnel events.
	ShowNotifications bool `yaml:"show_notifications"`

	// LandingPageTimeout bounds the wait for a connected tunnel after new
	// homepages are announced.
	LandingPageTimeout time.Duration `yaml:"landing_page_timeout"`
	// SubscriptionExpiryTolerance is the slack when a subscription timer
	// fires against a receipt that has since changed.
	SubscriptionExpiryTolerance time.Duration `yaml:"subscription_expiry_tolerance"`

	// ZombieCheckInterval is how often a connected provider is health checked.
	ZombieCheckInterval time.Duration `yaml:"zombie_check_interval"`
	// ZombieFailureThreshold is how many consecutive failed checks mark the
	// provider as a zombie.
	ZombieFailureThreshold int `yaml:"zombie_failure_threshold"`
	// ZombieProbeHosts are dialed through the tunnel to test connectivity.
	ZombieProbeHosts []string `yaml:"zombie_probe_hosts,omitempty"`

	// TunnelCommand is the tunnel program started by the provider.
	TunnelCommand string `yaml:"tunnel_command"`
	// TunnelConfig is the template configuration installed as the VPN profile.
	TunnelConfig string `yaml:"tunnel_config,omitempty"`
	// SplitTunnelRoutes restricts the tunnel to the listed networks when set.
	SplitTunnelRoutes []string `yaml:"split_tunnel_routes,omitempty"`

	// PsiCashURL is the PsiCash server base URL. Empty disables the wallet.
	PsiCashURL string `yaml:"psicash_url,omitempty"`
	// ReceiptPath is a JSON subscription receipt. Empty disables subscriptions.
	ReceiptPath string `yaml:"receipt_path,omitempty"`
	// MetricsAddr serves Prometheus metrics when set (for example "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                    "info",
		ShowNotifications:           true,
		LandingPageTimeout:          common.LandingPageTimeout,
		SubscriptionExpiryTolerance: common.ExpiryTolerance,
		ZombieCheckInterval:         common.ZombieCheckInterval,
		ZombieFailureThreshold:      3,
		ZombieProbeHosts: []string{
			"1.1.1.1:53",
			"8.8.8.8:53",
		},
		TunnelCommand: "openvpn",
	}
}

// DefaultPath returns the configuration file location in the user's
// config directory.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from path.
// If the file doesn't exist, it writes one with default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening configuration: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}

	config.validate()
	return config, nil
}

// validate replaces out-of-range values with their defaults.
func (c *Config) validate() {
	defaults := DefaultConfig()

	if _, ok := common.ParseLogLevel(c.LogLevel); !ok {
		c.LogLevel = defaults.LogLevel
	}
	if c.LandingPageTimeout <= 0 {
		c.LandingPageTimeout = defaults.LandingPageTimeout
	}
	if c.SubscriptionExpiryTolerance < 0 {
		c.SubscriptionExpiryTolerance = defaults.SubscriptionExpiryTolerance
	}
	if c.ZombieCheckInterval <= 0 {
		c.ZombieCheckInterval = defaults.ZombieCheckInterval
	}
	if c.ZombieFailureThreshold <= 0 {
		c.ZombieFailureThreshold = defaults.ZombieFailureThreshold
	}
	if c.TunnelCommand == "" {
		c.TunnelCommand = defaults.TunnelCommand
	}
	c.TunnelConfig = common.ExpandHome(c.TunnelConfig)
	c.ReceiptPath = common.ExpandHome(c.ReceiptPath)
}

// Level returns the parsed log level.
func (c *Config) Level() common.LogLevel {
	level, _ := common.ParseLogLevel(c.LogLevel)
	return level
}

// Save saves the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}
