// Package config loads and validates xipology configuration.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/xipology/main.go)
//  2. Environment variables (XIPOLOGY_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables use the XIPOLOGY_SECTION_SETTING format, e.g.
// XIPOLOGY_RESOLVER_SERVER maps to resolver.server in YAML.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/oherrala/xipology/internal/name"
)

// Config is the validated configuration tree.
type Config struct {
	Resolver ResolverConfig
	Channel  ChannelConfig
	Receive  ReceiveConfig
	Logging  LoggingConfig
}

// ResolverConfig selects the recursive resolver and probe policy.
type ResolverConfig struct {
	Server       string        // resolver HOST:PORT
	QueryTimeout time.Duration // per-query timeout
	Threshold    time.Duration // cached/uncached latency threshold
	Calibrate    bool          // measure the threshold at session start
}

// ChannelConfig holds the parameters both endpoints must agree on.
type ChannelConfig struct {
	Suffix string // zone suffix appended to every generated name
}

// ReceiveConfig tunes the -wait polling loop.
type ReceiveConfig struct {
	PollInterval time.Duration // delay between empty-channel polls
	MaxAttempts  int           // 0 means poll until cancelled
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level       string
	JSON        bool
	IncludePID  bool
	ExtraFields map[string]string
}

// initConfig sets up the config loader with defaults, env binding, and the
// optional config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("XIPOLOGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("resolver.server", "8.8.8.8:53")
	v.SetDefault("resolver.query_timeout", "3s")
	v.SetDefault("resolver.threshold", "10ms")
	v.SetDefault("resolver.calibrate", true)

	v.SetDefault("channel.suffix", name.DefaultSuffix)

	v.SetDefault("receive.poll_interval", "2s")
	v.SetDefault("receive.max_attempts", 0)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})
}

// Load reads configuration from the optional file at configPath and the
// environment, validates it, and returns the result.
func Load(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Resolver: ResolverConfig{
			Server:       v.GetString("resolver.server"),
			QueryTimeout: v.GetDuration("resolver.query_timeout"),
			Threshold:    v.GetDuration("resolver.threshold"),
			Calibrate:    v.GetBool("resolver.calibrate"),
		},
		Channel: ChannelConfig{
			Suffix: v.GetString("channel.suffix"),
		},
		Receive: ReceiveConfig{
			PollInterval: v.GetDuration("receive.poll_interval"),
			MaxAttempts:  v.GetInt("receive.max_attempts"),
		},
		Logging: LoggingConfig{
			Level:       strings.ToUpper(v.GetString("logging.level")),
			JSON:        v.GetBool("logging.json"),
			IncludePID:  v.GetBool("logging.include_pid"),
			ExtraFields: v.GetStringMapString("logging.extra_fields"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	host, port, err := net.SplitHostPort(cfg.Resolver.Server)
	if err != nil || host == "" || port == "" {
		return fmt.Errorf("resolver.server %q is not HOST:PORT", cfg.Resolver.Server)
	}
	if cfg.Resolver.QueryTimeout <= 0 {
		return fmt.Errorf("resolver.query_timeout must be positive, got %v", cfg.Resolver.QueryTimeout)
	}
	if cfg.Resolver.Threshold <= 0 {
		return fmt.Errorf("resolver.threshold must be positive, got %v", cfg.Resolver.Threshold)
	}
	if cfg.Channel.Suffix == "" {
		return fmt.Errorf("channel.suffix must not be empty")
	}
	if cfg.Receive.PollInterval <= 0 {
		return fmt.Errorf("receive.poll_interval must be positive, got %v", cfg.Receive.PollInterval)
	}
	if cfg.Receive.MaxAttempts < 0 {
		return fmt.Errorf("receive.max_attempts must not be negative, got %d", cfg.Receive.MaxAttempts)
	}
	return nil
}
