// Package config loads herakles's configuration from a YAML file plus
// environment overrides, following the multi-path viper discovery this
// repo has always used: a config file is optional, environment
// variables always win, and every tunable has a sane default so the
// process can start from zero configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the full set of runtime tunables, matching the flat
// key-space of herakles.yaml 1:1 via mapstructure tags.
type Config struct {
	// Process filesystem
	ProcRoot  string `mapstructure:"proc_root"`
	RulesFile string `mapstructure:"rules_file"`

	// Transport
	Port        int    `mapstructure:"port"`
	Bind        string `mapstructure:"bind"`
	EnableTLS   bool   `mapstructure:"enable_tls"`
	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`

	// Scan and cache
	CacheTTLSeconds     int `mapstructure:"cache_ttl_seconds"`
	Parallelism         int `mapstructure:"parallelism"`
	IOBufferKB          int `mapstructure:"io_buffer_kb"`
	SmapsBufferKB       int `mapstructure:"smaps_buffer_kb"`
	SmapsRollupBufferKB int `mapstructure:"smaps_rollup_buffer_kb"`

	// Aggregation and filtering
	MinUSSKB      int      `mapstructure:"min_uss_kb"`
	TopNSubgroup  int      `mapstructure:"top_n_subgroup"`
	TopNOthers    int      `mapstructure:"top_n_others"`
	SearchMode    string   `mapstructure:"search_mode"`
	SearchGroups  []string `mapstructure:"search_groups"`
	DisableOthers bool     `mapstructure:"disable_others"`

	// Emission flags
	EnableRSS bool `mapstructure:"enable_rss"`
	EnablePSS bool `mapstructure:"enable_pss"`
	EnableUSS bool `mapstructure:"enable_uss"`
	EnableCPU bool `mapstructure:"enable_cpu"`

	// Ambient
	LogLevel        string `mapstructure:"log_level"`
	EnableHealth    bool   `mapstructure:"enable_health"`
	EnableTelemetry bool   `mapstructure:"enable_telemetry"`

	// Shutdown
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// Load reads configuration from the first config file discovered among
// the standard search paths (falling back silently to defaults +
// environment overrides if none is found), and from HERAKLES_-prefixed
// environment variables, which always win over the file.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("herakles")
	v.SetConfigType("yaml")

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/herakles")
		v.AddConfigPath(filepath.Join(homeDir, ".config", "herakles"))
	}

	v.SetEnvPrefix("HERAKLES")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proc_root", "/proc")
	v.SetDefault("rules_file", "")

	v.SetDefault("port", 9477)
	v.SetDefault("bind", "0.0.0.0")
	v.SetDefault("enable_tls", false)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")

	v.SetDefault("cache_ttl_seconds", 15)
	v.SetDefault("parallelism", 8)
	v.SetDefault("io_buffer_kb", 4)
	v.SetDefault("smaps_buffer_kb", 64)
	v.SetDefault("smaps_rollup_buffer_kb", 2)

	v.SetDefault("min_uss_kb", 0)
	v.SetDefault("top_n_subgroup", 5)
	v.SetDefault("top_n_others", 5)
	v.SetDefault("search_mode", "off")
	v.SetDefault("search_groups", []string{})
	v.SetDefault("disable_others", false)

	v.SetDefault("enable_rss", true)
	v.SetDefault("enable_pss", true)
	v.SetDefault("enable_uss", true)
	v.SetDefault("enable_cpu", true)

	v.SetDefault("log_level", "info")
	v.SetDefault("enable_health", true)
	v.SetDefault("enable_telemetry", true)

	v.SetDefault("shutdown_grace_seconds", 30)
}

// Validate rejects configurations that would fail at startup anyway
// (spec.md §7's "Fatal at startup": invalid configuration, inability
// to load TLS materials), so the caller can report one clear error
// instead of a confusing downstream failure.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism)
	}
	switch c.SearchMode {
	case "off", "include", "exclude":
	default:
		return fmt.Errorf("search_mode %q must be one of off, include, exclude", c.SearchMode)
	}
	if c.EnableTLS {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return fmt.Errorf("enable_tls requires both tls_cert_path and tls_key_path")
		}
	}
	return nil
}
