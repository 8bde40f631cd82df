// Package config loads the static, process-level configuration (database
// DSN, listen address, data directory, rate-limit policy location, and
// default timeouts) via koanf: defaults, then an optional YAML file, then
// environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations searched in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/danmuhub/config.yaml",
}

// ConfigPathEnvVar overrides the searched config file path.
const ConfigPathEnvVar = "DANMUHUB_CONFIG_PATH"

// Config is the static process configuration.
type Config struct {
	ListenAddr      string        `koanf:"listen_addr"`
	DatabaseDSN     string        `koanf:"database_dsn"`
	DataDir         string        `koanf:"data_dir"`
	PolicyDir       string        `koanf:"policy_dir"`
	APIKey          string        `koanf:"api_key"`
	ProviderTimeout time.Duration `koanf:"provider_timeout"`
	AITimeout       time.Duration `koanf:"ai_timeout"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		DatabaseDSN:     "./data/danmuhub.db",
		DataDir:         "./data",
		PolicyDir:       "./data/policy",
		APIKey:          "",
		ProviderTimeout: 30 * time.Second,
		AITimeout:       20 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load builds a Config from defaults, an optional file, then environment
// variables prefixed DANMUHUB_ (e.g. DANMUHUB_LISTEN_ADDR).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	path := os.Getenv(ConfigPathEnvVar)
	if path == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("DANMUHUB_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "DANMUHUB_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
