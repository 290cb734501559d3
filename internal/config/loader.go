// Package config provides centralized configuration management for piilens.
// Values resolve in three layers: embedded defaults, an optional user
// config file, then environment variables and runtime overrides.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/piilens/piilens/internal/appid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// Load loads configuration using the three-layer pattern:
// 1. Embedded defaults (defaults.yaml)
// 2. User overrides from configFile, or the default user config path
// 3. Environment variables and runtime overrides
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, configFile string, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// Layer 1: embedded defaults
	defaults := map[string]any{}
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	// Layer 2: user config file, explicit path wins over discovery
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else if path := DefaultConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	// Layer 3: environment variables, e.g. PIILENS_SERVER_PORT
	v.SetEnvPrefix(envPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, defaults, nil)

	// Runtime overrides win over everything
	for _, overrides := range runtimeOverrides {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// envPrefix returns the identity's env prefix without a trailing underscore,
// the way viper expects it.
func envPrefix() string {
	prefix := "PIILENS"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = strings.TrimSuffix(appIdentity.EnvPrefix, "_")
	}
	return prefix
}

// bindEnvKeys registers every key from the defaults tree so AutomaticEnv
// picks up variables even for keys absent from the merged config.
func bindEnvKeys(v *viper.Viper, node map[string]any, path []string) {
	for key, value := range node {
		next := append(append([]string{}, path...), key)
		if child, ok := value.(map[string]any); ok {
			bindEnvKeys(v, child, next)
			continue
		}
		_ = v.BindEnv(strings.Join(next, "."))
	}
}

// appConfigName returns the config name from app identity.
func appConfigName() string {
	name := "piilens"
	if appIdentity == nil {
		return name
	}
	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		name = appIdentity.ConfigName
	} else if strings.TrimSpace(appIdentity.BinaryName) != "" {
		name = appIdentity.BinaryName
	}
	return name
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if strings.TrimSpace(configDir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appConfigName(), "config.yaml")
}
