package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader reads and writes the JSON config file.
type Loader struct {
	path string
}

// NewLoader creates a loader. An empty path means the default location.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load is a convenience wrapper around NewLoader().Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// GetConfigPath resolves the config file path, defaulting to
// ~/.nexus/nexus.json.
func (l *Loader) GetConfigPath() string {
	if l.path != "" {
		return l.path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nexus", "nexus.json")
}

func (l *Loader) newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("NEXUS")
	v.AutomaticEnv()
	return v
}

// Load reads the config file, layering it over the defaults. A missing
// file is not an error; the daemon starts with defaults.
func (l *Loader) Load() (*Config, error) {
	path := l.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return l.withDerivedPaths(cfg)
	}

	v := l.newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return l.withDerivedPaths(cfg)
}

// withDerivedPaths fills in paths that depend on the data directory.
func (l *Loader) withDerivedPaths(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".nexus")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "nexus.log")
	}
	return cfg, nil
}

// Save writes the config back to disk.
func (l *Loader) Save(cfg *Config) error {
	path := l.GetConfigPath()
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := l.newViper(path)
	v.Set("data_dir", cfg.DataDir)
	v.Set("gateway", cfg.Gateway)
	v.Set("providers", cfg.Providers)
	v.Set("generation", cfg.Generation)
	v.Set("hooks", cfg.Hooks)
	v.Set("vault", cfg.Vault)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			err = v.SafeWriteConfig()
		}
		if err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}
	return nil
}
