package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Nexus daemon configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Provider profiles
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Generation defaults applied when plugin settings leave them unset
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`

	// Hooks
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Vault
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// ProviderProfile represents a generation provider account
type ProviderProfile struct {
	Name       string `json:"name" mapstructure:"name"`
	Provider   string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
	TextModel  string `json:"text_model" mapstructure:"text_model"`
	ImageModel string `json:"image_model" mapstructure:"image_model"`
}

// GenerationConfig holds generation defaults
type GenerationConfig struct {
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	ImageSize   string  `json:"image_size" mapstructure:"image_size"`
}

// HooksConfig holds plugin hook execution settings
type HooksConfig struct {
	TimeoutSeconds int              `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Schedules      []ScheduleConfig `json:"schedules,omitempty" mapstructure:"schedules"`
}

// ScheduleConfig fires a named hook on a cron expression.
type ScheduleConfig struct {
	Cron    string                 `json:"cron" mapstructure:"cron"`
	Hook    string                 `json:"hook" mapstructure:"hook"`
	Payload map[string]interface{} `json:"payload,omitempty" mapstructure:"payload"`
}

// VaultConfig holds vault key derivation settings
type VaultConfig struct {
	PBKDF2Iterations int `json:"pbkdf2_iterations" mapstructure:"pbkdf2_iterations"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		DataDir: "",
		Gateway: GatewayConfig{
			Port:         8090,
			Host:         "127.0.0.1",
			SharedSecret: "",
		},
		Providers: []ProviderProfile{},
		Generation: GenerationConfig{
			MaxTokens:   1024,
			Temperature: 0.7,
			ImageSize:   "1024x1024",
		},
		Hooks: HooksConfig{
			TimeoutSeconds: 30,
		},
		Vault: VaultConfig{
			PBKDF2Iterations: 310000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validator := NewValidator()

	seen := make(map[string]bool)
	for i, profile := range c.Providers {
		if profile.Name == "" {
			return fmt.Errorf("provider profile %d: name is required", i)
		}
		if seen[profile.Name] {
			return fmt.Errorf("provider profile %s: duplicate name", profile.Name)
		}
		seen[profile.Name] = true

		if err := validator.ValidateProvider(profile.Provider); err != nil {
			return fmt.Errorf("provider profile %s: %w", profile.Name, err)
		}
		if err := validator.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			return fmt.Errorf("provider profile %s: %w", profile.Name, err)
		}
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	if c.Hooks.TimeoutSeconds < 1 {
		return fmt.Errorf("hook timeout must be at least 1 second")
	}

	for i, sched := range c.Hooks.Schedules {
		if sched.Hook == "" {
			return fmt.Errorf("hook schedule %d: hook name is required", i)
		}
		if sched.Cron == "" {
			return fmt.Errorf("hook schedule %d: cron expression is required", i)
		}
	}

	if err := validator.ValidateImageSize(c.Generation.ImageSize); err != nil {
		return err
	}

	return nil
}
