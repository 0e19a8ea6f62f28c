package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a provider identifier
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "openai", "anthropic":
		return nil
	case "":
		return fmt.Errorf("provider is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: openai, anthropic)", provider)
	}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

var imageSizePattern = regexp.MustCompile(`^\d{3,4}x\d{3,4}$`)

// ValidateImageSize validates an image size string such as 1024x1024
func (v *Validator) ValidateImageSize(size string) error {
	if size == "" {
		return nil
	}
	if !imageSizePattern.MatchString(size) {
		return fmt.Errorf("invalid image size %s (expected WIDTHxHEIGHT)", size)
	}
	return nil
}

// ValidateSharedSecret checks the gateway shared secret strength
func (v *Validator) ValidateSharedSecret(secret string) error {
	if secret == "" {
		return nil
	}
	if len(secret) < 16 {
		return fmt.Errorf("gateway shared secret must be at least 16 characters")
	}
	return nil
}
