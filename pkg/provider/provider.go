// Package provider holds the privileged generation clients. Credentials
// live only here; plugin sandboxes reach these through the capability
// broker and receive nothing but the generated result or an error string.
package provider

import (
	"context"
	"fmt"
)

// TextRequest contains the parameters for a text generation call.
type TextRequest struct {
	Prompt       string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// ImageRequest contains the parameters for an image generation call.
type ImageRequest struct {
	Prompt string
	Model  string
	Size   string
}

// TextProvider generates text from a prompt.
type TextProvider interface {
	// GenerateText returns the generated text for the request.
	GenerateText(ctx context.Context, req TextRequest) (string, error)

	// Name returns the provider name.
	Name() string
}

// ImageProvider generates images from a prompt.
type ImageProvider interface {
	// GenerateImage returns the generated image as base64-encoded data.
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)

	// Name returns the provider name.
	Name() string
}

// Profile identifies a configured provider account.
type Profile struct {
	Name       string
	Provider   string // openai, anthropic
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
}

// NewProviders creates the text and image providers for a profile. The
// image provider is nil for providers without image generation.
func NewProviders(profile Profile) (TextProvider, ImageProvider, error) {
	switch profile.Provider {
	case "openai":
		p := NewOpenAIProvider(profile.APIKey, profile.BaseURL)
		return p, p, nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
