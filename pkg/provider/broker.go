package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackenstacks/ai-nexus/internal/metrics"
	"github.com/hackenstacks/ai-nexus/pkg/sandbox"
)

// Defaults are applied when neither the plugin's settings nor the call
// site specify a value.
type Defaults struct {
	TextModel   string
	ImageModel  string
	ImageSize   string
	MaxTokens   int
	Temperature float64
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	Text     TextProvider
	Image    ImageProvider
	Defaults Defaults
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// Broker resolves sandbox capability requests against the privileged
// providers. It is the only path from plugin code to the network, and it
// never hands credentials or raw provider errors' internals back to the
// sandbox.
type Broker struct {
	text     TextProvider
	image    ImageProvider
	defaults Defaults
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewBroker creates a capability broker.
func NewBroker(cfg BrokerConfig) *Broker {
	return &Broker{
		text:     cfg.Text,
		image:    cfg.Image,
		defaults: cfg.Defaults,
		logger:   cfg.Logger.With().Str("component", "broker").Logger(),
		metrics:  cfg.Metrics,
	}
}

// Resolve implements sandbox.CapabilityFunc.
func (b *Broker) Resolve(ctx context.Context, req sandbox.CapabilityRequest) (string, error) {
	switch req.Kind {
	case sandbox.CapabilityGenerateText:
		return b.generateText(ctx, req)
	case sandbox.CapabilityGenerateImage:
		return b.generateImage(ctx, req)
	default:
		return "", fmt.Errorf("unknown capability: %s", req.Kind)
	}
}

func (b *Broker) generateText(ctx context.Context, req sandbox.CapabilityRequest) (string, error) {
	if b.text == nil {
		return "", fmt.Errorf("no text provider configured")
	}

	textReq := TextRequest{
		Prompt:       req.Prompt,
		Model:        stringSetting(req.Settings, "model", b.defaults.TextModel),
		SystemPrompt: stringSetting(req.Settings, "systemPrompt", ""),
		Temperature:  floatSetting(req.Settings, "temperature", b.defaults.Temperature),
		MaxTokens:    intSetting(req.Settings, "maxTokens", b.defaults.MaxTokens),
	}

	start := time.Now()
	result, err := b.text.GenerateText(ctx, textReq)
	b.observe(b.text.Name(), "text", start, err)
	if err != nil {
		b.logger.Warn().Err(err).Str("plugin_id", req.PluginID).Msg("Mediated text generation failed")
		return "", fmt.Errorf("text generation failed: %w", err)
	}
	return result, nil
}

func (b *Broker) generateImage(ctx context.Context, req sandbox.CapabilityRequest) (string, error) {
	if b.image == nil {
		return "", fmt.Errorf("no image provider configured")
	}

	imageReq := ImageRequest{
		Prompt: req.Prompt,
		Model:  stringSetting(req.Settings, "model", b.defaults.ImageModel),
		Size:   stringSetting(req.Settings, "size", b.defaults.ImageSize),
	}

	start := time.Now()
	result, err := b.image.GenerateImage(ctx, imageReq)
	b.observe(b.image.Name(), "image", start, err)
	if err != nil {
		b.logger.Warn().Err(err).Str("plugin_id", req.PluginID).Msg("Mediated image generation failed")
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	return result, nil
}

func (b *Broker) observe(providerName, kind string, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	b.metrics.ProviderCallsTotal.WithLabelValues(providerName, kind, result).Inc()
	b.metrics.ProviderCallDuration.WithLabelValues(providerName, kind).Observe(time.Since(start).Seconds())
}

// Settings values arrive from JSON (float64) or from plugin code via goja
// exports (int64, float64), so numeric lookups accept both.

func stringSetting(settings map[string]interface{}, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func floatSetting(settings map[string]interface{}, key string, fallback float64) float64 {
	switch v := settings[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func intSetting(settings map[string]interface{}, key string, fallback int) int {
	switch v := settings[key].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	default:
		return fallback
	}
}
