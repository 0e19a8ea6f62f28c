package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackenstacks/ai-nexus/pkg/sandbox"
)

type fakeTextProvider struct {
	lastReq TextRequest
	result  string
	err     error
}

func (f *fakeTextProvider) Name() string { return "fake-text" }

func (f *fakeTextProvider) GenerateText(_ context.Context, req TextRequest) (string, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeImageProvider struct {
	lastReq ImageRequest
	result  string
	err     error
}

func (f *fakeImageProvider) Name() string { return "fake-image" }

func (f *fakeImageProvider) GenerateImage(_ context.Context, req ImageRequest) (string, error) {
	f.lastReq = req
	return f.result, f.err
}

func newTestBroker(text TextProvider, image ImageProvider) *Broker {
	return NewBroker(BrokerConfig{
		Text:  text,
		Image: image,
		Defaults: Defaults{
			TextModel:   "gpt-4o-mini",
			ImageModel:  "dall-e-3",
			ImageSize:   "1024x1024",
			MaxTokens:   512,
			Temperature: 0.7,
		},
		Logger: zerolog.Nop(),
	})
}

func TestBrokerTextDefaults(t *testing.T) {
	text := &fakeTextProvider{result: "hello"}
	b := newTestBroker(text, nil)

	result, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{
		Kind:     sandbox.CapabilityGenerateText,
		PluginID: "p1",
		Prompt:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
	assert.Equal(t, "gpt-4o-mini", text.lastReq.Model)
	assert.Equal(t, 512, text.lastReq.MaxTokens)
	assert.InDelta(t, 0.7, text.lastReq.Temperature, 1e-9)
	assert.Empty(t, text.lastReq.SystemPrompt)
}

func TestBrokerTextSettingsOverride(t *testing.T) {
	text := &fakeTextProvider{result: "ok"}
	b := newTestBroker(text, nil)

	_, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{
		Kind:   sandbox.CapabilityGenerateText,
		Prompt: "hi",
		Settings: map[string]interface{}{
			"model":        "gpt-4o",
			"systemPrompt": "be brief",
			"temperature":  float64(0.2),
			"maxTokens":    int64(64),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", text.lastReq.Model)
	assert.Equal(t, "be brief", text.lastReq.SystemPrompt)
	assert.InDelta(t, 0.2, text.lastReq.Temperature, 1e-9)
	assert.Equal(t, 64, text.lastReq.MaxTokens)
}

func TestBrokerNumericSettingsAsFloat(t *testing.T) {
	text := &fakeTextProvider{result: "ok"}
	b := newTestBroker(text, nil)

	_, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{
		Kind:   sandbox.CapabilityGenerateText,
		Prompt: "hi",
		Settings: map[string]interface{}{
			"maxTokens": float64(128),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 128, text.lastReq.MaxTokens)
}

func TestBrokerImageSettings(t *testing.T) {
	image := &fakeImageProvider{result: "base64data"}
	b := newTestBroker(nil, image)

	result, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{
		Kind:   sandbox.CapabilityGenerateImage,
		Prompt: "a cat",
		Settings: map[string]interface{}{
			"size": "512x512",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "base64data", result)
	assert.Equal(t, "dall-e-3", image.lastReq.Model)
	assert.Equal(t, "512x512", image.lastReq.Size)
}

func TestBrokerProviderError(t *testing.T) {
	text := &fakeTextProvider{err: errors.New("rate limited")}
	b := newTestBroker(text, nil)

	_, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{
		Kind:   sandbox.CapabilityGenerateText,
		Prompt: "hi",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text generation failed")
}

func TestBrokerMissingProviders(t *testing.T) {
	b := newTestBroker(nil, nil)

	_, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{Kind: sandbox.CapabilityGenerateText})
	assert.ErrorContains(t, err, "no text provider configured")

	_, err = b.Resolve(context.Background(), sandbox.CapabilityRequest{Kind: sandbox.CapabilityGenerateImage})
	assert.ErrorContains(t, err, "no image provider configured")
}

func TestBrokerUnknownCapability(t *testing.T) {
	b := newTestBroker(nil, nil)

	_, err := b.Resolve(context.Background(), sandbox.CapabilityRequest{Kind: "mineBitcoin"})
	assert.ErrorContains(t, err, "unknown capability")
}
