package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateProvider(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateProvider("openai"))
	assert.NoError(t, v.ValidateProvider("anthropic"))
	assert.Error(t, v.ValidateProvider(""))
	assert.Error(t, v.ValidateProvider("gemini"))
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("", "openai"))
	assert.Error(t, v.ValidateAPIKey("abc123", "openai"))
	assert.Error(t, v.ValidateAPIKey("sk-abc123", "anthropic"))
}

func TestValidateImageSize(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateImageSize(""))
	assert.NoError(t, v.ValidateImageSize("512x512"))
	assert.NoError(t, v.ValidateImageSize("1024x1792"))
	assert.Error(t, v.ValidateImageSize("big"))
	assert.Error(t, v.ValidateImageSize("1024"))
	assert.Error(t, v.ValidateImageSize("10x10"))
}

func TestValidateSharedSecret(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSharedSecret(""))
	assert.NoError(t, v.ValidateSharedSecret("averylongsharedsecret"))
	assert.Error(t, v.ValidateSharedSecret("short"))
}
