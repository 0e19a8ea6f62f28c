package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements text and image generation against OpenAI.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// GenerateText makes a chat completion call.
func (p *OpenAIProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// GenerateImage makes an image generation call and returns base64 data.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	params := openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if req.Model != "" {
		params.Model = openai.ImageModel(req.Model)
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}

	image, err := p.client.Images.Generate(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai image generation failed: %w", err)
	}
	if len(image.Data) == 0 {
		return "", fmt.Errorf("openai returned no image data")
	}
	return image.Data[0].B64JSON, nil
}
