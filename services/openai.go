package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ImageGenerator produces an image for a text prompt. The payload must be
// checked for emptiness by callers; the upstream service is unreliable.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// VisionDescriber returns a textual description of an inline image. It is a
// best-effort collaborator: failures degrade generation, they never block it.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, imageDataURI string) (string, error)
}

const imageSize = openai.ImageGenerateParamsSize1536x1024

const visionInstruction = "Analyze this storyboard image and describe the key visual elements " +
	"for consistency: character appearance (facial features, hair, clothing), art style, " +
	"lighting, color palette, and overall mood. Be specific and detailed for maintaining " +
	"visual consistency in subsequent scenes."

// OpenAIService implements ImageGenerator and VisionDescriber against the
// OpenAI API.
type OpenAIService struct {
	client openai.Client
}

func NewOpenAIService(apiKey string) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return &OpenAIService{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

func (s *OpenAIService) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := s.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModelGPTImage1,
		Prompt: prompt,
		Size:   imageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image data received from OpenAI")
	}
	if resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("expected base64 image data but received different format")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return raw, nil
}

func (s *OpenAIService) DescribeImage(ctx context.Context, imageDataURI string) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(visionInstruction),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imageDataURI,
		}),
	}

	chatCompletion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Model:     openai.ChatModelGPT4o,
		MaxTokens: openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(chatCompletion.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return chatCompletion.Choices[0].Message.Content, nil
}
