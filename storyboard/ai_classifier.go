package storyboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	log "github.com/sirupsen/logrus"

	"github.com/storyforge/storyboard-api/models"
)

// ContentTypeResponse is the structured output for the classification call.
type ContentTypeResponse struct {
	ContentType string `json:"content_type" jsonschema:"enum=action,enum=dialogue,enum=transition,enum=other" jsonschema_description:"The content type that best describes this storyboard paragraph."`
}

// GenerateSchema generates a JSON schema for structured outputs
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

var contentTypeSchema = GenerateSchema[ContentTypeResponse]()

// AIClassifier asks an LLM to classify middle paragraphs. Positional rules
// (first paragraph is intro, last is outro) stay local so the ordering
// contract is identical to the keyword classifier. Any model failure falls
// back to keyword classification rather than failing segmentation.
type AIClassifier struct {
	client   openai.Client
	fallback KeywordClassifier
}

func NewAIClassifier(apiKey string) (*AIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return &AIClassifier{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

func (c *AIClassifier) Classify(ctx context.Context, p Paragraph) (models.SceneContentType, error) {
	if p.First {
		return models.ContentTypeIntro, nil
	}
	if p.Last {
		return models.ContentTypeOutro, nil
	}

	prompt := fmt.Sprintf(`You are labeling paragraphs of a video script for a storyboard.

Classify the following paragraph as one of: action, dialogue, transition, other.
- dialogue: someone is speaking or quoted
- transition: the narrative moves to a new place, time, or topic
- action: something happens on screen
- other: none of the above fit

Paragraph:
%s`, p.Text)

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "scene_content_type",
		Description: openai.String("Content type label for a storyboard paragraph"),
		Schema:      contentTypeSchema,
		Strict:      openai.Bool(true),
	}

	chatCompletion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModelGPT4oMini,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		log.Printf("AI classification failed, falling back to keywords: %v", err)
		return c.fallback.Classify(ctx, p)
	}

	if len(chatCompletion.Choices) == 0 {
		return c.fallback.Classify(ctx, p)
	}

	var resp ContentTypeResponse
	if err := json.Unmarshal([]byte(chatCompletion.Choices[0].Message.Content), &resp); err != nil {
		log.Printf("Failed to parse classification response, falling back to keywords: %v", err)
		return c.fallback.Classify(ctx, p)
	}

	contentType := models.SceneContentType(resp.ContentType)
	if !models.ValidContentType(contentType) {
		return c.fallback.Classify(ctx, p)
	}
	return contentType, nil
}
