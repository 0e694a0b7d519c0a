package person

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/JakeFAU/randimg/internal/imaging"
)

// DefaultOpenAIModel is the vision model asked about person presence.
const DefaultOpenAIModel = "gpt-4.1-mini"

const personPrompt = `You check photos for people. Reply with a JSON object {"person": true} ` +
	`if at least one human (face or body) is clearly visible, otherwise {"person": false}.`

// OpenAI asks a vision model whether a person is visible.
type OpenAI struct {
	client  *openai.Client
	model   string
	maxSide int
}

// NewOpenAI builds a detector. Extra request options (base URL, HTTP client)
// are passed through to the client.
func NewOpenAI(apiKey, model string, maxSide int, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAI{client: &client, model: model, maxSide: maxSide}
}

type personAnswer struct {
	Person *bool `json:"person"`
}

// HasPerson implements picker.PersonDetector.
func (o *OpenAI) HasPerson(ctx context.Context, img image.Image) (bool, error) {
	data, err := imaging.EncodeJPEG(imaging.Downscale(img, o.maxSide), 85)
	if err != nil {
		return false, err
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(personPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL:    imageURL,
								Detail: "low",
							}),
						},
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(20),
	})
	if err != nil {
		return false, fmt.Errorf("openai person check: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, errors.New("openai person check: empty response")
	}
	return parseAnswer(resp.Choices[0].Message.Content)
}

func parseAnswer(content string) (bool, error) {
	var answer personAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &answer); err != nil {
		return false, fmt.Errorf("openai person check: parse answer: %w", err)
	}
	if answer.Person == nil {
		return false, errors.New("openai person check: answer missing person field")
	}
	return *answer.Person, nil
}
