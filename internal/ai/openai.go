package ai

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const chatModel = openai.ChatModelGPT4_1Mini

// openAIMaxImages keeps requests well under the chat completions image cap.
const openAIMaxImages = 10

type OpenAIProvider struct {
	usageTracker
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI chat-completions provider. Extra request
// options (base URL, retries) are passed to the client.
func NewOpenAIProvider(apiKey string, pricing Pricing, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       &client,
	}
}

func (p *OpenAIProvider) Name() string {
	return chatModel
}

func (p *OpenAIProvider) MaxImagesPerCall() int {
	return openAIMaxImages
}

func (p *OpenAIProvider) Infer(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{}
	for _, img := range req.Images {
		if img.Label != "" {
			parts = append(parts, openai.TextContentPart(img.Label))
		}
		imageURL := "data:" + mimeType(img) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    imageURL,
			Detail: "high",
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.Instruction),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    chatModel,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(int64(maxTokens(req))),
	})
	if err != nil {
		return nil, &TransportError{Provider: "OpenAI", Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &TransportError{Provider: "OpenAI", Err: errors.New("no response from OpenAI")}
	}

	in, out := int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)
	return &InferenceResponse{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         p.trackUsage(in, out),
		Model:        chatModel,
	}, nil
}
