package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

const geminiMaxImages = 16

type GeminiProvider struct {
	usageTracker
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing Pricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       client,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) MaxImagesPerCall() int {
	return geminiMaxImages
}

func (p *GeminiProvider) Infer(ctx context.Context, req InferenceRequest) (*InferenceResponse, error) {
	parts := []*genai.Part{{Text: req.Instruction}}
	for _, img := range req.Images {
		if img.Label != "" {
			parts = append(parts, &genai.Part{Text: img.Label})
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: mimeType(img)}})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  int32(maxTokens(req)),
	}

	result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return nil, &TransportError{Provider: "Gemini", Err: err}
	}

	var in, out int
	if result.UsageMetadata != nil {
		in = int(result.UsageMetadata.PromptTokenCount)
		out = int(result.UsageMetadata.CandidatesTokenCount)
	}

	content := result.Text()
	if content == "" {
		return nil, &TransportError{Provider: "Gemini", Err: errors.New("no response from Gemini")}
	}

	return &InferenceResponse{
		Text:         content,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         p.trackUsage(in, out),
		Model:        geminiModel,
	}, nil
}
