package ai

import (
	"context"
	"fmt"
	"sync"
)

// Image is one picture attached to an inference call. Label, when set, is
// sent as a text part immediately before the image.
type Image struct {
	Data     []byte
	MIMEType string
	Label    string
}

// InferenceRequest is a single synchronous call: an instruction plus the
// images it refers to.
type InferenceRequest struct {
	Instruction string
	Images      []Image
	MaxTokens   int
}

// InferenceResponse is the raw model output with its token counters.
type InferenceResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Cost         float64 // in USD
	Model        string
}

// Provider defines the interface for vision-inference backends.
type Provider interface {
	Name() string
	Infer(ctx context.Context, req InferenceRequest) (*InferenceResponse, error)
	// MaxImagesPerCall is the provider-side limit on images in one request.
	MaxImagesPerCall() int

	// Usage tracking.
	GetUsage() Usage
	ResetUsage()
}

const defaultMaxTokens = 500

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// Pricing holds input/output prices per 1M tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// Cost returns the USD cost of a call with the given token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
}

// usageTracker accumulates Usage across calls; providers embed it.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing Pricing
}

func (t *usageTracker) GetUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *usageTracker) ResetUsage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
}

// trackUsage records one call and returns its cost.
func (t *usageTracker) trackUsage(inputTokens, outputTokens int) float64 {
	cost := t.pricing.Cost(inputTokens, outputTokens)
	t.mu.Lock()
	t.usage.InputTokens += inputTokens
	t.usage.OutputTokens += outputTokens
	t.usage.TotalCost += cost
	t.mu.Unlock()
	return cost
}

// TransportError reports that the provider could not be reached or answered
// with an error. It marks one run failed and is never retried here.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s API error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError reports a response that does not contain a usable JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func maxTokens(req InferenceRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

func mimeType(img Image) string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return DetectMIMEType(img.Data)
}
