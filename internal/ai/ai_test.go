package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
)

// --- ExtractJSON tests ---

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantOK  bool
	}{
		{"plain object", `{"reading": "123"}`, `{"reading": "123"}`, true},
		{"surrounding prose", `Sure! {"reading": "42.5"} Hope that helps.`, `{"reading": "42.5"}`, true},
		{"markdown fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"nested", `x {"a": {"b": {"c": 1}}, "d": 2} y`, `{"a": {"b": {"c": 1}}, "d": 2}`, true},
		{"brace inside string", `{"reason": "looks like }{ here", "ok": true}`, `{"reason": "looks like }{ here", "ok": true}`, true},
		{"escaped quote in string", `{"reason": "say \"}\" now"}`, `{"reason": "say \"}\" now"}`, true},
		{"first of two objects", `{"a": 1} {"b": 2}`, `{"a": 1}`, true},
		{"no object", "I cannot read this meter.", "", false},
		{"unbalanced", `{"reading": "12`, "", false},
		{"empty", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.content)
			if ok != tc.wantOK {
				t.Fatalf("ExtractJSON ok = %v; want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("ExtractJSON = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSON_BoundedScan(t *testing.T) {
	// An opening brace followed by more than MaxScanLength bytes is never closed
	// within the scan window.
	content := "{" + strings.Repeat("{", MaxScanLength) + strings.Repeat("}", MaxScanLength+1)
	if _, ok := ExtractJSON(content); ok {
		t.Error("expected scan to stop at MaxScanLength")
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Reading string `json:"reading"`
	}
	if err := DecodeJSON(`Answer: {"reading": "00123"}`, &out); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if out.Reading != "00123" {
		t.Errorf("reading = %q; want 00123", out.Reading)
	}

	err := DecodeJSON("no json here", &out)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if parseErr.Raw != "no json here" {
		t.Errorf("raw = %q; want original text", parseErr.Raw)
	}

	err = DecodeJSON(`{"reading": 12, }`, &out)
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError for invalid JSON, got %v", err)
	}
}

// --- DetectMIMEType tests ---

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"gif", []byte("GIF89a\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"bmp", []byte("BM\x00\x00\x00\x00\x00\x00"), "image/bmp"},
		{"too short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte("plain text data"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMIMEType(tc.data); got != tc.want {
				t.Errorf("DetectMIMEType = %q; want %q", got, tc.want)
			}
		})
	}
}

// --- Pricing and usage tests ---

func TestPricing_Cost(t *testing.T) {
	p := Pricing{Input: 0.40, Output: 1.60}
	got := p.Cost(1_000_000, 500_000)
	if math.Abs(got-1.20) > 1e-9 {
		t.Errorf("Cost = %v; want 1.20", got)
	}
	if (Pricing{}).Cost(1000, 1000) != 0 {
		t.Error("zero pricing should cost nothing")
	}
}

func TestUsageTracker(t *testing.T) {
	tr := usageTracker{pricing: Pricing{Input: 1, Output: 2}}

	cost := tr.trackUsage(1_000_000, 1_000_000)
	if math.Abs(cost-3) > 1e-9 {
		t.Errorf("cost = %v; want 3", cost)
	}
	tr.trackUsage(10, 20)

	u := tr.GetUsage()
	if u.InputTokens != 1_000_010 || u.OutputTokens != 1_000_020 {
		t.Errorf("usage = %+v", u)
	}

	tr.ResetUsage()
	if tr.GetUsage() != (Usage{}) {
		t.Error("expected zero usage after reset")
	}
}

// --- Provider HTTP tests ---

func TestOllamaProvider_Infer(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"qwen2.5vl:7b","message":{"role":"assistant","content":"{\"reading\":\"1\"}"},"done":true,"prompt_eval_count":120,"eval_count":8}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "")
	resp, err := p.Infer(context.Background(), InferenceRequest{
		Instruction: "Read the meter.",
		Images: []Image{
			{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, Label: "CANDIDATE"},
			{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 1}, Label: "REFERENCE 1"},
		},
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if resp.Text != `{"reading":"1"}` {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d; want 120/8", resp.InputTokens, resp.OutputTokens)
	}
	if got.Format != "json" || got.Stream {
		t.Errorf("unexpected request options: format=%q stream=%v", got.Format, got.Stream)
	}
	if len(got.Messages) != 2 || len(got.Messages[1].Images) != 2 {
		t.Fatalf("expected system + user message with 2 images, got %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[1].Content, "Image 2: REFERENCE 1") {
		t.Errorf("labels missing from user content: %q", got.Messages[1].Content)
	}
	if got.Options.NumPredict != defaultMaxTokens {
		t.Errorf("num_predict = %d; want %d", got.Options.NumPredict, defaultMaxTokens)
	}
}

func TestOllamaProvider_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m")
	_, err := p.Infer(context.Background(), InferenceRequest{Instruction: "x"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error should mention status: %v", err)
	}
}

func TestLlamaCppProvider_Infer(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"llava","choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":50,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	p, err := NewLlamaCppProvider(srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Infer(context.Background(), InferenceRequest{
		Instruction: "sys",
		Images:      []Image{{Data: []byte("png-ish"), MIMEType: "image/png", Label: "CANDIDATE"}},
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if resp.Text != `{"ok":true}` || resp.InputTokens != 50 || resp.OutputTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got["max_tokens"].(float64) != 100 {
		t.Errorf("max_tokens = %v; want 100", got["max_tokens"])
	}

	msgs := got["messages"].([]any)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected label + image parts, got %d", len(parts))
	}
	img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Errorf("unexpected image url prefix: %s", img[:30])
	}
}

func TestLlamaCppProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, _ := NewLlamaCppProvider(srv.URL, "m")
	_, err := p.Infer(context.Background(), InferenceRequest{})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
}

func TestNewLlamaCppProvider_InvalidURL(t *testing.T) {
	tests := []string{"ftp://host", "http://", "://bad"}
	for _, u := range tests {
		if _, err := NewLlamaCppProvider(u, ""); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestOpenAIProvider_Infer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4.1-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"reading\": \"815.2\"}"}}],
			"usage": {"prompt_tokens": 1000000, "completion_tokens": 1000000, "total_tokens": 2000000}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", Pricing{Input: 0.4, Output: 1.6},
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))

	resp, err := p.Infer(context.Background(), InferenceRequest{
		Instruction: "Read the meter.",
		Images:      []Image{{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}}},
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if resp.Text != `{"reading": "815.2"}` {
		t.Errorf("text = %q", resp.Text)
	}
	if math.Abs(resp.Cost-2.0) > 1e-9 {
		t.Errorf("cost = %v; want 2.0", resp.Cost)
	}
	if u := p.GetUsage(); u.InputTokens != 1_000_000 || math.Abs(u.TotalCost-2.0) > 1e-9 {
		t.Errorf("usage = %+v", u)
	}
}

func TestOpenAIProvider_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error": {"message": "upstream down", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", Pricing{}, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	_, err := p.Infer(context.Background(), InferenceRequest{Instruction: "x"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if transportErr.Provider != "OpenAI" {
		t.Errorf("provider = %q", transportErr.Provider)
	}
}
