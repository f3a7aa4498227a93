package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetModelPricing_KnownModel(t *testing.T) {
	cfg := Load() // Load actual config with embedded prices

	pricing := cfg.GetModelPricing("gpt-4.1-mini")

	if pricing.Input != 0.40 {
		t.Errorf("expected input price 0.40, got %f", pricing.Input)
	}
	if pricing.Output != 1.60 {
		t.Errorf("expected output price 1.60, got %f", pricing.Output)
	}
}

func TestGetModelPricing_GeminiModel(t *testing.T) {
	cfg := Load()

	pricing := cfg.GetModelPricing("gemini-2.5-flash")

	if pricing.Input != 0.30 {
		t.Errorf("expected gemini input 0.30, got %f", pricing.Input)
	}
	if pricing.Output != 2.50 {
		t.Errorf("expected gemini output 2.50, got %f", pricing.Output)
	}
}

func TestGetModelPricing_LocalModel(t *testing.T) {
	cfg := Load()

	pricing := cfg.GetModelPricing("qwen2.5vl:7b")

	if pricing.Input != 0 || pricing.Output != 0 {
		t.Errorf("expected local model to be free, got %+v", pricing)
	}
}

func TestGetModelPricing_UnknownModel(t *testing.T) {
	cfg := Load()

	pricing := cfg.GetModelPricing("unknown-model-xyz")

	if pricing != (ModelPricing{}) {
		t.Errorf("expected zero pricing for unknown model, got %+v", pricing)
	}
}

func TestLoad_RecognitionDefaults(t *testing.T) {
	t.Setenv("DUPLICATE_BATCH_SIZE", "")
	t.Setenv("MIN_PHOTOS_REQUIRED", "")
	t.Setenv("AB_MATERIALITY_THRESHOLD", "")
	t.Setenv("PROMOTION_ACCURACY_FLOOR", "")

	cfg := Load()

	want := RecognitionConfig{
		DuplicateBatchSize:     5,
		MinPhotosRequired:      5,
		MaterialityThreshold:   0.02,
		PromotionAccuracyFloor: 0.70,
	}
	if diff := cmp.Diff(want, cfg.Recognition); diff != "" {
		t.Errorf("Recognition mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_RecognitionOverrides(t *testing.T) {
	t.Setenv("DUPLICATE_BATCH_SIZE", "3")
	t.Setenv("MIN_PHOTOS_REQUIRED", "10")
	t.Setenv("AB_MATERIALITY_THRESHOLD", "0.05")
	t.Setenv("PROMOTION_ACCURACY_FLOOR", "0.9")

	cfg := Load()

	want := RecognitionConfig{
		DuplicateBatchSize:     3,
		MinPhotosRequired:      10,
		MaterialityThreshold:   0.05,
		PromotionAccuracyFloor: 0.9,
	}
	if diff := cmp.Diff(want, cfg.Recognition); diff != "" {
		t.Errorf("Recognition mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 25},
		{"valid", "40", 40},
		{"invalid", "abc", 25},
		{"negative", "-1", 25},
		{"zero", "0", 25},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tc.value)
			if got := envInt("TEST_ENV_INT", 25); got != tc.want {
				t.Errorf("envInt = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEnvFloat(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"unset", "", 0.7},
		{"valid", "0.85", 0.85},
		{"zero allowed", "0", 0},
		{"invalid", "x", 0.7},
		{"negative", "-0.1", 0.7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_FLOAT", tc.value)
			if got := envFloat("TEST_ENV_FLOAT", 0.7); got != tc.want {
				t.Errorf("envFloat = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoad_DatabaseConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/meter")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "2")

	cfg := Load()

	want := DatabaseConfig{URL: "postgres://u:p@localhost/meter", MaxOpenConns: 25, MaxIdleConns: 2}
	if diff := cmp.Diff(want, cfg.Database); diff != "" {
		t.Errorf("Database mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_VisionAndStorage(t *testing.T) {
	t.Setenv("VISION_PROVIDER", "")
	t.Setenv("STORAGE_BASE_URL", "https://files.example.com/")
	t.Setenv("STORAGE_DIR", "/srv/photos")
	t.Setenv("STORAGE_TOKEN", "secret")

	cfg := Load()

	if cfg.Vision.Provider != "openai" {
		t.Errorf("expected default provider openai, got %q", cfg.Vision.Provider)
	}
	want := StorageConfig{BaseURL: "https://files.example.com/", Dir: "/srv/photos", Token: "secret"}
	if diff := cmp.Diff(want, cfg.Storage); diff != "" {
		t.Errorf("Storage mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_WebConfig(t *testing.T) {
	t.Setenv("WEB_HOST", "")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")

	cfg := Load()

	want := WebConfig{Host: "0.0.0.0", Port: 9090, AllowedOrigins: []string{"http://a.test", "http://b.test"}}
	if diff := cmp.Diff(want, cfg.Web); diff != "" {
		t.Errorf("Web mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_LogDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	cfg := Load()

	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}
