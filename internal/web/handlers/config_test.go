package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/preprocess"
)

func TestConfigHandler_SaveLayerAndCompose(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	handler := NewConfigHandler(env.store, env.resolver)

	recorder := httptest.NewRecorder()
	handler.SaveLayer(recorder, jsonRequest(t, http.MethodPost, "/api/v1/layers", map[string]any{
		"id":            "gas",
		"kind":          "type",
		"name":          "Gas meters",
		"prompt":        "Ignore the red digits.",
		"preprocessing": map[string]any{"grayscale": true, "max_dimension": 1024},
	}))
	assertStatusCode(t, recorder, http.StatusCreated)

	recorder = httptest.NewRecorder()
	handler.Compose(recorder, jsonRequest(t, http.MethodPost, "/api/v1/compose", ComposeRequest{TypeConfigID: "gas"}))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp ComposeResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.ConfigID != "u1/gas/" {
		t.Errorf("ConfigID = %q, want u1/gas/", resp.ConfigID)
	}
	if resp.Config.Prompt != "Read the meter.\n\nIgnore the red digits." {
		t.Errorf("Prompt = %q", resp.Config.Prompt)
	}
	wantParams := preprocess.Params{MaxDimension: 1024, Grayscale: true, JPEGQuality: preprocess.DefaultJPEGQuality}
	if diff := cmp.Diff(wantParams, resp.Params); diff != "" {
		t.Errorf("Params mismatch (-want +got):\n%s", diff)
	}
	var ops []string
	for _, s := range resp.Steps {
		ops = append(ops, s.Op)
	}
	wantOps := []string{preprocess.OpResize, preprocess.OpGrayscale, preprocess.OpEncodeJPEG}
	if diff := cmp.Diff(wantOps, ops); diff != "" {
		t.Errorf("Steps mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigHandler_SaveLayerInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	handler := NewConfigHandler(env.store, env.resolver)

	if _, err := env.resolver.Resolve(context.Background(), layers.Key{}, false); err != nil {
		t.Fatal(err)
	}
	if env.resolver.Cache().Len() != 1 {
		t.Fatalf("cache len = %d, want 1", env.resolver.Cache().Len())
	}

	recorder := httptest.NewRecorder()
	handler.SaveLayer(recorder, jsonRequest(t, http.MethodPost, "/api/v1/layers", map[string]any{
		"kind": "model", "name": "G4",
	}))
	assertStatusCode(t, recorder, http.StatusCreated)

	if env.resolver.Cache().Len() != 0 {
		t.Errorf("cache len = %d after save, want 0", env.resolver.Cache().Len())
	}
}

func TestConfigHandler_SaveLayerValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		wantErr string
	}{
		{"missing kind", map[string]any{"name": "x"}, "kind is a required field"},
		{"bad kind", map[string]any{"kind": "brand", "name": "x"}, "kind must be one of [universal type model]"},
		{"universal without version", map[string]any{"kind": "universal", "name": "x"}, "universal layers need a positive version"},
		{"multi pass zero", map[string]any{"kind": "universal", "name": "x", "version": 2, "multi_pass": 0}, "multi_pass must be at least 1"},
		{"confidence above one", map[string]any{"kind": "universal", "name": "x", "version": 2, "min_confidence": 1.5}, "min_confidence must be between 0 and 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			handler := NewConfigHandler(env.store, env.resolver)

			recorder := httptest.NewRecorder()
			handler.SaveLayer(recorder, jsonRequest(t, http.MethodPost, "/api/v1/layers", tc.body))

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tc.wantErr)
		})
	}
}

func TestConfigHandler_SaveLayerKindMismatch(t *testing.T) {
	env := newTestEnv(t)
	u := env.seedUniversal(t, 1)
	handler := NewConfigHandler(env.store, env.resolver)

	recorder := httptest.NewRecorder()
	handler.SaveLayer(recorder, jsonRequest(t, http.MethodPost, "/api/v1/layers", map[string]any{
		"id": u.ID, "kind": "type", "name": "x",
	}))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestConfigHandler_ComposeMissingLayer(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	handler := NewConfigHandler(env.store, env.resolver)

	recorder := httptest.NewRecorder()
	handler.Compose(recorder, jsonRequest(t, http.MethodPost, "/api/v1/compose", ComposeRequest{ModelConfigID: "nope"}))

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestConfigHandler_ListLayers(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	handler := NewConfigHandler(env.store, env.resolver)

	recorder := httptest.NewRecorder()
	handler.ListLayers(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/layers?kind=type", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	if got := recorder.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty list", got)
	}

	recorder = httptest.NewRecorder()
	handler.ListLayers(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/layers?kind=brand", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestConfigHandler_ActivateUniversal(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	v2 := &database.ConfigLayer{Layer: layers.Layer{Kind: layers.KindUniversal, Version: 2}, Name: "v2"}
	typ := &database.ConfigLayer{Layer: layers.Layer{Kind: layers.KindType, ID: "gas"}, Name: "gas"}
	for _, l := range []*database.ConfigLayer{v2, typ} {
		if err := env.store.SaveLayer(context.Background(), l); err != nil {
			t.Fatal(err)
		}
	}
	handler := NewConfigHandler(env.store, env.resolver)

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"universal", v2.ID, http.StatusOK},
		{"type layer", typ.ID, http.StatusUnprocessableEntity},
		{"missing", "nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := requestWithChiParams(httptest.NewRequest(http.MethodPut, "/api/v1/universal/"+tc.id+"/activate", nil),
				map[string]string{"id": tc.id})
			handler.ActivateUniversal(recorder, req)
			assertStatusCode(t, recorder, tc.want)
		})
	}

	active, err := env.store.GetActiveUniversal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if active.Version != 2 {
		t.Errorf("active universal version = %d, want 2", active.Version)
	}
}
