package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/ai"
	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/database/mock"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/objectstore"
	"github.com/kozaktomas/meter-lab/internal/optional"
	"github.com/kozaktomas/meter-lab/internal/promotion"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

// stubProvider answers every call through respond, numbered from zero.
type stubProvider struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req ai.InferenceRequest) string
}

func (p *stubProvider) Name() string          { return "stub" }
func (p *stubProvider) MaxImagesPerCall() int { return 6 }
func (p *stubProvider) GetUsage() ai.Usage    { return ai.Usage{} }
func (p *stubProvider) ResetUsage()           {}

func (p *stubProvider) Infer(_ context.Context, req ai.InferenceRequest) (*ai.InferenceResponse, error) {
	p.mu.Lock()
	n := p.calls
	p.calls++
	p.mu.Unlock()
	return &ai.InferenceResponse{
		Text:         p.respond(n, req),
		InputTokens:  100,
		OutputTokens: 10,
		Cost:         0.001,
		Model:        "stub-1",
	}, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memObjects) Fetch(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectstore.ErrNotFound, ref)
	}
	return d, nil
}

func (m *memObjects) Put(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	return name, nil
}

// testEnv wires the engine components over an in-memory store.
type testEnv struct {
	store        *mock.MockStore
	objects      *memObjects
	provider     *stubProvider
	resolver     *batch.Resolver
	orchestrator *batch.Orchestrator
	ingester     *batch.Ingester
	gate         *promotion.Gate
	jobs         *JobManager
}

// newTestEnv creates an environment whose provider reads every meter as the
// reading in its ground truth with confidence 0.95.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   mock.NewMockStore(),
		objects: &memObjects{data: make(map[string][]byte)},
		jobs:    NewJobManager(),
	}
	env.provider = &stubProvider{respond: func(int, ai.InferenceRequest) string {
		return readingReply("1000", 0.95)
	}}
	log := zerolog.Nop()
	env.resolver = batch.NewResolver(env.store, nil)
	env.orchestrator = batch.New(env.store, recognition.NewRunner(env.provider, env.objects, log), log)
	env.ingester = batch.NewIngester(env.store, env.objects, log)
	env.gate = promotion.NewGate(env.store, promotion.DefaultPolicy(), log)
	return env
}

func readingReply(value string, confidence float64) string {
	return fmt.Sprintf(`{"reading":%q,"confidence":%v,"model_match":true}`, value, confidence)
}

// seedUniversal stores an active universal layer with the given version.
func (env *testEnv) seedUniversal(t *testing.T, version int) *database.ConfigLayer {
	t.Helper()
	l := &database.ConfigLayer{
		Layer: layers.Layer{
			Kind:    layers.KindUniversal,
			Version: version,
			Prompt:  optional.Some("Read the meter."),
		},
		Name: fmt.Sprintf("universal v%d", version),
	}
	ctx := context.Background()
	if err := env.store.SaveLayer(ctx, l); err != nil {
		t.Fatal(err)
	}
	if err := env.store.SetActiveUniversal(ctx, l.ID); err != nil {
		t.Fatal(err)
	}
	return l
}

// seedFolder stores a folder with n photos whose ground truth reads 1000.
func (env *testEnv) seedFolder(t *testing.T, status database.FolderStatus, n int) *database.Folder {
	t.Helper()
	f := &database.Folder{Name: "Acme G4", Status: status}
	if err := env.store.CreateFolder(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	for i := range n {
		ref := fmt.Sprintf("%s/%d.png", f.ID, i)
		env.objects.data[ref] = []byte(ref)
		env.store.AddPhoto(database.Photo{
			ID:          fmt.Sprintf("%s-photo-%d", f.ID, i),
			FolderID:    f.ID,
			Ref:         ref,
			ExactHash:   fmt.Sprintf("%064d", i),
			Status:      database.PhotoPending,
			GroundTruth: json.RawMessage(`{"reading":"1000"}`),
		})
	}
	return f
}

// waitForJob polls until the batch job reaches a terminal state.
func waitForJob(t *testing.T, jobs *JobManager, batchID string) JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := jobs.GetJob(batchID); job != nil && isJobTerminal(job.GetStatus()) {
			return job.View()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job for batch %s did not finish", batchID)
	return JobView{}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates a multipart upload with a "file" part and extra
// form fields
func multipartRequest(t *testing.T, path string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if file != nil {
		part, err := mw.CreateFormFile("file", "meter.png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(file)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for x := range 48 {
		for y := range 48 {
			c := shade
			if y < 24 {
				c = 255 - shade
			}
			img.Set(x, y, color.RGBA{c, c, c, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
