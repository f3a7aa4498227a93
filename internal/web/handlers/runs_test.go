package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/meter-lab/internal/batch"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/recognition"
)

func newRunsHandler(env *testEnv) *RunsHandler {
	return NewRunsHandler(env.store, env.resolver, env.orchestrator, env.gate, zerolog.Nop())
}

// addUnlabelledPhoto stores a photo without ground truth so its runs stop at
// completed.
func (env *testEnv) addUnlabelledPhoto(folderID, id string) {
	ref := "unlabelled/" + id + ".png"
	env.objects.data[ref] = []byte(ref)
	env.store.AddPhoto(database.Photo{
		ID:        id,
		FolderID:  folderID,
		Ref:       ref,
		ExactHash: "hash-" + id,
		Status:    database.PhotoPending,
	})
}

func TestRunsHandler_CreateScoresAgainstGroundTruth(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	folder := env.seedFolder(t, database.FolderTesting, 1)
	handler := newRunsHandler(env)

	recorder := httptest.NewRecorder()
	handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PhotoID: folder.ID + "-photo-0"}))

	assertStatusCode(t, recorder, http.StatusCreated)
	var run database.RunResult
	parseJSONResponse(t, recorder, &run)
	if run.Status != database.RunEvaluated {
		t.Errorf("Status = %q, want evaluated", run.Status)
	}
	if run.Correct == nil || !*run.Correct {
		t.Errorf("Correct = %v, want true", run.Correct)
	}
	if run.Reading != "1000" || run.ConfigID != "u1//" {
		t.Errorf("Reading/ConfigID = %q/%q", run.Reading, run.ConfigID)
	}

	photo, err := env.store.GetPhoto(context.Background(), run.PhotoID)
	if err != nil {
		t.Fatal(err)
	}
	if photo.Status != database.PhotoTested {
		t.Errorf("photo status = %q, want tested", photo.Status)
	}
}

func TestRunsHandler_CreateUnfiledPhotoUsesBaseline(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 3)
	env.addUnlabelledPhoto("", "loose")
	handler := newRunsHandler(env)

	recorder := httptest.NewRecorder()
	handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PhotoID: "loose"}))

	assertStatusCode(t, recorder, http.StatusCreated)
	var run database.RunResult
	parseJSONResponse(t, recorder, &run)
	if run.ConfigID != "u3///baseline" {
		t.Errorf("ConfigID = %q, want u3///baseline", run.ConfigID)
	}
	if run.Status != database.RunCompleted || run.Correct != nil {
		t.Errorf("run = %+v, want completed without verdict", run)
	}
}

func TestRunsHandler_CreateErrors(t *testing.T) {
	env := newTestEnv(t)
	handler := newRunsHandler(env)
	env.addUnlabelledPhoto("", "loose")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing photo id", `{}`, http.StatusBadRequest},
		{"unknown photo", CreateRunRequest{PhotoID: "nope"}, http.StatusNotFound},
		{"no active universal", CreateRunRequest{PhotoID: "loose"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/runs", tc.body))
			assertStatusCode(t, recorder, tc.want)
		})
	}
}

func TestRunsHandler_EvaluateStoresCorrection(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutRun(database.RunResult{ID: "r1", PhotoID: "p1", ConfigID: "u1//", Status: database.RunCompleted})
	handler := newRunsHandler(env)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/runs/r1/evaluation", recognition.Verdict{Correct: false, Details: "read 1800"}),
		map[string]string{"id": "r1"})
	handler.Evaluate(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp EvaluationResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Run.Status != database.RunEvaluated || resp.Run.Correct == nil || *resp.Run.Correct {
		t.Errorf("run = %+v, want evaluated incorrect", resp.Run)
	}
	if resp.Batch != nil {
		t.Errorf("Batch = %+v, want nil for a single run", resp.Batch)
	}

	corrections, err := env.store.ListCorrections(context.Background(), "u1//")
	if err != nil {
		t.Fatal(err)
	}
	if len(corrections) != 1 || corrections[0].ErrorCategory != recognition.UncategorizedError {
		t.Errorf("corrections = %+v, want one uncategorized", corrections)
	}
}

func TestRunsHandler_EvaluateRefreshesBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedUniversal(t, 1)
	folder := env.seedFolder(t, database.FolderTesting, 0)
	env.addUnlabelledPhoto(folder.ID, "a")
	env.addUnlabelledPhoto(folder.ID, "b")
	ctx := context.Background()

	cfg, err := env.resolver.ForFolder(ctx, folder, false)
	if err != nil {
		t.Fatal(err)
	}
	photos, _ := env.store.ListPhotosByFolder(ctx, folder.ID)
	b, err := env.orchestrator.Create(ctx, batch.Request{Name: "t", FolderID: folder.ID, Photos: photos, Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.orchestrator.Execute(ctx, b.ID, cfg); err != nil {
		t.Fatal(err)
	}
	runs, _ := env.store.ListRuns(ctx, database.RunFilter{BatchID: b.ID})
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}

	handler := newRunsHandler(env)
	recorder := httptest.NewRecorder()
	req := requestWithChiParams(
		jsonRequest(t, http.MethodPut, "/api/v1/runs/"+runs[0].ID+"/evaluation", recognition.Verdict{Correct: true}),
		map[string]string{"id": runs[0].ID})
	handler.Evaluate(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp EvaluationResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Batch == nil {
		t.Fatal("expected refreshed batch")
	}
	if resp.Batch.Evaluated != 1 || resp.Batch.Correct != 1 {
		t.Errorf("Evaluated/Correct = %d/%d, want 1/1", resp.Batch.Evaluated, resp.Batch.Correct)
	}
}

func TestRunsHandler_EvaluateErrors(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutRun(database.RunResult{ID: "pending", Status: database.RunPending})
	handler := newRunsHandler(env)

	tests := []struct {
		name  string
		runID string
		want  int
	}{
		{"pending run", "pending", http.StatusConflict},
		{"unknown run", "nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := requestWithChiParams(
				jsonRequest(t, http.MethodPut, "/api/v1/runs/"+tc.runID+"/evaluation", recognition.Verdict{Correct: true}),
				map[string]string{"id": tc.runID})
			handler.Evaluate(recorder, req)
			assertStatusCode(t, recorder, tc.want)
		})
	}
}
