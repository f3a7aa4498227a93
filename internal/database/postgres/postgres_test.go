//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/meter-lab/internal/config"
	"github.com/kozaktomas/meter-lab/internal/database"
	"github.com/kozaktomas/meter-lab/internal/layers"
	"github.com/kozaktomas/meter-lab/internal/optional"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestLayerRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	v1 := &database.ConfigLayer{
		Layer: layers.Layer{Kind: layers.KindUniversal, Version: 1, Prompt: optional.Some("Read the meter."),
			MinConfidence: optional.Some(0.8)},
		Name: "universal v1",
	}
	v2 := &database.ConfigLayer{
		Layer: layers.Layer{Kind: layers.KindUniversal, Version: 2},
		Name:  "universal v2",
	}
	for _, l := range []*database.ConfigLayer{v1, v2} {
		if err := store.SaveLayer(ctx, l); err != nil {
			t.Fatalf("SaveLayer: %v", err)
		}
	}

	t.Run("RoundTripOptionals", func(t *testing.T) {
		got, err := store.GetUniversalByVersion(ctx, 1)
		if err != nil {
			t.Fatalf("GetUniversalByVersion: %v", err)
		}
		if p, _ := got.Prompt.Get(); p != "Read the meter." {
			t.Errorf("prompt = %q", p)
		}
		if got.MultiPass.IsSet() {
			t.Error("multi_pass should stay unset")
		}

		other, err := store.GetLayer(ctx, v2.ID)
		if err != nil {
			t.Fatalf("GetLayer: %v", err)
		}
		if other.Prompt.IsSet() || other.MinConfidence.IsSet() {
			t.Error("unset fields should round-trip as unset")
		}
	})

	t.Run("SetActiveUniversalIsExclusive", func(t *testing.T) {
		if err := store.SetActiveUniversal(ctx, v1.ID); err != nil {
			t.Fatalf("activate v1: %v", err)
		}
		if err := store.SetActiveUniversal(ctx, v2.ID); err != nil {
			t.Fatalf("activate v2: %v", err)
		}

		active, err := store.GetActiveUniversal(ctx)
		if err != nil {
			t.Fatalf("GetActiveUniversal: %v", err)
		}
		if active.ID != v2.ID {
			t.Errorf("active = %s, want %s", active.ID, v2.ID)
		}

		all, err := store.ListLayers(ctx, string(layers.KindUniversal))
		if err != nil {
			t.Fatalf("ListLayers: %v", err)
		}
		activeCount := 0
		for _, l := range all {
			if l.Active {
				activeCount++
			}
		}
		if activeCount != 1 {
			t.Errorf("expected exactly one active universal, got %d", activeCount)
		}
	})

	t.Run("ActivateUnknown", func(t *testing.T) {
		err := store.SetActiveUniversal(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		active, err := store.GetActiveUniversal(ctx)
		if err != nil || active.ID != v2.ID {
			t.Errorf("failed activation must keep the previous active layer, got %v, %v", active, err)
		}
	})
}

func TestPhotoRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	folder := &database.Folder{Name: "Elster AS1440"}
	if err := store.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	base := strings.Repeat("f", 256)
	near := "0" + strings.Repeat("f", 255)    // 4 bits away
	far := strings.Repeat("0", 8) + base[8:] // 32 bits away
	photos := []*database.Photo{
		{FolderID: folder.ID, Ref: "a.jpg", ExactHash: strings.Repeat("a", 64), PerceptualHash: base},
		{FolderID: folder.ID, Ref: "b.jpg", ExactHash: strings.Repeat("b", 64), PerceptualHash: near},
		{FolderID: folder.ID, Ref: "c.jpg", ExactHash: strings.Repeat("c", 64), PerceptualHash: far,
			GroundTruth: []byte(`{"reading":"00123"}`)},
		{FolderID: folder.ID, Ref: "d.raw", ExactHash: strings.Repeat("d", 64)},
	}
	for _, p := range photos {
		if err := store.CreatePhoto(ctx, p); err != nil {
			t.Fatalf("CreatePhoto %s: %v", p.Ref, err)
		}
	}

	t.Run("FindByExactHash", func(t *testing.T) {
		got, err := store.FindPhotoByExactHash(ctx, strings.Repeat("b", 64))
		if err != nil {
			t.Fatalf("FindPhotoByExactHash: %v", err)
		}
		if got == nil || got.Ref != "b.jpg" {
			t.Errorf("unexpected photo %+v", got)
		}

		missing, err := store.FindPhotoByExactHash(ctx, strings.Repeat("e", 64))
		if err != nil || missing != nil {
			t.Errorf("expected nil, nil for unknown hash, got %v, %v", missing, err)
		}
	})

	t.Run("FindNearDuplicates", func(t *testing.T) {
		got, err := store.FindNearDuplicates(ctx, folder.ID, base, 10)
		if err != nil {
			t.Fatalf("FindNearDuplicates: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 near duplicates, got %+v", got)
		}
		if got[0].Ref != "a.jpg" || got[0].Distance != 0 {
			t.Errorf("closest = %+v, want a.jpg at 0", got[0])
		}
		if got[1].Ref != "b.jpg" || got[1].Distance != 4 {
			t.Errorf("second = %+v, want b.jpg at 4", got[1])
		}
	})

	t.Run("GroundTruthAndStatus", func(t *testing.T) {
		got, err := store.GetPhoto(ctx, photos[2].ID)
		if err != nil {
			t.Fatalf("GetPhoto: %v", err)
		}
		if !got.HasGroundTruth() {
			t.Error("expected ground truth")
		}

		if err := store.UpdatePhotoStatus(ctx, photos[0].ID, database.PhotoReference); err != nil {
			t.Fatalf("UpdatePhotoStatus: %v", err)
		}
		refs, err := store.ListReferencePhotos(ctx, "")
		if err != nil {
			t.Fatalf("ListReferencePhotos: %v", err)
		}
		if len(refs) != 1 || refs[0].ID != photos[0].ID {
			t.Errorf("unexpected references %+v", refs)
		}
		excluded, err := store.ListReferencePhotos(ctx, folder.ID)
		if err != nil {
			t.Fatalf("ListReferencePhotos excluding: %v", err)
		}
		if len(excluded) != 0 {
			t.Errorf("expected no references outside the folder, got %d", len(excluded))
		}
	})

	t.Run("Count", func(t *testing.T) {
		n, err := store.CountPhotos(ctx, folder.ID)
		if err != nil {
			t.Fatalf("CountPhotos: %v", err)
		}
		if n != len(photos) {
			t.Errorf("count = %d, want %d", n, len(photos))
		}
	})
}

func TestBatchRunCascade(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	folder := &database.Folder{Name: "cascade"}
	if err := store.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	photo := &database.Photo{FolderID: folder.ID, Ref: "x.jpg", ExactHash: strings.Repeat("1", 64)}
	if err := store.CreatePhoto(ctx, photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	batch := &database.Batch{FolderID: folder.ID, ConfigKey: layers.Key{UniversalVersion: 1}, Total: 2}
	if err := store.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	runs := []*database.RunResult{
		{BatchID: batch.ID, Seq: 0, PhotoID: photo.ID, ConfigID: batch.ConfigID()},
		{BatchID: batch.ID, Seq: 1, PhotoID: photo.ID, ConfigID: batch.ConfigID()},
	}
	if err := store.CreateRuns(ctx, runs); err != nil {
		t.Fatalf("CreateRuns: %v", err)
	}

	conf := 0.93
	correct := false
	runs[0].Status = database.RunEvaluated
	runs[0].Confidence = &conf
	runs[0].Correct = &correct
	runs[0].Actual = []byte(`{"reading":"1"}`)
	if err := store.UpdateRun(ctx, runs[0]); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := store.SaveCorrection(ctx, &database.Correction{
		RunID: runs[0].ID, ConfigID: batch.ConfigID(), ErrorCategory: "digit_misread",
	}); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}
	if err := store.SaveCorrection(ctx, &database.Correction{
		RunID: runs[0].ID, ConfigID: batch.ConfigID(), ErrorCategory: "decimal_point",
	}); err != nil {
		t.Fatalf("SaveCorrection again: %v", err)
	}
	saved, err := store.ListCorrections(ctx, batch.ConfigID())
	if err != nil {
		t.Fatalf("ListCorrections: %v", err)
	}
	if len(saved) != 1 || saved[0].ErrorCategory != "decimal_point" {
		t.Errorf("expected one replaced correction, got %+v", saved)
	}

	started, err := store.SetBatchStatus(ctx, batch.ID, database.BatchRunning, nil)
	if err != nil || !started {
		t.Fatalf("SetBatchStatus(running) = %v, %v", started, err)
	}
	if _, err := store.SetBatchStatus(ctx, batch.ID, database.BatchCancelled, nil); err != nil {
		t.Fatalf("SetBatchStatus(cancelled): %v", err)
	}
	reopened, err := store.SetBatchStatus(ctx, batch.ID, database.BatchRunning, nil)
	if err != nil {
		t.Fatalf("SetBatchStatus(running) after cancel: %v", err)
	}
	if reopened {
		t.Error("a cancelled batch must not move back to running")
	}
	batch.Completed = 1
	if err := store.UpdateBatchCounters(ctx, batch); err != nil {
		t.Fatalf("UpdateBatchCounters: %v", err)
	}
	stored, err := store.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if stored.Status != database.BatchCancelled || stored.Completed != 1 {
		t.Errorf("batch status = %s completed = %d, want cancelled and 1", stored.Status, stored.Completed)
	}

	got, err := store.ListRuns(ctx, database.RunFilter{
		BatchID:  batch.ID,
		Statuses: []database.RunStatus{database.RunEvaluated},
	})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 1 || got[0].Confidence == nil || *got[0].Confidence != conf {
		t.Fatalf("unexpected runs %+v", got)
	}

	if err := store.DeleteBatch(ctx, batch.ID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := store.GetRun(ctx, runs[1].ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected runs to cascade, got %v", err)
	}
	corrections, err := store.ListCorrections(ctx, batch.ConfigID())
	if err != nil {
		t.Fatalf("ListCorrections: %v", err)
	}
	if len(corrections) != 0 {
		t.Errorf("expected corrections to cascade, got %d", len(corrections))
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}

	expectedMigrations := []string{"001_initial.sql"}

	if len(applied) != len(expectedMigrations) {
		t.Errorf("Expected %d migrations, got %d", len(expectedMigrations), len(applied))
	}

	for i, expected := range expectedMigrations {
		if i < len(applied) && applied[i] != expected {
			t.Errorf("Migration %d: expected '%s', got '%s'", i, expected, applied[i])
		}
	}

	// Re-running is a no-op.
	if err := pool.Migrate(ctx); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}
