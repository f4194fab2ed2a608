package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"flapevo/internal/model"
)

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord:      Versioned(),
		ID:                   id,
		CreatedAt:            created,
		Environment:          "skyline",
		Seed:                 11,
		PopulationSize:       50,
		Topology:             "5-8-1",
		Activation:           "sigmoid",
		Selector:             "tournament",
		MutationRate:         0.2,
		GenerationsRequested: 3,
		GenerationsCompleted: 3,
		BestScore:            4,
		BestFitness:          0.12,
		ChampionScore:        4,
		Status:               model.RunStatusCompleted,
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(filepath.Join(t.TempDir(), "flapevo.db")),
	}
	for name, store := range stores {
		if err := store.Init(ctx); err != nil {
			t.Fatalf("%s init: %v", name, err)
		}
		store := store
		t.Cleanup(func() {
			_ = CloseIfSupported(store)
		})
	}
	return stores
}

func TestStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, store := range openStores(t) {
		if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
			t.Fatalf("%s: expected missing run, ok=%v err=%v", name, ok, err)
		}

		older := sampleRun("run-a", base)
		newer := sampleRun("run-b", base.Add(time.Hour))
		for _, run := range []model.RunRecord{older, newer} {
			if err := store.SaveRun(ctx, run); err != nil {
				t.Fatalf("%s save run: %v", name, err)
			}
		}
		loaded, ok, err := store.GetRun(ctx, "run-a")
		if err != nil || !ok {
			t.Fatalf("%s get run: ok=%v err=%v", name, ok, err)
		}
		if loaded.Topology != "5-8-1" || loaded.BestScore != 4 || !loaded.CreatedAt.Equal(base) {
			t.Fatalf("%s: unexpected run loaded: %+v", name, loaded)
		}

		runs, err := store.ListRuns(ctx)
		if err != nil {
			t.Fatalf("%s list runs: %v", name, err)
		}
		if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
			t.Fatalf("%s: runs not newest first: %+v", name, runs)
		}

		older.Status = model.RunStatusCancelled
		if err := store.SaveRun(ctx, older); err != nil {
			t.Fatalf("%s overwrite run: %v", name, err)
		}
		loaded, _, _ = store.GetRun(ctx, "run-a")
		if loaded.Status != model.RunStatusCancelled {
			t.Fatalf("%s: run not overwritten: %+v", name, loaded)
		}
	}
}

func TestStoreRejectsStaleRunVersion(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		run := sampleRun("run-old", time.Now())
		run.SchemaVersion = CurrentSchemaVersion + 1
		if err := store.SaveRun(ctx, run); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("%s: expected ErrVersionMismatch, got %v", name, err)
		}
	}
}

func TestStoreDiagnosticsRoundTrip(t *testing.T) {
	ctx := context.Background()
	input := []model.GenerationDiagnostics{
		{Generation: 1, Trigger: "extinction", Ticks: 120, BestFitness: 0.01, BestScore: 1},
		{Generation: 2, Trigger: "timeout", Ticks: 3000, BestFitness: 0.02, BestScore: 9, ChampionScore: 9},
	}
	for name, store := range openStores(t) {
		if err := store.SaveGenerationDiagnostics(ctx, "run-1", input); err != nil {
			t.Fatalf("%s save diagnostics: %v", name, err)
		}
		output, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
		if err != nil || !ok {
			t.Fatalf("%s get diagnostics: ok=%v err=%v", name, ok, err)
		}
		if len(output) != 2 || output[1] != input[1] {
			t.Fatalf("%s: unexpected diagnostics: %+v", name, output)
		}
		if _, ok, err := store.GetGenerationDiagnostics(ctx, "run-2"); err != nil || ok {
			t.Fatalf("%s: expected no diagnostics for unknown run", name)
		}
	}
}

func TestStoreFitnessHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		input := []float64{0.1, 0.25, 0.5}
		if err := store.SaveFitnessHistory(ctx, "run-1", input); err != nil {
			t.Fatalf("%s save history: %v", name, err)
		}
		input[0] = 99
		output, ok, err := store.GetFitnessHistory(ctx, "run-1")
		if err != nil || !ok {
			t.Fatalf("%s get history: ok=%v err=%v", name, ok, err)
		}
		if len(output) != 3 || output[0] != 0.1 || output[2] != 0.5 {
			t.Fatalf("%s: unexpected history: %v", name, output)
		}
	}
}

func TestStoreLineageRoundTrip(t *testing.T) {
	ctx := context.Background()
	input := []model.LineageRecord{
		{VersionedRecord: Versioned(), Slot: 0, Generation: 2, ParentA: 4, ParentB: 1, Split: 3, Operation: "crossover+mutate"},
		{VersionedRecord: Versioned(), Slot: 1, Generation: 2, ParentA: 4, ParentB: -1, Split: -1, Operation: "elite_clone"},
	}
	for name, store := range openStores(t) {
		if err := store.SaveLineage(ctx, "run-1", input); err != nil {
			t.Fatalf("%s save lineage: %v", name, err)
		}
		output, ok, err := store.GetLineage(ctx, "run-1")
		if err != nil || !ok {
			t.Fatalf("%s get lineage: ok=%v err=%v", name, ok, err)
		}
		if len(output) != 2 || output[1].Operation != "elite_clone" || output[0].Split != 3 {
			t.Fatalf("%s: unexpected lineage: %+v", name, output)
		}
		stale := []model.LineageRecord{{Slot: 0}}
		if err := store.SaveLineage(ctx, "run-2", stale); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("%s: expected ErrVersionMismatch, got %v", name, err)
		}
	}
}

func TestStoresRequireInit(t *testing.T) {
	ctx := context.Background()
	sqlite := NewSQLiteStore(filepath.Join(t.TempDir(), "flapevo.db"))
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "sqlite": sqlite} {
		if err := store.SaveRun(ctx, sampleRun("run", time.Now())); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("%s: expected ErrNotInitialized, got %v", name, err)
		}
	}
	if err := NewSQLiteStore("").Init(ctx); err == nil {
		t.Fatal("expected error for empty sqlite path")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flapevo.db")

	first := NewSQLiteStore(path)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SaveRun(ctx, sampleRun("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewSQLiteStore(path)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if _, ok, err := second.GetRun(ctx, "run-1"); err != nil || !ok {
		t.Fatalf("run not persisted: ok=%v err=%v", ok, err)
	}
}
