package storage

import (
	"context"
	"testing"

	"faultnet/internal/model"
)

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), model.RunRecord{ID: "r1"}); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreRunsListedInCreationOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	runs := []model.RunRecord{
		{VersionedRecord: CurrentVersion(), ID: "b", CreatedAt: "2026-01-02T00:00:00Z", Sizes: []int{2, 2}},
		{VersionedRecord: CurrentVersion(), ID: "a", CreatedAt: "2026-01-03T00:00:00Z"},
		{VersionedRecord: CurrentVersion(), ID: "c", CreatedAt: "2026-01-01T00:00:00Z"},
	}
	for _, run := range runs {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}
	listed, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != "c" || listed[1].ID != "b" || listed[2].ID != "a" {
		t.Fatalf("unexpected run order: %+v", listed)
	}

	got, ok, err := store.GetRun(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	got.Sizes[0] = 99
	again, _, _ := store.GetRun(ctx, "b")
	if again.Sizes[0] != 2 {
		t.Fatal("expected stored run to be isolated from callers")
	}

	if err := store.SaveRun(ctx, model.RunRecord{}); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestMemoryStoreHistoriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	if err := store.SaveLossHistory(ctx, "r1", []float64{0.9, 0.5, 0.2}); err != nil {
		t.Fatalf("save loss: %v", err)
	}
	loss, ok, err := store.GetLossHistory(ctx, "r1")
	if err != nil || !ok || len(loss) != 3 || loss[2] != 0.2 {
		t.Fatalf("unexpected loss history: %v ok=%t err=%v", loss, ok, err)
	}

	remaps := model.RemapHistory{
		VersionedRecord: CurrentVersion(),
		RunID:           "r1",
		Events:          []model.RemapEvent{{Iteration: 5, Call: 5, Orders: [][]int{{1, 0, 2}}, StuckAtZero: 3}},
	}
	if err := store.SaveRemapHistory(ctx, remaps); err != nil {
		t.Fatalf("save remaps: %v", err)
	}
	remaps.Events[0].Orders[0][0] = 7
	loaded, ok, err := store.GetRemapHistory(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get remaps: ok=%t err=%v", ok, err)
	}
	if loaded.Events[0].Orders[0][0] != 1 {
		t.Fatalf("expected stored orders to be copied, got %v", loaded.Events[0].Orders)
	}

	summary := model.FaultSummary{VersionedRecord: CurrentVersion(), RunID: "r1", Cells: 12, Failed: 4, StuckAtZero: 3}
	if err := store.SaveFaultSummary(ctx, summary); err != nil {
		t.Fatalf("save faults: %v", err)
	}
	gotSummary, ok, err := store.GetFaultSummary(ctx, "r1")
	if err != nil || !ok || gotSummary != summary {
		t.Fatalf("unexpected fault summary: %+v ok=%t err=%v", gotSummary, ok, err)
	}

	diagnostics := []model.IterationDiagnostics{{Iteration: 1, Loss: 0.7}, {Iteration: 2, Loss: 0.6, Remapped: true}}
	if err := store.SaveIterationDiagnostics(ctx, "r1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	gotDiagnostics, ok, err := store.GetIterationDiagnostics(ctx, "r1")
	if err != nil || !ok || len(gotDiagnostics) != 2 || !gotDiagnostics[1].Remapped {
		t.Fatalf("unexpected diagnostics: %+v ok=%t err=%v", gotDiagnostics, ok, err)
	}
}

func TestMemoryStoreMissingAndReset(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	if _, ok, err := store.GetLossHistory(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing loss history, ok=%t err=%v", ok, err)
	}
	if err := store.SaveRun(ctx, model.RunRecord{VersionedRecord: CurrentVersion(), ID: "r1"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if _, ok, _ := store.GetRun(ctx, "r1"); !ok {
		t.Fatal("expected init to keep existing data")
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := store.GetRun(ctx, "r1"); ok {
		t.Fatal("expected reset to clear runs")
	}
}
