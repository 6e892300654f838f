//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"faultnet/internal/model"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "faultnet.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	first := model.RunRecord{VersionedRecord: CurrentVersion(), ID: "r2", CreatedAt: "2026-02-01T00:00:00Z", Strategy: "remapping", Sizes: []int{2, 3, 2}}
	second := model.RunRecord{VersionedRecord: CurrentVersion(), ID: "r1", CreatedAt: "2026-02-02T00:00:00Z", Strategy: "threshold"}
	for _, run := range []model.RunRecord{second, first} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || loaded.Strategy != "remapping" || len(loaded.Sizes) != 3 {
		t.Fatalf("unexpected run loaded: %+v", loaded)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" || runs[1].ID != "r1" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	if _, ok, err := store.GetRun(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStoreHistoriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	if err := store.SaveLossHistory(ctx, "r1", []float64{0.7, 0.4}); err != nil {
		t.Fatalf("save loss: %v", err)
	}
	if err := store.SaveLossHistory(ctx, "r1", []float64{0.7, 0.4, 0.1}); err != nil {
		t.Fatalf("overwrite loss: %v", err)
	}
	loss, ok, err := store.GetLossHistory(ctx, "r1")
	if err != nil || !ok || len(loss) != 3 {
		t.Fatalf("unexpected loss history: %v ok=%t err=%v", loss, ok, err)
	}

	remaps := model.RemapHistory{
		VersionedRecord: CurrentVersion(),
		RunID:           "r1",
		Events:          []model.RemapEvent{{Iteration: 1, Call: 1, Orders: [][]int{{1, 0, 2}}, StuckAtZero: 3}},
	}
	if err := store.SaveRemapHistory(ctx, remaps); err != nil {
		t.Fatalf("save remaps: %v", err)
	}
	loadedRemaps, ok, err := store.GetRemapHistory(ctx, "r1")
	if err != nil || !ok || len(loadedRemaps.Events) != 1 || loadedRemaps.Events[0].Orders[0][0] != 1 {
		t.Fatalf("unexpected remaps: %+v ok=%t err=%v", loadedRemaps, ok, err)
	}

	summary := model.FaultSummary{VersionedRecord: CurrentVersion(), RunID: "r1", Cells: 12, Failed: 3, StuckAtZero: 3}
	if err := store.SaveFaultSummary(ctx, summary); err != nil {
		t.Fatalf("save faults: %v", err)
	}
	loadedSummary, ok, err := store.GetFaultSummary(ctx, "r1")
	if err != nil || !ok || loadedSummary != summary {
		t.Fatalf("unexpected fault summary: %+v ok=%t err=%v", loadedSummary, ok, err)
	}

	diagnostics := []model.IterationDiagnostics{{Iteration: 1, Loss: 0.5, ThresholdZeroed: 4}}
	if err := store.SaveIterationDiagnostics(ctx, "r1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	loadedDiagnostics, ok, err := store.GetIterationDiagnostics(ctx, "r1")
	if err != nil || !ok || len(loadedDiagnostics) != 1 || loadedDiagnostics[0].ThresholdZeroed != 4 {
		t.Fatalf("unexpected diagnostics: %+v ok=%t err=%v", loadedDiagnostics, ok, err)
	}
}

func TestSQLiteStoreReset(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	if err := store.SaveRun(ctx, model.RunRecord{VersionedRecord: CurrentVersion(), ID: "r1", CreatedAt: "2026-02-01T00:00:00Z"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
}

func TestNewStoreSQLiteRequiresPath(t *testing.T) {
	if _, err := NewStore("sqlite", ""); err == nil {
		t.Fatal("expected missing path error")
	}
	if DefaultStoreKind() != "sqlite" {
		t.Fatalf("expected sqlite default kind, got %s", DefaultStoreKind())
	}
}
