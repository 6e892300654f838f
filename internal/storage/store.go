package storage

import (
	"context"

	"faultnet/internal/model"
)

// Store persists training runs and the histories recorded while they ran.
// Get methods report a missing record with ok == false and a nil error.
type Store interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveRemapHistory(ctx context.Context, history model.RemapHistory) error
	GetRemapHistory(ctx context.Context, runID string) (model.RemapHistory, bool, error)
	SaveFaultSummary(ctx context.Context, summary model.FaultSummary) error
	GetFaultSummary(ctx context.Context, runID string) (model.FaultSummary, bool, error)
	SaveIterationDiagnostics(ctx context.Context, runID string, diagnostics []model.IterationDiagnostics) error
	GetIterationDiagnostics(ctx context.Context, runID string) ([]model.IterationDiagnostics, bool, error)
}
