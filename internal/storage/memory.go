package storage

import (
	"context"
	"errors"
	"sync"

	"faultnet/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	loss        map[string][]float64
	remaps      map[string]model.RemapHistory
	faults      map[string]model.FaultSummary
	diagnostics map[string][]model.IterationDiagnostics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.loss = make(map[string][]float64)
	s.remaps = make(map[string]model.RemapHistory)
	s.faults = make(map[string]model.FaultSummary)
	s.diagnostics = make(map[string][]model.IterationDiagnostics)
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.loss[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.loss[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func (s *MemoryStore) SaveRemapHistory(_ context.Context, history model.RemapHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.remaps[history.RunID] = cloneRemapHistory(history)
	return nil
}

func (s *MemoryStore) GetRemapHistory(_ context.Context, runID string) (model.RemapHistory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.remaps[runID]
	if !ok {
		return model.RemapHistory{}, false, nil
	}
	return cloneRemapHistory(history), true, nil
}

func (s *MemoryStore) SaveFaultSummary(_ context.Context, summary model.FaultSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.faults[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetFaultSummary(_ context.Context, runID string) (model.FaultSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.faults[runID]
	return summary, ok, nil
}

func (s *MemoryStore) SaveIterationDiagnostics(_ context.Context, runID string, diagnostics []model.IterationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.diagnostics[runID] = append([]model.IterationDiagnostics(nil), diagnostics...)
	return nil
}

func (s *MemoryStore) GetIterationDiagnostics(_ context.Context, runID string) ([]model.IterationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.IterationDiagnostics(nil), diagnostics...), true, nil
}

var errNotInitialized = errors.New("store is not initialized")
