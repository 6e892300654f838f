// Package faultnet is the public entry point for running fault-aware training
// experiments and inspecting their results.
package faultnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"faultnet/internal/dataset"
	"faultnet/internal/failure"
	"faultnet/internal/fault"
	"faultnet/internal/model"
	"faultnet/internal/nn"
	"faultnet/internal/prune"
	"faultnet/internal/solver"
	"faultnet/internal/stats"
	"faultnet/internal/storage"
	"faultnet/internal/tensor"
	"faultnet/internal/train"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "faultnet.db"

	defaultStuckAtZeroFraction = 0.5

	PruneMagnitude = "magnitude"
	PruneIdentity  = "identity"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store       storage.Store
	initialized bool

	runsDir    string
	exportsDir string
	logger     *slog.Logger
}

// RunRequest configures one training run. Zero values take the defaults
// documented on each field.
type RunRequest struct {
	Dataset    string // xor
	Hidden     []int  // [8]
	Activation string // tanh
	Loss       string // softmax

	Strategy    string // none
	Threshold   float64
	RemapStart  int
	RemapPeriod int // 10
	// PruneOrders is "magnitude", "identity" or the path of a prune order
	// JSON file. Defaults to magnitude.
	PruneOrders string

	Iterations  int // 500
	BatchSize   int // whole dataset
	LRPolicy    string
	BaseLR      float64 // 0.1
	Gamma       float64
	Power       float64
	StepSize    int
	Momentum    float64
	WeightDecay float64

	Faults       bool
	WeibullShape float64 // 1.5
	WeibullScale float64 // 2 * Iterations
	// StuckAtZeroFraction is the probability that a failing cell sticks at
	// zero rather than at its current value. nil means 0.5; an explicit 0
	// keeps every failure stuck at its current value.
	StuckAtZeroFraction *float64

	Seed     uint64
	LogEvery int
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Strategy     string
	LossHistory  []float64
	FinalLoss    float64
	Accuracy     float64
	RemapCount   int
	Faults       model.FaultSummary
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Dataset      string
	Strategy     string
	Sizes        []int
	Iterations   int
	Seed         uint64
	FinalLoss    float64
	Accuracy     float64
	RemapCount   int
	StuckAtZero  int
}

// HistoryRequest selects a run by id or the latest run. Limit caps the number
// of returned entries when > 0.
type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type CompareRequest struct {
	Dataset string
	Step    int
	Name    string
}

type CompareSummary struct {
	ReportPath string
	Strategies []stats.StrategyComparison
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		runsDir:    runsDir,
		exportsDir: exportsDir,
		logger:     logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

// Reset clears every persisted run record. Artifact directories are left in
// place.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.ensureInit(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req = withDefaults(req)
	if err := validateRequest(req); err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return RunSummary{}, err
	}

	data, err := dataset.Load(req.Dataset, req.Seed)
	if err != nil {
		return RunSummary{}, err
	}
	sizes := append([]int{data.Features()}, req.Hidden...)
	sizes = append(sizes, data.Classes)

	net, err := nn.NewNetwork(nn.Config{
		Sizes:      sizes,
		Activation: req.Activation,
		Loss:       req.Loss,
		Seed:       req.Seed,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("build network: %w", err)
	}
	sgd, err := solver.NewSGD(solver.Config{
		Schedule: solver.Schedule{
			Policy:   req.LRPolicy,
			BaseLR:   req.BaseLR,
			Gamma:    req.Gamma,
			Power:    req.Power,
			StepSize: req.StepSize,
			MaxIter:  req.Iterations,
		},
		Momentum:    req.Momentum,
		WeightDecay: req.WeightDecay,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("build solver: %w", err)
	}
	orders, err := resolvePruneOrders(req.PruneOrders, net)
	if err != nil {
		return RunSummary{}, err
	}

	var injector *fault.Injector
	if req.Faults {
		injector, err = fault.NewInjector(req.WeibullShape, req.WeibullScale, *req.StuckAtZeroFraction, req.Seed)
		if err != nil {
			return RunSummary{}, fmt.Errorf("build fault injector: %w", err)
		}
	}

	runID := uuid.NewString()
	trainer, err := train.New(train.Config{
		Network:      net,
		Solver:       sgd,
		Data:         data,
		StrategyName: req.Strategy,
		StrategyOptions: failure.Options{
			Threshold:   req.Threshold,
			Start:       req.RemapStart,
			Period:      req.RemapPeriod,
			PruneOrders: orders,
		},
		Injector:   injector,
		Iterations: req.Iterations,
		BatchSize:  req.BatchSize,
		LogEvery:   req.LogEvery,
		Logger:     c.logger.With("run_id", runID),
	})
	if err != nil {
		return RunSummary{}, err
	}
	result, err := trainer.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	version := storage.CurrentVersion()
	faults := model.FaultSummary{
		VersionedRecord: version,
		RunID:           runID,
		Cells:           result.Faults.Cells,
		Scheduled:       result.Faults.Scheduled,
		Failed:          result.Faults.Failed,
		StuckAtZero:     result.Faults.StuckAtZero,
	}
	run := model.RunRecord{
		VersionedRecord: version,
		ID:              runID,
		CreatedAt:       now.Format(time.RFC3339Nano),
		Strategy:        result.Strategy,
		Dataset:         data.Name,
		Sizes:           sizes,
		Iterations:      result.Iterations,
		Seed:            req.Seed,
		FinalLoss:       result.FinalLoss,
		Accuracy:        result.Accuracy,
		RemapCount:      len(result.RemapEvents),
		StuckAtZero:     faults.StuckAtZero,
	}
	if err := c.persist(ctx, run, result, faults); err != nil {
		return RunSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:               runID,
			Dataset:             data.Name,
			Sizes:               sizes,
			Activation:          req.Activation,
			Loss:                req.Loss,
			Strategy:            result.Strategy,
			Threshold:           req.Threshold,
			RemapStart:          req.RemapStart,
			RemapPeriod:         req.RemapPeriod,
			PruneOrders:         req.PruneOrders,
			Iterations:          req.Iterations,
			BatchSize:           req.BatchSize,
			LRPolicy:            req.LRPolicy,
			BaseLR:              req.BaseLR,
			Gamma:               req.Gamma,
			Power:               req.Power,
			StepSize:            req.StepSize,
			Momentum:            req.Momentum,
			WeightDecay:         req.WeightDecay,
			Faults:              req.Faults,
			WeibullShape:        req.WeibullShape,
			WeibullScale:        req.WeibullScale,
			StuckAtZeroFraction: *req.StuckAtZeroFraction,
			Seed:                req.Seed,
		},
		LossHistory: result.LossHistory,
		FinalLoss:   result.FinalLoss,
		Accuracy:    result.Accuracy,
		RemapEvents: result.RemapEvents,
		Faults:      faults,
		Diagnostics: result.Diagnostics,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		Dataset:      data.Name,
		Strategy:     result.Strategy,
		Sizes:        sizes,
		Iterations:   result.Iterations,
		Seed:         req.Seed,
		FinalLoss:    result.FinalLoss,
		Accuracy:     result.Accuracy,
		RemapCount:   len(result.RemapEvents),
		StuckAtZero:  faults.StuckAtZero,
		CreatedAtUTC: run.CreatedAt,
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Strategy:     result.Strategy,
		LossHistory:  append([]float64(nil), result.LossHistory...),
		FinalLoss:    result.FinalLoss,
		Accuracy:     result.Accuracy,
		RemapCount:   len(result.RemapEvents),
		Faults:       faults,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Dataset:      e.Dataset,
			Strategy:     e.Strategy,
			Sizes:        e.Sizes,
			Iterations:   e.Iterations,
			Seed:         e.Seed,
			FinalLoss:    e.FinalLoss,
			Accuracy:     e.Accuracy,
			RemapCount:   e.RemapCount,
			StuckAtZero:  e.StuckAtZero,
		})
	}
	return out, nil
}

// RemapHistory returns the remap events of a run from the store, falling back
// to the run's artifacts when the store does not hold it.
func (c *Client) RemapHistory(ctx context.Context, req HistoryRequest) ([]model.RemapEvent, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, req.Limit, "remap history")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetRemapHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	events := history.Events
	if !ok {
		events, ok, err = stats.ReadRemapEvents(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("remap history not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(events) > req.Limit {
		events = events[:req.Limit]
	}
	out := make([]model.RemapEvent, len(events))
	copy(out, events)
	return out, nil
}

// LossHistory returns the per-iteration training loss of a run, from the
// store or the run's artifacts.
func (c *Client) LossHistory(ctx context.Context, req HistoryRequest) ([]float64, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, req.Limit, "loss history")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, _, ok, err = stats.ReadLossHistory(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("loss history not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

// Diagnostics returns per-iteration training diagnostics of a run.
func (c *Client) Diagnostics(ctx context.Context, req HistoryRequest) ([]model.IterationDiagnostics, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, req.Limit, "diagnostics")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetIterationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadIterationDiagnostics(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.IterationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID, err := c.resolveRunID(req.RunID, req.Latest, 0, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Compare aggregates the indexed runs by strategy and writes a comparison
// report under the runs directory.
func (c *Client) Compare(_ context.Context, req CompareRequest) (CompareSummary, error) {
	if req.Step < 0 {
		return CompareSummary{}, errors.New("step must be >= 0")
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return CompareSummary{}, err
	}
	if req.Dataset != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Dataset == req.Dataset {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if len(entries) == 0 {
		return CompareSummary{}, errors.New("no runs available")
	}

	comparisons, err := stats.BuildComparison(c.runsDir, entries, req.Step)
	if err != nil {
		return CompareSummary{}, err
	}
	name := req.Name
	if name == "" {
		name = "comparison"
		if req.Dataset != "" {
			name += "_" + req.Dataset
		}
	}
	path, err := stats.WriteComparisonReport(c.runsDir, stats.ComparisonReport{
		Name:       name,
		Dataset:    req.Dataset,
		Strategies: comparisons,
	})
	if err != nil {
		return CompareSummary{}, err
	}
	return CompareSummary{ReportPath: filepath.Clean(path), Strategies: comparisons}, nil
}

func (c *Client) ensureInit(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) persist(ctx context.Context, run model.RunRecord, result train.Result, faults model.FaultSummary) error {
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if err := c.store.SaveLossHistory(ctx, run.ID, result.LossHistory); err != nil {
		return fmt.Errorf("save loss history: %w", err)
	}
	if err := c.store.SaveRemapHistory(ctx, model.RemapHistory{
		VersionedRecord: run.VersionedRecord,
		RunID:           run.ID,
		Events:          result.RemapEvents,
	}); err != nil {
		return fmt.Errorf("save remap history: %w", err)
	}
	if err := c.store.SaveFaultSummary(ctx, faults); err != nil {
		return fmt.Errorf("save fault summary: %w", err)
	}
	if err := c.store.SaveIterationDiagnostics(ctx, run.ID, result.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	return nil
}

func (c *Client) resolveRunID(runID string, latest bool, limit int, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

func withDefaults(req RunRequest) RunRequest {
	if req.Dataset == "" {
		req.Dataset = dataset.NameXOR
	}
	if req.Hidden == nil {
		req.Hidden = []int{8}
	}
	if req.Activation == "" {
		req.Activation = "tanh"
	}
	if req.Loss == "" {
		req.Loss = nn.LossSoftmax
	}
	if req.Strategy == "" {
		req.Strategy = failure.StrategyNone
	}
	if req.RemapPeriod == 0 {
		req.RemapPeriod = 10
	}
	if req.PruneOrders == "" {
		req.PruneOrders = PruneMagnitude
	}
	if req.Iterations == 0 {
		req.Iterations = 500
	}
	if req.LRPolicy == "" {
		req.LRPolicy = solver.PolicyFixed
	}
	if req.BaseLR == 0 {
		req.BaseLR = 0.1
	}
	if req.WeibullShape == 0 {
		req.WeibullShape = 1.5
	}
	if req.WeibullScale == 0 {
		req.WeibullScale = 2 * float64(req.Iterations)
	}
	if req.StuckAtZeroFraction == nil {
		fraction := defaultStuckAtZeroFraction
		req.StuckAtZeroFraction = &fraction
	}
	return req
}

func validateRequest(req RunRequest) error {
	if req.Iterations < 0 {
		return errors.New("iterations must be >= 0")
	}
	if req.BatchSize < 0 {
		return errors.New("batch size must be >= 0")
	}
	for i, n := range req.Hidden {
		if n <= 0 {
			return fmt.Errorf("hidden layer %d size must be > 0, got %d", i, n)
		}
	}
	if req.LogEvery < 0 {
		return errors.New("log every must be >= 0")
	}
	return nil
}

func resolvePruneOrders(source string, net *nn.Network) ([][]int, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case PruneMagnitude:
		weights := make([]*tensor.Param, 0, net.Layers())
		for k := 0; k < net.Layers(); k++ {
			weights = append(weights, net.Weight(k))
		}
		return prune.MagnitudeOrders(weights), nil
	case PruneIdentity:
		return prune.Identity(net.Sizes()), nil
	}
	orders, err := prune.Load(source)
	if err != nil {
		return nil, fmt.Errorf("load prune orders: %w", err)
	}
	if err := prune.Validate(orders, net.Sizes()); err != nil {
		return nil, err
	}
	return orders, nil
}
