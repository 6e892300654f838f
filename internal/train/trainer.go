// Package train runs minibatch training of an nn.Network with failure
// injection and failure strategies in the loop.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"faultnet/internal/dataset"
	"faultnet/internal/failure"
	"faultnet/internal/fault"
	"faultnet/internal/model"
	"faultnet/internal/nn"
	"faultnet/internal/solver"
	"faultnet/internal/tensor"
)

type Config struct {
	Network *nn.Network
	Solver  *solver.SGD
	Data    *dataset.Dataset

	// Strategy, when set, is used as is. Otherwise StrategyName and
	// StrategyOptions build one through failure.New. The trainer hooks the
	// OnRemap of remapping strategies only while Run executes and restores
	// the previous hook afterwards, so a strategy may serve several trainers
	// one after another but not concurrently.
	Strategy        failure.Strategy
	StrategyName    string
	StrategyOptions failure.Options

	// Injector is optional. Without it only failures already present in the
	// network's records take effect.
	Injector *fault.Injector

	Iterations int
	BatchSize  int
	LogEvery   int
	Logger     *slog.Logger
}

type Result struct {
	Strategy    string
	Iterations  int
	LossHistory []float64
	FinalLoss   float64
	Accuracy    float64
	RemapEvents []model.RemapEvent
	Faults      fault.Summary
	Diagnostics []model.IterationDiagnostics
}

// Trainer owns one training run. Each iteration it:
//
//  1. fails the cells whose scheduled iteration has come and pins them,
//  2. accumulates the minibatch gradients,
//  3. applies the failure strategy,
//  4. lets the solver update the params,
//  5. pins failed cells back to their stored values.
type Trainer struct {
	cfg       Config
	strategy  failure.Strategy
	threshold *failure.ThresholdStrategy
	logger    *slog.Logger

	step   int
	events []model.RemapEvent
}

func New(cfg Config) (*Trainer, error) {
	if cfg.Network == nil {
		return nil, errors.New("network is required")
	}
	if cfg.Solver == nil {
		return nil, errors.New("solver is required")
	}
	if cfg.Data == nil || cfg.Data.Len() == 0 {
		return nil, errors.New("dataset is required")
	}
	sizes := cfg.Network.Sizes()
	if cfg.Data.Features() != sizes[0] {
		return nil, fmt.Errorf("dataset has %d features, network expects %d inputs", cfg.Data.Features(), sizes[0])
	}
	if cfg.Data.Classes != sizes[len(sizes)-1] {
		return nil, fmt.Errorf("dataset has %d classes, network has %d outputs", cfg.Data.Classes, sizes[len(sizes)-1])
	}
	if cfg.Iterations < 0 {
		return nil, errors.New("iterations must be >= 0")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Data.Len()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	strategy := cfg.Strategy
	if strategy == nil {
		var err error
		strategy, err = failure.New(cfg.StrategyName, cfg.Network, cfg.Solver, cfg.StrategyOptions)
		if err != nil {
			return nil, fmt.Errorf("build strategy: %w", err)
		}
	}

	t := &Trainer{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.With("component", "train", "strategy", strategy.Name()),
	}
	t.threshold = findThreshold(strategy)
	return t, nil
}

func (t *Trainer) Strategy() failure.Strategy { return t.strategy }

func findThreshold(s failure.Strategy) *failure.ThresholdStrategy {
	switch s := s.(type) {
	case failure.Chain:
		for _, inner := range s {
			if th := findThreshold(inner); th != nil {
				return th
			}
		}
	case *failure.ThresholdStrategy:
		return s
	}
	return nil
}

// hookRemaps routes remap events from every remapping strategy reachable
// from s into t. The returned func puts the previous hooks back.
func (t *Trainer) hookRemaps(s failure.Strategy) (restore func()) {
	var undo []func()
	var walk func(failure.Strategy)
	walk = func(s failure.Strategy) {
		switch s := s.(type) {
		case failure.Chain:
			for _, inner := range s {
				walk(inner)
			}
		case *failure.RemappingStrategy:
			prev := s.OnRemap
			s.OnRemap = func(times int, orders [][]int) {
				t.recordRemap(times, orders)
				if prev != nil {
					prev(times, orders)
				}
			}
			undo = append(undo, func() { s.OnRemap = prev })
		}
	}
	walk(s)
	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
}

func (t *Trainer) recordRemap(times int, orders [][]int) {
	copied := make([][]int, len(orders))
	for i := range orders {
		copied[i] = append([]int(nil), orders[i]...)
	}
	stuck := 0
	for _, id := range t.cfg.Network.FCParamIDs() {
		stuck += fault.CountStuck(t.cfg.Network.FailureRecords()[id])
	}
	t.events = append(t.events, model.RemapEvent{
		Iteration:   t.step,
		Call:        times,
		Orders:      copied,
		StuckAtZero: stuck,
	})
	t.logger.Info("remapped neurons", "iteration", t.step, "call", times, "stuck_at_zero", stuck)
}

func (t *Trainer) Run(ctx context.Context) (Result, error) {
	net := t.cfg.Network
	params := net.LearnableParams()
	records := net.FailureRecords()

	restore := t.hookRemaps(t.strategy)
	defer restore()

	if t.cfg.Injector != nil {
		scheduled := t.cfg.Injector.Schedule(records)
		t.logger.Debug("scheduled cell failures", "cells", scheduled)
	}
	fault.Pin(params, records)

	result := Result{
		Strategy:    t.strategy.Name(),
		LossHistory: make([]float64, 0, t.cfg.Iterations),
		Diagnostics: make([]model.IterationDiagnostics, 0, t.cfg.Iterations),
	}
	for i := 0; i < t.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t.step++
		diag, err := t.iterate()
		if err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", t.step, err)
		}
		result.LossHistory = append(result.LossHistory, diag.Loss)
		result.Diagnostics = append(result.Diagnostics, diag)

		if t.cfg.LogEvery > 0 && t.step%t.cfg.LogEvery == 0 {
			t.logger.Info("training progress",
				"iteration", t.step,
				"loss", diag.Loss,
				"learning_rate", diag.LearningRate,
				"stuck_at_zero", diag.StuckAtZero,
			)
		}
	}

	loss, accuracy, err := Evaluate(net, t.cfg.Data)
	if err != nil {
		return Result{}, err
	}
	result.Iterations = t.step
	result.FinalLoss = loss
	result.Accuracy = accuracy
	result.RemapEvents = append([]model.RemapEvent(nil), t.events...)
	result.Faults = fault.Summarize(fcRecords(net))
	return result, nil
}

func (t *Trainer) iterate() (model.IterationDiagnostics, error) {
	net := t.cfg.Network
	params := net.LearnableParams()
	records := net.FailureRecords()

	newFailures := 0
	if t.cfg.Injector != nil {
		newFailures = t.cfg.Injector.Advance(t.step, params, records)
		if newFailures > 0 {
			fault.Pin(params, records)
			t.logger.Debug("cells failed", "iteration", t.step, "cells", newFailures)
		}
	}

	net.ZeroGradients()
	batch := t.cfg.Data.Batch(t.step-1, t.cfg.BatchSize)
	loss := 0.0
	for _, idx := range batch {
		if _, err := net.Forward(t.cfg.Data.Inputs[idx]); err != nil {
			return model.IterationDiagnostics{}, err
		}
		l, err := net.Backward(t.cfg.Data.Target(idx))
		if err != nil {
			return model.IterationDiagnostics{}, err
		}
		loss += l
	}
	scale := 1 / float64(len(batch))
	net.ScaleGradients(scale)
	loss *= scale

	rate := t.cfg.Solver.CurrentLearningRate()
	remaps := len(t.events)
	t.strategy.Apply()
	t.cfg.Solver.Step(params, net.ParamLRScales())
	fault.Pin(params, records)

	diag := model.IterationDiagnostics{
		Iteration:    t.step,
		Loss:         loss,
		LearningRate: rate,
		NewFailures:  newFailures,
		StuckAtZero:  fault.Summarize(fcRecords(net)).StuckAtZero,
		Remapped:     len(t.events) > remaps,
	}
	if t.threshold != nil {
		diag.ThresholdZeroed = t.threshold.LastZeroed()
	}
	return diag, nil
}

// Evaluate returns the mean loss and the classification accuracy of net over
// every sample of data.
func Evaluate(net *nn.Network, data *dataset.Dataset) (float64, float64, error) {
	if data.Len() == 0 {
		return 0, 0, errors.New("dataset is empty")
	}
	loss := 0.0
	correct := 0
	for i, input := range data.Inputs {
		out, err := net.Forward(input)
		if err != nil {
			return 0, 0, err
		}
		loss += net.Loss(out, data.Target(i))
		if floats.MaxIdx(out) == data.Labels[i] {
			correct++
		}
	}
	n := float64(data.Len())
	return loss / n, float64(correct) / n, nil
}

func fcRecords(net *nn.Network) []*tensor.Param {
	records := net.FailureRecords()
	out := make([]*tensor.Param, 0, len(net.FCParamIDs()))
	for _, id := range net.FCParamIDs() {
		out = append(out, records[id])
	}
	return out
}
