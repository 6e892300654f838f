package train

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"faultnet/internal/dataset"
	"faultnet/internal/failure"
	"faultnet/internal/fault"
	"faultnet/internal/nn"
	"faultnet/internal/prune"
	"faultnet/internal/solver"
	"faultnet/internal/tensor"
)

var _ failure.Network = (*nn.Network)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newNet(t *testing.T, sizes ...int) *nn.Network {
	t.Helper()
	net, err := nn.NewNetwork(nn.Config{Sizes: sizes, Activation: "tanh", Seed: 3})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return net
}

func newSGD(t *testing.T, lr, momentum float64) *solver.SGD {
	t.Helper()
	s, err := solver.NewSGD(solver.Config{Schedule: solver.Schedule{Policy: solver.PolicyFixed, BaseLR: lr}, Momentum: momentum})
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	return s
}

// snapshotter records what the params look like when the strategy chain reaches it.
type snapshotter struct {
	solver     *solver.SGD
	params     []*tensor.Param
	snapshots  [][]*tensor.Param
	iterations []int
}

func (p *snapshotter) Name() string { return "snapshotter" }

func (p *snapshotter) Apply() {
	snap := make([]*tensor.Param, len(p.params))
	for i, param := range p.params {
		snap[i] = param.Clone()
	}
	p.snapshots = append(p.snapshots, snap)
	p.iterations = append(p.iterations, p.solver.Iteration())
}

func TestNewValidation(t *testing.T) {
	net := newNet(t, 2, 3, 2)
	sgd := newSGD(t, 0.1, 0)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "network", cfg: Config{Solver: sgd, Data: dataset.XOR()}},
		{name: "solver", cfg: Config{Network: net, Data: dataset.XOR()}},
		{name: "data", cfg: Config{Network: net, Solver: sgd}},
		{name: "features", cfg: Config{Network: newNet(t, 3, 2), Solver: sgd, Data: dataset.XOR()}},
		{name: "classes", cfg: Config{Network: newNet(t, 2, 3), Solver: sgd, Data: dataset.XOR()}},
		{name: "iterations", cfg: Config{Network: net, Solver: sgd, Data: dataset.XOR(), Iterations: -1}},
		{name: "remapping orders", cfg: Config{Network: net, Solver: sgd, Data: dataset.XOR(), StrategyName: failure.StrategyRemapping, StrategyOptions: failure.Options{Period: 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	_, err := New(Config{Network: net, Solver: sgd, Data: dataset.XOR(), StrategyName: "flip"})
	if !errors.Is(err, failure.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestRemappingRelocatesNeuronsAroundStuckCells(t *testing.T) {
	net, err := nn.NewNetwork(nn.Config{Sizes: []int{2, 3, 2}, Activation: "tanh", Loss: nn.LossMSE, Seed: 11})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	fault.MarkStuck(net.WeightRecord(0), 1, 0, 0)
	fault.MarkStuck(net.WeightRecord(1), 1, 0, 2, 5)
	fault.Pin(net.LearnableParams(), net.FailureRecords())
	before := make([]*tensor.Param, 0, 4)
	for _, p := range net.LearnableParams() {
		before = append(before, p.Clone())
	}

	sgd := newSGD(t, 0.1, 0)
	remapping, err := failure.NewRemappingStrategy(net, 0, 1, prune.Identity(net.Sizes()))
	if err != nil {
		t.Fatalf("new remapping: %v", err)
	}
	after := &snapshotter{solver: sgd, params: net.LearnableParams()}
	trainer, err := New(Config{
		Network:    net,
		Solver:     sgd,
		Data:       dataset.XOR(),
		Strategy:   failure.Chain{remapping, after},
		Iterations: 1,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.RemapEvents) != 1 {
		t.Fatalf("expected one remap event, got %d", len(result.RemapEvents))
	}
	event := result.RemapEvents[0]
	if event.Iteration != 1 || event.Call != 1 || event.StuckAtZero != 3 {
		t.Fatalf("unexpected remap event: %+v", event)
	}
	order := []int{1, 0, 2}
	if !reflect.DeepEqual(event.Orders, [][]int{order}) {
		t.Fatalf("unexpected neuron order: %v", event.Orders)
	}

	// Identity prune order: neuron j moves to slot order[j].
	moved := after.snapshots[0]
	w0, b0, w1 := moved[0], moved[1], moved[2]
	for j, slot := range order {
		for c := 0; c < 2; c++ {
			if w0.Value[slot*2+c] != before[0].Value[j*2+c] {
				t.Fatalf("input row of neuron %d not in slot %d", j, slot)
			}
		}
		if b0.Value[slot] != before[1].Value[j] {
			t.Fatalf("bias of neuron %d not in slot %d", j, slot)
		}
		for k := 0; k < 2; k++ {
			if w1.Value[k*3+slot] != before[2].Value[k*3+j] {
				t.Fatalf("output column of neuron %d not in slot %d", j, slot)
			}
		}
	}
	if !result.Diagnostics[0].Remapped {
		t.Fatal("expected first iteration diagnostics to report a remap")
	}

	// Stuck slots are pinned to zero after the update.
	if net.Weight(0).Value[0] != 0 || net.Weight(1).Value[2] != 0 || net.Weight(1).Value[5] != 0 {
		t.Fatal("expected stuck cells to stay at zero")
	}
	if result.Faults.StuckAtZero != 3 {
		t.Fatalf("unexpected fault summary: %+v", result.Faults)
	}
}

func TestStrategyRunsBeforeSolverUpdate(t *testing.T) {
	net := newNet(t, 2, 3, 2)
	sgd := newSGD(t, 0.5, 0)
	p := &snapshotter{solver: sgd, params: net.LearnableParams()}
	trainer, err := New(Config{Network: net, Solver: sgd, Data: dataset.XOR(), Strategy: p, Iterations: 3, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(p.iterations, []int{0, 1, 2}) {
		t.Fatalf("strategy saw solver iterations %v", p.iterations)
	}
	nonZero := false
	for _, g := range p.snapshots[0][0].Gradient {
		if g != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatal("expected gradients to be accumulated before the strategy runs")
	}
	if sgd.Iteration() != 3 {
		t.Fatalf("expected 3 solver steps, got %d", sgd.Iteration())
	}
}

func TestThresholdDiagnostics(t *testing.T) {
	net := newNet(t, 2, 3, 2)
	sgd := newSGD(t, 0.1, 0)
	trainer, err := New(Config{
		Network:         net,
		Solver:          sgd,
		Data:            dataset.XOR(),
		StrategyName:    failure.StrategyThreshold,
		StrategyOptions: failure.Options{Threshold: 1e9},
		Iterations:      2,
		Logger:          quietLogger(),
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	before := make([]*tensor.Param, 0, 4)
	for _, p := range net.LearnableParams() {
		before = append(before, p.Clone())
	}
	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Every gradient is below the limit, so nothing moves.
	for i, p := range net.LearnableParams() {
		if !reflect.DeepEqual(p.Value, before[i].Value) {
			t.Fatalf("param %d changed under an unreachable threshold", i)
		}
	}
	total := 0
	for _, p := range net.LearnableParams() {
		total += p.Count()
	}
	if result.Diagnostics[1].ThresholdZeroed != total {
		t.Fatalf("expected %d zeroed gradients, got %d", total, result.Diagnostics[1].ThresholdZeroed)
	}
	if result.Strategy != failure.StrategyThreshold {
		t.Fatalf("unexpected strategy name: %s", result.Strategy)
	}
}

func TestRunLearnsXOR(t *testing.T) {
	net, err := nn.NewNetwork(nn.Config{Sizes: []int{2, 8, 2}, Activation: "tanh", Seed: 7})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	trainer, err := New(Config{
		Network:    net,
		Solver:     newSGD(t, 0.1, 0.9),
		Data:       dataset.XOR(),
		Iterations: 600,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.LossHistory) != 600 {
		t.Fatalf("unexpected loss history length: %d", len(result.LossHistory))
	}
	first, last := result.LossHistory[0], result.LossHistory[len(result.LossHistory)-1]
	if last >= first {
		t.Fatalf("expected loss to decrease: first=%f last=%f", first, last)
	}
	if result.Strategy != failure.StrategyNone || len(result.RemapEvents) != 0 {
		t.Fatalf("unexpected strategy result: %s events=%d", result.Strategy, len(result.RemapEvents))
	}
}

func TestRunWithInjectorAndRemapping(t *testing.T) {
	net, err := nn.NewNetwork(nn.Config{Sizes: []int{2, 4, 4, 2}, Activation: "tanh", Seed: 5})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	injector, err := fault.NewInjector(1.5, 20, 1, 9)
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	trainer, err := New(Config{
		Network:      net,
		Solver:       newSGD(t, 0.1, 0),
		Data:         dataset.XOR(),
		StrategyName: failure.StrategyThresholdRemapping,
		StrategyOptions: failure.Options{
			Threshold:   0.001,
			Start:       5,
			Period:      5,
			PruneOrders: prune.MagnitudeOrders([]*tensor.Param{net.Weight(0), net.Weight(1), net.Weight(2)}),
		},
		Injector:   injector,
		Iterations: 20,
		LogEvery:   5,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.RemapEvents) != 4 {
		t.Fatalf("expected remaps at 5,10,15,20, got %d events", len(result.RemapEvents))
	}
	for i, event := range result.RemapEvents {
		if event.Iteration != 5*(i+1) || len(event.Orders) != 2 {
			t.Fatalf("unexpected remap event %d: %+v", i, event)
		}
	}
	if result.Faults.Failed == 0 || result.Faults.Failed != result.Faults.StuckAtZero {
		t.Fatalf("expected only stuck-at-zero failures, got %+v", result.Faults)
	}
	for i, record := range net.FailureRecords() {
		for cell, marker := range record.Value {
			if marker < 0 && net.LearnableParams()[i].Value[cell] != 0 {
				t.Fatalf("param %d cell %d failed but holds %f", i, cell, net.LearnableParams()[i].Value[cell])
			}
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	net := newNet(t, 2, 3, 2)
	trainer, err := New(Config{Network: net, Solver: newSGD(t, 0.1, 0), Data: dataset.XOR(), Iterations: 5, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := trainer.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	net, err := nn.NewNetwork(nn.Config{Sizes: []int{2, 2}, Loss: nn.LossMSE})
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	// output = [x0 + x1, 0.5]: only (1,1) lands on its label.
	copy(net.Weight(0).Value, []float64{1, 1, 0, 0})
	copy(net.Bias(0).Value, []float64{0, 0.5})
	_, accuracy, err := Evaluate(net, dataset.XOR())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if accuracy != 0.25 {
		t.Fatalf("unexpected accuracy: %f", accuracy)
	}
}

func TestSharedRemappingStrategyKeepsEventsPerTrainer(t *testing.T) {
	net := newNet(t, 2, 3, 2)
	remapping, err := failure.NewRemappingStrategy(net, 0, 1, prune.Identity(net.Sizes()))
	if err != nil {
		t.Fatalf("new remapping: %v", err)
	}
	var calls []int
	remapping.OnRemap = func(times int, _ [][]int) { calls = append(calls, times) }

	run := func(iterations int) (*Trainer, Result) {
		trainer, err := New(Config{
			Network:    net,
			Solver:     newSGD(t, 0.1, 0),
			Data:       dataset.XOR(),
			Strategy:   remapping,
			Iterations: iterations,
			Logger:     quietLogger(),
		})
		if err != nil {
			t.Fatalf("new trainer: %v", err)
		}
		result, err := trainer.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return trainer, result
	}

	first, firstResult := run(2)
	second, secondResult := run(3)

	if len(firstResult.RemapEvents) != 2 || len(first.events) != 2 {
		t.Fatalf("first trainer picked up foreign events: result=%d recorded=%d", len(firstResult.RemapEvents), len(first.events))
	}
	if len(secondResult.RemapEvents) != 3 || len(second.events) != 3 {
		t.Fatalf("second trainer events: result=%d recorded=%d", len(secondResult.RemapEvents), len(second.events))
	}
	if want := []int{1, 2, 3, 4, 5}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("caller hook saw calls %v, want %v", calls, want)
	}

	remapping.OnRemap(99, nil)
	if len(first.events) != 2 || len(second.events) != 3 {
		t.Fatal("hook still routes into a finished trainer")
	}
	if calls[len(calls)-1] != 99 {
		t.Fatal("caller hook was not restored")
	}
}
