package failure

import (
	"reflect"
	"testing"

	"faultnet/internal/tensor"
)

func TestThresholdStrategyZeroesSmallGradients(t *testing.T) {
	w := tensor.FromValues([]float64{1, 2, 3, 4, 5}, 5)
	w.Gradient = []float64{0.1, -0.125, 0.126, -0.5, 0}
	b := tensor.FromValues([]float64{7, 8, 9}, 3)
	b.Gradient = []float64{0.25, -0.2, 0.3}
	net := &fakeNet{
		params: []*tensor.Param{w, b},
		scales: []float64{1, 2},
	}

	// limits: 0.25*1*0.5 = 0.125 for w, 0.25*2*0.5 = 0.25 for b
	s := NewThresholdStrategy(net, fixedRate(0.5), 0.25)
	s.Apply()

	if want := []float64{0, 0, 0.126, -0.5, 0}; !reflect.DeepEqual(w.Gradient, want) {
		t.Fatalf("unexpected weight gradients: got=%v want=%v", w.Gradient, want)
	}
	if want := []float64{0, 0, 0.3}; !reflect.DeepEqual(b.Gradient, want) {
		t.Fatalf("unexpected bias gradients: got=%v want=%v", b.Gradient, want)
	}
	if want := []float64{1, 2, 3, 4, 5}; !reflect.DeepEqual(w.Value, want) {
		t.Fatalf("threshold strategy touched values: %v", w.Value)
	}
	if s.LastZeroed() != 5 {
		t.Fatalf("unexpected zeroed count: got=%d want=5", s.LastZeroed())
	}
}

func TestThresholdStrategyTracksLearningRate(t *testing.T) {
	w := tensor.New(2)
	w.Gradient = []float64{0.3, 0.05}
	net := &fakeNet{params: []*tensor.Param{w}, scales: []float64{1}}

	NewThresholdStrategy(net, fixedRate(0.01), 10).Apply()
	if w.Gradient[0] != 0.3 || w.Gradient[1] != 0 {
		t.Fatalf("unexpected gradients with lr=0.01: %v", w.Gradient)
	}
}

func TestThresholdStrategyRunsEveryCall(t *testing.T) {
	w := tensor.New(1)
	net := &fakeNet{params: []*tensor.Param{w}, scales: []float64{1}}
	s := NewThresholdStrategy(net, fixedRate(1), 0.5)
	for i := 0; i < 3; i++ {
		w.Gradient[0] = 0.4
		s.Apply()
		if w.Gradient[0] != 0 {
			t.Fatalf("call %d: expected gradient cleared, got %f", i+1, w.Gradient[0])
		}
	}
}

func TestThresholdStrategyEmptyParamIsNoop(t *testing.T) {
	net := &fakeNet{params: []*tensor.Param{tensor.New()}, scales: []float64{1}}
	NewThresholdStrategy(net, fixedRate(1), 1).Apply()
}

func TestThresholdStrategyScaleMismatchPanics(t *testing.T) {
	net := &fakeNet{params: []*tensor.Param{tensor.New(1)}}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on lr scale mismatch")
		}
	}()
	NewThresholdStrategy(net, fixedRate(1), 1).Apply()
}
