package stats

import (
	"math"
	"testing"
)

func TestSummarizeLoss(t *testing.T) {
	got := SummarizeLoss([]float64{4, 2, 3, 1})
	if got.Initial != 4 || got.Final != 1 || got.Min != 1 || got.Max != 4 || got.Improvement != 3 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if math.Abs(got.Mean-2.5) > 1e-12 {
		t.Fatalf("unexpected mean: %f", got.Mean)
	}
	// sample standard deviation of {1,2,3,4}
	if math.Abs(got.Std-math.Sqrt(5.0/3.0)) > 1e-12 {
		t.Fatalf("unexpected std: %f", got.Std)
	}
}

func TestSummarizeLossEdgeCases(t *testing.T) {
	if got := SummarizeLoss(nil); got != (LossSummary{}) {
		t.Fatalf("expected zero summary, got %+v", got)
	}
	got := SummarizeLoss([]float64{0.5})
	if got.Std != 0 || got.Mean != 0.5 || got.Improvement != 0 {
		t.Fatalf("unexpected single-sample summary: %+v", got)
	}
}
