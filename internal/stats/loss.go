package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type LossSummary struct {
	Initial     float64 `json:"initial"`
	Final       float64 `json:"final"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Improvement float64 `json:"improvement"`
}

// SummarizeLoss reduces a loss history. Improvement is Initial - Final.
func SummarizeLoss(losses []float64) LossSummary {
	if len(losses) == 0 {
		return LossSummary{}
	}
	mean, std := stat.MeanStdDev(losses, nil)
	if len(losses) == 1 {
		std = 0
	}
	first, last := losses[0], losses[len(losses)-1]
	return LossSummary{
		Initial:     first,
		Final:       last,
		Mean:        mean,
		Std:         std,
		Min:         floats.Min(losses),
		Max:         floats.Max(losses),
		Improvement: first - last,
	}
}
