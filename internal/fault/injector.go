package fault

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"faultnet/internal/tensor"
)

// Injector schedules permanent cell failures and applies them as training
// advances. Cell lifetimes follow a Weibull distribution measured in
// iterations; a failed cell is stuck at zero with probability
// StuckAtZeroFraction and stuck at its current value otherwise.
type Injector struct {
	Shape               float64
	Scale               float64
	StuckAtZeroFraction float64

	rng      *rand.Rand
	lifetime distuv.Weibull
}

func NewInjector(shape, scale, stuckAtZeroFraction float64, seed uint64) (*Injector, error) {
	if shape <= 0 {
		return nil, errors.New("weibull shape must be > 0")
	}
	if scale <= 0 {
		return nil, errors.New("weibull scale must be > 0")
	}
	if stuckAtZeroFraction < 0 || stuckAtZeroFraction > 1 {
		return nil, fmt.Errorf("stuck-at-zero fraction must be in [0,1], got %f", stuckAtZeroFraction)
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Injector{
		Shape:               shape,
		Scale:               scale,
		StuckAtZeroFraction: stuckAtZeroFraction,
		rng:                 rand.New(src),
		lifetime:            distuv.Weibull{K: shape, Lambda: scale, Src: src},
	}, nil
}

// Schedule draws a failure iteration for every cell that has none yet.
func (in *Injector) Schedule(records []*tensor.Param) int {
	scheduled := 0
	for _, record := range records {
		if record == nil {
			continue
		}
		for cell, marker := range record.Value {
			if marker != 0 {
				continue
			}
			record.Value[cell] = math.Max(1, math.Ceil(in.lifetime.Rand()))
			scheduled++
		}
	}
	return scheduled
}

// Advance fails every scheduled cell whose failure iteration is at or before
// iteration, capturing the stored value from params. It returns the number of
// newly failed cells.
func (in *Injector) Advance(iteration int, params, records []*tensor.Param) int {
	if iteration <= 0 {
		panic(fmt.Sprintf("fault: iteration must be > 0, got %d", iteration))
	}
	if len(records) != len(params) {
		panic(fmt.Sprintf("fault: %d records for %d params", len(records), len(params)))
	}
	failed := 0
	now := float64(iteration)
	for i, record := range records {
		if record == nil {
			continue
		}
		param := params[i]
		for cell, marker := range record.Value {
			if marker <= 0 || marker > now {
				continue
			}
			stored := param.Value[cell]
			if in.rng.Float64() < in.StuckAtZeroFraction {
				stored = 0
			}
			record.Value[cell] = -now
			record.Gradient[cell] = stored
			failed++
		}
	}
	return failed
}
