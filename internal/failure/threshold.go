package failure

import (
	"fmt"
	"math"
)

// ThresholdStrategy zeroes every gradient whose magnitude would produce an
// update at or below threshold, emulating hardware that cannot program
// changes smaller than its drive resolution.
type ThresholdStrategy struct {
	net       Network
	solver    LearningRater
	threshold float64

	lastZeroed int
}

func NewThresholdStrategy(net Network, solver LearningRater, threshold float64) *ThresholdStrategy {
	return &ThresholdStrategy{net: net, solver: solver, threshold: threshold}
}

func (s *ThresholdStrategy) Name() string { return "threshold" }

func (s *ThresholdStrategy) Apply() {
	params := s.net.LearnableParams()
	scales := s.net.ParamLRScales()
	if len(scales) != len(params) {
		panic(fmt.Sprintf("failure: %d lr scales for %d params", len(scales), len(params)))
	}
	lr := s.solver.CurrentLearningRate()

	zeroed := 0
	for i, param := range params {
		limit := s.threshold * scales[i] * lr
		grad := param.Gradient
		for j, g := range grad {
			if math.Abs(g) <= limit {
				grad[j] = 0
				zeroed++
			}
		}
	}
	s.lastZeroed = zeroed
}

// LastZeroed reports how many gradient entries the most recent Apply cleared,
// including entries that were already zero.
func (s *ThresholdStrategy) LastZeroed() int {
	return s.lastZeroed
}
