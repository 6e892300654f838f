// Package failure applies hardware failure strategies to a network's
// learnable parameters once per training iteration. Strategies mutate the
// parameter tensors in place and must run before the solver update of the
// same iteration. They are not safe for concurrent use.
package failure

import "faultnet/internal/tensor"

// Network is the view of the parameter container the strategies need.
//
// LearnableParams, ParamLRScales and FailureRecords are aligned by index.
// FCParamIDs lists, in layer order, the index of each fully-connected
// layer's weight; its bias sits at the following index.
type Network interface {
	LearnableParams() []*tensor.Param
	ParamLRScales() []float64
	FCParamIDs() []int
	FailureRecords() []*tensor.Param
}

type LearningRater interface {
	CurrentLearningRate() float64
}

type Strategy interface {
	Name() string
	Apply()
}

// Chain applies its strategies in order.
type Chain []Strategy

func (c Chain) Name() string {
	name := ""
	for i, s := range c {
		if i > 0 {
			name += "+"
		}
		name += s.Name()
	}
	if name == "" {
		return "none"
	}
	return name
}

func (c Chain) Apply() {
	for _, s := range c {
		s.Apply()
	}
}
