package failure

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StrategyNone               = "none"
	StrategyThreshold          = "threshold"
	StrategyRemapping          = "remapping"
	StrategyThresholdRemapping = "threshold+remapping"
)

var ErrUnknownStrategy = errors.New("unknown failure strategy")

type Options struct {
	Threshold   float64
	Start       int
	Period      int
	PruneOrders [][]int
	OnRemap     func(times int, orders [][]int)
}

// New builds the named strategy. Remapping needs PruneOrders with one entry
// per FC layer after the first.
func New(name string, net Network, solver LearningRater, opts Options) (Strategy, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", StrategyNone:
		return Chain{}, nil
	case StrategyThreshold:
		return newThreshold(net, solver, opts)
	case StrategyRemapping:
		return newRemapping(net, opts)
	case StrategyThresholdRemapping, "remapping+threshold":
		threshold, err := newThreshold(net, solver, opts)
		if err != nil {
			return nil, err
		}
		remapping, err := newRemapping(net, opts)
		if err != nil {
			return nil, err
		}
		return Chain{threshold, remapping}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
}

func ListStrategies() []string {
	return []string{StrategyNone, StrategyRemapping, StrategyThreshold, StrategyThresholdRemapping}
}

func newThreshold(net Network, solver LearningRater, opts Options) (*ThresholdStrategy, error) {
	if solver == nil {
		return nil, errors.New("threshold strategy requires a solver")
	}
	if opts.Threshold < 0 {
		return nil, fmt.Errorf("threshold must be >= 0, got %f", opts.Threshold)
	}
	return NewThresholdStrategy(net, solver, opts.Threshold), nil
}

func newRemapping(net Network, opts Options) (*RemappingStrategy, error) {
	s, err := NewRemappingStrategy(net, opts.Start, opts.Period, opts.PruneOrders)
	if err != nil {
		return nil, err
	}
	s.OnRemap = opts.OnRemap
	return s, nil
}
