package solver

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"faultnet/internal/tensor"
)

type Config struct {
	Schedule    Schedule `json:"schedule"`
	Momentum    float64  `json:"momentum,omitempty"`
	WeightDecay float64  `json:"weight_decay,omitempty"`
}

// SGD is stochastic gradient descent with momentum and L2 weight decay.
// Each call to Step consumes the gradients of one iteration and advances the
// iteration count that drives the learning rate schedule.
type SGD struct {
	cfg     Config
	iter    int
	history [][]float64
	update  []float64
}

func NewSGD(cfg Config) (*SGD, error) {
	cfg.Schedule.Policy = normalizePolicy(cfg.Schedule.Policy)
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("learning rate schedule: %w", err)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return nil, errors.New("momentum must be in [0, 1)")
	}
	if cfg.WeightDecay < 0 {
		return nil, errors.New("weight decay must be >= 0")
	}
	return &SGD{cfg: cfg}, nil
}

func (s *SGD) Config() Config { return s.cfg }

func (s *SGD) Iteration() int { return s.iter }

func (s *SGD) CurrentLearningRate() float64 {
	return s.cfg.Schedule.Rate(s.iter)
}

// Step applies one update to every param. scales holds the per-param
// learning rate multiplier and must be aligned with params.
func (s *SGD) Step(params []*tensor.Param, scales []float64) {
	if len(scales) != len(params) {
		panic(fmt.Sprintf("solver: %d lr scales for %d params", len(scales), len(params)))
	}
	if s.history == nil {
		s.history = make([][]float64, len(params))
	}
	if len(s.history) != len(params) {
		panic(fmt.Sprintf("solver: param count changed from %d to %d", len(s.history), len(params)))
	}

	rate := s.CurrentLearningRate()
	for i, p := range params {
		if len(s.history[i]) != p.Count() {
			s.history[i] = make([]float64, p.Count())
		}
		h := s.history[i]
		if cap(s.update) < p.Count() {
			s.update = make([]float64, p.Count())
		}
		update := s.update[:p.Count()]

		copy(update, p.Gradient)
		if s.cfg.WeightDecay > 0 {
			floats.AddScaled(update, s.cfg.WeightDecay, p.Value)
		}
		floats.Scale(s.cfg.Momentum, h)
		floats.AddScaled(h, rate*scales[i], update)
		floats.Sub(p.Value, h)
	}
	s.iter++
}

// Reset clears the momentum history and the iteration count.
func (s *SGD) Reset() {
	s.iter = 0
	s.history = nil
}
