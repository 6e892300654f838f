package solver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrUnknownPolicy = errors.New("unknown learning rate policy")

const (
	PolicyFixed = "fixed"
	PolicyStep  = "step"
	PolicyExp   = "exp"
	PolicyInv   = "inv"
	PolicyPoly  = "poly"
)

// Schedule describes how the learning rate decays with the iteration count.
type Schedule struct {
	Policy   string  `json:"policy"`
	BaseLR   float64 `json:"base_lr"`
	Gamma    float64 `json:"gamma,omitempty"`
	Power    float64 `json:"power,omitempty"`
	StepSize int     `json:"step_size,omitempty"`
	MaxIter  int     `json:"max_iter,omitempty"`
}

func (s Schedule) Validate() error {
	if s.BaseLR <= 0 {
		return errors.New("base learning rate must be > 0")
	}
	switch normalizePolicy(s.Policy) {
	case PolicyFixed:
	case PolicyStep:
		if s.StepSize <= 0 {
			return errors.New("step policy requires step size > 0")
		}
		if s.Gamma <= 0 || s.Gamma > 1 {
			return fmt.Errorf("step policy requires gamma in (0, 1], got %g", s.Gamma)
		}
	case PolicyExp:
		if s.Gamma <= 0 || s.Gamma > 1 {
			return fmt.Errorf("exp policy requires gamma in (0, 1], got %g", s.Gamma)
		}
	case PolicyInv:
		if s.Gamma <= 0 {
			return fmt.Errorf("inv policy requires gamma > 0, got %g", s.Gamma)
		}
	case PolicyPoly:
		if s.MaxIter <= 0 {
			return errors.New("poly policy requires max iter > 0")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, s.Policy)
	}
	return nil
}

// Rate returns the learning rate at iteration iter. The schedule must be
// valid.
func (s Schedule) Rate(iter int) float64 {
	it := float64(iter)
	switch normalizePolicy(s.Policy) {
	case PolicyStep:
		return s.BaseLR * math.Pow(s.Gamma, math.Floor(it/float64(s.StepSize)))
	case PolicyExp:
		return s.BaseLR * math.Pow(s.Gamma, it)
	case PolicyInv:
		return s.BaseLR * math.Pow(1+s.Gamma*it, -s.Power)
	case PolicyPoly:
		if iter >= s.MaxIter {
			return 0
		}
		return s.BaseLR * math.Pow(1-it/float64(s.MaxIter), s.Power)
	default:
		return s.BaseLR
	}
}

func ListPolicies() []string {
	out := []string{PolicyFixed, PolicyStep, PolicyExp, PolicyInv, PolicyPoly}
	sort.Strings(out)
	return out
}

func normalizePolicy(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return PolicyFixed
	}
	return name
}
