package failure

import (
	"errors"
	"fmt"

	"faultnet/internal/tensor"
)

// RemappingStrategy periodically ranks the neurons of every FC layer after
// the first by their stuck-at-zero connection count and relocates them so
// that the neuron at pruneOrders[i][j] lands in the j-th least faulty slot.
//
// Calls are counted from 1. A call remaps when times >= start and
// (times-start) is a multiple of period; other calls are no-ops.
type RemappingStrategy struct {
	net         Network
	start       int
	period      int
	pruneOrders [][]int

	// OnRemap, when set, runs after every call that remapped.
	OnRemap func(times int, orders [][]int)

	times      int
	lastOrders [][]int
	remapper   Remapper
}

func NewRemappingStrategy(net Network, start, period int, pruneOrders [][]int) (*RemappingStrategy, error) {
	if period <= 0 {
		return nil, fmt.Errorf("remapping period must be > 0, got %d", period)
	}
	if start < 0 {
		return nil, fmt.Errorf("remapping start must be >= 0, got %d", start)
	}
	neurons, err := remappableNeurons(net)
	if err != nil {
		return nil, err
	}
	if len(pruneOrders) != len(neurons) {
		return nil, fmt.Errorf("expected %d prune orders, got %d", len(neurons), len(pruneOrders))
	}
	for i, order := range pruneOrders {
		if err := checkPermutation(order, neurons[i]); err != nil {
			return nil, fmt.Errorf("prune order %d: %w", i, err)
		}
	}

	copied := make([][]int, len(pruneOrders))
	for i := range pruneOrders {
		copied[i] = append([]int(nil), pruneOrders[i]...)
	}
	return &RemappingStrategy{net: net, start: start, period: period, pruneOrders: copied}, nil
}

func (s *RemappingStrategy) Name() string { return "remapping" }

func (s *RemappingStrategy) Apply() {
	s.times++
	if s.times < s.start || (s.times-s.start)%s.period != 0 {
		return
	}

	params := s.net.LearnableParams()
	records := s.net.FailureRecords()
	ids := s.net.FCParamIDs()

	fcRecords := make([]*tensor.Param, len(ids))
	for i, id := range ids {
		record := records[id]
		if record == nil || !tensor.SameShape(record, params[id]) {
			panic(fmt.Sprintf("failure: fc param %d has no failure record matching its shape", id))
		}
		fcRecords[i] = record
	}

	orders := RankNeurons(fcRecords)
	for i := 1; i < len(ids); i++ {
		inW := params[ids[i-1]]
		inB := params[ids[i-1]+1]
		outW := params[ids[i]]
		s.remapper.RemapLayer(inW, inB, outW, orders[i-1], s.pruneOrders[i-1])
	}
	s.lastOrders = orders

	if s.OnRemap != nil {
		s.OnRemap(s.times, orders)
	}
}

// Times returns the number of Apply calls so far.
func (s *RemappingStrategy) Times() int {
	return s.times
}

// LastOrders returns the neuron orders used by the most recent remap.
func (s *RemappingStrategy) LastOrders() [][]int {
	return s.lastOrders
}

func remappableNeurons(net Network) ([]int, error) {
	params := net.LearnableParams()
	ids := net.FCParamIDs()
	if len(ids) == 0 {
		return nil, errors.New("network has no fully-connected layers")
	}
	for _, id := range ids {
		if id < 0 || id+1 >= len(params) {
			return nil, fmt.Errorf("fc param id %d out of range for %d params", id, len(params))
		}
	}
	neurons := make([]int, 0, len(ids)-1)
	for i := 1; i < len(ids); i++ {
		neurons = append(neurons, params[ids[i-1]].Dim(0))
	}
	return neurons, nil
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("length %d does not match %d neurons", len(order), n)
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n {
			return fmt.Errorf("neuron index %d out of range [0,%d)", idx, n)
		}
		if seen[idx] {
			return fmt.Errorf("neuron index %d repeated", idx)
		}
		seen[idx] = true
	}
	return nil
}
