package failure

import (
	"fmt"
	"sort"

	"faultnet/internal/fault"
	"faultnet/internal/tensor"
)

// NeuronFaultCounts returns, for every neuron between two adjacent FC
// layers, the number of its stuck-at-zero input connections plus its
// stuck-at-zero output connections.
//
// in is the flag tensor of the weight feeding the neurons, shape [n, prev];
// out is the flag tensor of the weight they feed, shape [next, n].
func NeuronFaultCounts(in, out *tensor.Param) []int {
	if len(in.Shape) != 2 || len(out.Shape) != 2 {
		panic(fmt.Sprintf("failure: fc flags must be 2-D, got in=%v out=%v", in.Shape, out.Shape))
	}
	n, prev := in.Shape[0], in.Shape[1]
	next := out.Shape[0]
	if out.Shape[1] != n {
		panic(fmt.Sprintf("failure: adjacent fc shapes disagree: in=%v out=%v", in.Shape, out.Shape))
	}

	counts := make([]int, n)
	for j := 0; j < n; j++ {
		inputs := tensor.Asum(prev, in.Value[j*prev:], 1)
		outputs := tensor.Asum(next, out.Value[j:], n)
		counts[j] = int(inputs + outputs)
	}
	return counts
}

// OrderByFaults returns neuron indices sorted by ascending fault count.
// Neurons with equal counts keep ascending index order.
func OrderByFaults(counts []int) []int {
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] < counts[order[b]]
	})
	return order
}

// RankNeurons builds flag tensors from the FC weight failure records, given
// in layer order, and returns one neuron order per FC layer after the first.
// orders[i-1] ranks the neurons that FC layer i-1 feeds into FC layer i.
func RankNeurons(records []*tensor.Param) [][]int {
	flags := make([]*tensor.Param, len(records))
	for i, record := range records {
		flags[i] = fault.DetectStuck(record)
	}

	if len(flags) < 2 {
		return nil
	}
	orders := make([][]int, 0, len(flags)-1)
	for i := 1; i < len(flags); i++ {
		orders = append(orders, OrderByFaults(NeuronFaultCounts(flags[i-1], flags[i])))
	}
	return orders
}
