package failure

import (
	"fmt"

	"faultnet/internal/tensor"
)

// Remapper relocates neurons between two adjacent FC layers. It owns the
// scratch params used as pre-permutation snapshots so repeated remaps do not
// reallocate.
type Remapper struct {
	weight tensor.Param
	bias   tensor.Param
}

// RemapLayer moves the neuron stored at pruneOrder[j] to slot order[j] for
// every j. inW [n, d] and inB [n] are the weight and bias feeding the
// neurons; outW [m, n] is the weight they feed. Rows of inW, entries of inB
// and columns of outW move together, for values and gradients alike.
//
// Every read comes from a snapshot taken before any write, so arbitrary
// permutations, including ones with long cycles, are applied exactly.
func (r *Remapper) RemapLayer(inW, inB, outW *tensor.Param, order, pruneOrder []int) {
	n := inW.Dim(0)
	checkRemapShapes(inW, inB, outW, n, order, pruneOrder)

	d := inW.Dim(1)
	inW.SnapshotInto(&r.weight)
	inB.SnapshotInto(&r.bias)
	for j, to := range order {
		from := pruneOrder[j]
		tensor.Copy(d, r.weight.Value[from*d:], inW.Value[to*d:])
		tensor.Copy(d, r.weight.Gradient[from*d:], inW.Gradient[to*d:])
		inB.Value[to] = r.bias.Value[from]
		inB.Gradient[to] = r.bias.Gradient[from]
	}

	m := outW.Dim(0)
	outW.SnapshotInto(&r.weight)
	for j, to := range order {
		from := pruneOrder[j]
		for k := 0; k < m; k++ {
			outW.Value[k*n+to] = r.weight.Value[k*n+from]
			outW.Gradient[k*n+to] = r.weight.Gradient[k*n+from]
		}
	}
}

// RemapLayer is a convenience wrapper using throwaway scratch buffers.
func RemapLayer(inW, inB, outW *tensor.Param, order, pruneOrder []int) {
	var r Remapper
	r.RemapLayer(inW, inB, outW, order, pruneOrder)
}

func checkRemapShapes(inW, inB, outW *tensor.Param, n int, order, pruneOrder []int) {
	if len(inW.Shape) != 2 || len(outW.Shape) != 2 {
		panic(fmt.Sprintf("failure: remap needs 2-D weights, got in=%v out=%v", inW.Shape, outW.Shape))
	}
	if inB.Count() != n {
		panic(fmt.Sprintf("failure: bias of %d entries for %d neurons", inB.Count(), n))
	}
	if outW.Shape[1] != n {
		panic(fmt.Sprintf("failure: output weight %v does not consume %d neurons", outW.Shape, n))
	}
	if len(order) != n || len(pruneOrder) != n {
		panic(fmt.Sprintf("failure: order lengths %d/%d for %d neurons", len(order), len(pruneOrder), n))
	}
	if err := checkPermutation(order, n); err != nil {
		panic(fmt.Sprintf("failure: neuron order: %v", err))
	}
	if err := checkPermutation(pruneOrder, n); err != nil {
		panic(fmt.Sprintf("failure: prune order: %v", err))
	}
}
