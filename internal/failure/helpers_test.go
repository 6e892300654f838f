package failure

import "faultnet/internal/tensor"

type fakeNet struct {
	params  []*tensor.Param
	scales  []float64
	fcIDs   []int
	records []*tensor.Param
}

func (n *fakeNet) LearnableParams() []*tensor.Param { return n.params }
func (n *fakeNet) ParamLRScales() []float64         { return n.scales }
func (n *fakeNet) FCParamIDs() []int                { return n.fcIDs }
func (n *fakeNet) FailureRecords() []*tensor.Param  { return n.records }

type fixedRate float64

func (r fixedRate) CurrentLearningRate() float64 { return float64(r) }

// newFakeNet builds weight/bias pairs for layer sizes with distinct values
// and gradients in every cell.
func newFakeNet(sizes ...int) *fakeNet {
	net := &fakeNet{}
	for k := 0; k+1 < len(sizes); k++ {
		w := tensor.New(sizes[k+1], sizes[k])
		b := tensor.New(sizes[k+1])
		for i := range w.Value {
			w.Value[i] = float64(100*(k+1) + i)
			w.Gradient[i] = -float64(100*(k+1)+i) / 1000
		}
		for i := range b.Value {
			b.Value[i] = float64(1000*(k+1) + i)
			b.Gradient[i] = float64(1000*(k+1)+i) / 1000
		}
		net.fcIDs = append(net.fcIDs, len(net.params))
		net.params = append(net.params, w, b)
		net.scales = append(net.scales, 1, 2)
		net.records = append(net.records, tensor.New(w.Shape...), tensor.New(b.Shape...))
	}
	return net
}

func cloneParams(params []*tensor.Param) []*tensor.Param {
	out := make([]*tensor.Param, len(params))
	for i, p := range params {
		out[i] = p.Clone()
	}
	return out
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
