package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"faultnet/internal/tensor"
)

const (
	LossSoftmax = "softmax"
	LossMSE     = "mse"
)

type Config struct {
	// Sizes lists neuron counts from the input layer to the output layer.
	Sizes      []int
	Activation string
	Loss       string
	Seed       uint64

	WeightLRScale float64
	BiasLRScale   float64
}

// Network is a fully-connected feed-forward network. Layer k has a weight of
// shape [Sizes[k+1], Sizes[k]] and a bias of shape [Sizes[k+1]], stored as
// learnable params 2k and 2k+1. Every param has an aligned failure record.
//
// Forward caches activations for the following Backward; a Network is not
// safe for concurrent use.
type Network struct {
	sizes []int
	act   Activation
	loss  string

	params  []*tensor.Param
	scales  []float64
	fcIDs   []int
	records []*tensor.Param

	acts [][]float64
	pre  [][]float64
}

func NewNetwork(cfg Config) (*Network, error) {
	if len(cfg.Sizes) < 2 {
		return nil, errors.New("network needs at least an input and an output layer")
	}
	for i, size := range cfg.Sizes {
		if size <= 0 {
			return nil, fmt.Errorf("layer %d size must be > 0, got %d", i, size)
		}
	}
	actName := cfg.Activation
	if actName == "" {
		actName = "relu"
	}
	act, err := GetActivation(actName)
	if err != nil {
		return nil, err
	}
	loss := cfg.Loss
	switch loss {
	case "":
		loss = LossSoftmax
	case LossSoftmax, LossMSE:
	default:
		return nil, fmt.Errorf("unsupported loss: %s", cfg.Loss)
	}
	weightScale := cfg.WeightLRScale
	if weightScale == 0 {
		weightScale = 1
	}
	biasScale := cfg.BiasLRScale
	if biasScale == 0 {
		biasScale = 1
	}

	n := &Network{
		sizes: append([]int(nil), cfg.Sizes...),
		act:   act,
		loss:  loss,
		acts:  make([][]float64, len(cfg.Sizes)),
		pre:   make([][]float64, len(cfg.Sizes)-1),
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed+1)
	for k := 0; k+1 < len(cfg.Sizes); k++ {
		in, out := cfg.Sizes[k], cfg.Sizes[k+1]
		w := tensor.New(out, in)
		b := tensor.New(out)

		sigma := math.Sqrt(1.0 / float64(in))
		if actName == "relu" {
			sigma = math.Sqrt(2.0 / float64(in))
		}
		dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
		for i := range w.Value {
			w.Value[i] = dist.Rand()
		}

		n.fcIDs = append(n.fcIDs, len(n.params))
		n.params = append(n.params, w, b)
		n.scales = append(n.scales, weightScale, biasScale)
		n.records = append(n.records, tensor.New(w.Shape...), tensor.New(b.Shape...))
	}
	return n, nil
}

func (n *Network) Sizes() []int                     { return append([]int(nil), n.sizes...) }
func (n *Network) Layers() int                      { return len(n.sizes) - 1 }
func (n *Network) Weight(layer int) *tensor.Param   { return n.params[2*layer] }
func (n *Network) Bias(layer int) *tensor.Param     { return n.params[2*layer+1] }
func (n *Network) LearnableParams() []*tensor.Param { return n.params }
func (n *Network) ParamLRScales() []float64         { return n.scales }
func (n *Network) FCParamIDs() []int                { return n.fcIDs }
func (n *Network) FailureRecords() []*tensor.Param  { return n.records }

// WeightRecord returns the failure record of layer's weight.
func (n *Network) WeightRecord(layer int) *tensor.Param { return n.records[2*layer] }

func (n *Network) Forward(input []float64) ([]float64, error) {
	if len(input) != n.sizes[0] {
		return nil, fmt.Errorf("input size %d does not match network input %d", len(input), n.sizes[0])
	}
	a := append(n.acts[0][:0], input...)
	n.acts[0] = a

	last := n.Layers() - 1
	for k := 0; k <= last; k++ {
		in, out := n.sizes[k], n.sizes[k+1]
		w := mat.NewDense(out, in, n.params[2*k].Value)

		var z mat.VecDense
		z.MulVec(w, mat.NewVecDense(in, a))
		pre := z.RawVector().Data
		floats.Add(pre, n.params[2*k+1].Value)
		n.pre[k] = pre

		next := make([]float64, out)
		switch {
		case k < last:
			for i, x := range pre {
				next[i] = n.act.Func(x)
			}
		case n.loss == LossSoftmax:
			softmax(next, pre)
		default:
			copy(next, pre)
		}
		n.acts[k+1] = next
		a = next
	}
	return append([]float64(nil), a...), nil
}

// Backward accumulates the gradients of the loss of the last Forward output
// against target into every param's gradient buffer and returns the loss.
func (n *Network) Backward(target []float64) (float64, error) {
	last := n.Layers() - 1
	output := n.acts[last+1]
	if output == nil {
		return 0, errors.New("backward called before forward")
	}
	if len(target) != len(output) {
		return 0, fmt.Errorf("target size %d does not match network output %d", len(target), len(output))
	}

	delta := make([]float64, len(output))
	floats.SubTo(delta, output, target)
	loss := n.Loss(output, target)

	for k := last; k >= 0; k-- {
		in, out := n.sizes[k], n.sizes[k+1]
		w, b := n.params[2*k], n.params[2*k+1]
		deltaVec := mat.NewVecDense(out, delta)

		grad := mat.NewDense(out, in, w.Gradient)
		grad.RankOne(grad, 1, deltaVec, mat.NewVecDense(in, n.acts[k]))
		floats.Add(b.Gradient, delta)

		if k == 0 {
			break
		}
		var back mat.VecDense
		back.MulVec(mat.NewDense(out, in, w.Value).T(), deltaVec)
		prev := back.RawVector().Data
		for i := range prev {
			prev[i] *= n.act.Deriv(n.pre[k-1][i])
		}
		delta = prev
	}
	return loss, nil
}

// Loss evaluates the configured loss of output against target.
func (n *Network) Loss(output, target []float64) float64 {
	if n.loss == LossSoftmax {
		loss := 0.0
		for i, t := range target {
			if t != 0 {
				loss -= t * math.Log(math.Max(output[i], 1e-12))
			}
		}
		return loss
	}
	return 0.5 * math.Pow(floats.Distance(output, target, 2), 2)
}

// Predict returns the index of the largest output.
func (n *Network) Predict(input []float64) (int, error) {
	out, err := n.Forward(input)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(out), nil
}

func (n *Network) ZeroGradients() {
	for _, p := range n.params {
		p.ZeroGradient()
	}
}

func (n *Network) ScaleGradients(f float64) {
	for _, p := range n.params {
		floats.Scale(f, p.Gradient)
	}
}

func softmax(dst, x []float64) {
	peak := floats.Max(x)
	sum := 0.0
	for i, v := range x {
		dst[i] = math.Exp(v - peak)
		sum += dst[i]
	}
	floats.Scale(1/sum, dst)
}
