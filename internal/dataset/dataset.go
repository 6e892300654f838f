// Package dataset provides small deterministic classification datasets for
// exercising training runs.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

var ErrUnknownDataset = errors.New("unknown dataset")

const (
	NameXOR   = "xor"
	NameBlobs = "blobs"
)

// Dataset is an in-memory labelled sample set.
type Dataset struct {
	Name    string
	Inputs  [][]float64
	Labels  []int
	Classes int
}

func (d *Dataset) Len() int { return len(d.Inputs) }

func (d *Dataset) Features() int {
	if len(d.Inputs) == 0 {
		return 0
	}
	return len(d.Inputs[0])
}

// Target returns the one-hot encoding of sample i's label.
func (d *Dataset) Target(i int) []float64 {
	t := make([]float64, d.Classes)
	t[d.Labels[i]] = 1
	return t
}

// Batch returns the sample indices of minibatch iter, walking the dataset
// cyclically.
func (d *Dataset) Batch(iter, size int) []int {
	if d.Len() == 0 || size <= 0 {
		return nil
	}
	out := make([]int, size)
	start := iter * size
	for i := range out {
		out[i] = (start + i) % d.Len()
	}
	return out
}

func XOR() *Dataset {
	return &Dataset{
		Name:    NameXOR,
		Inputs:  [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}},
		Labels:  []int{0, 1, 1, 0},
		Classes: 2,
	}
}

// Blobs draws perClass gaussian samples around one centre per class. Centres
// are 4 apart along the first feature and alternate between 0 and 4 on the
// others.
func Blobs(classes, perClass, features int, spread float64, seed uint64) (*Dataset, error) {
	if classes < 2 {
		return nil, errors.New("blobs need at least two classes")
	}
	if perClass <= 0 || features <= 0 {
		return nil, errors.New("blobs need samples and features > 0")
	}
	if spread <= 0 {
		return nil, errors.New("blob spread must be > 0")
	}
	src := rand.NewPCG(seed, seed+1)
	noise := distuv.Normal{Mu: 0, Sigma: spread, Src: src}
	shuffle := rand.New(src)

	d := &Dataset{Name: NameBlobs, Classes: classes}
	for c := 0; c < classes; c++ {
		centre := make([]float64, features)
		centre[0] = 4 * float64(c)
		for f := 1; f < features; f++ {
			centre[f] = 4 * float64(c%2)
		}
		for s := 0; s < perClass; s++ {
			x := make([]float64, features)
			for f := range x {
				x[f] = centre[f] + noise.Rand()
			}
			d.Inputs = append(d.Inputs, x)
			d.Labels = append(d.Labels, c)
		}
	}
	shuffle.Shuffle(len(d.Inputs), func(i, j int) {
		d.Inputs[i], d.Inputs[j] = d.Inputs[j], d.Inputs[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
	return d, nil
}

// Load builds a named dataset with default parameters.
func Load(name string, seed uint64) (*Dataset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameXOR:
		return XOR(), nil
	case NameBlobs:
		return Blobs(3, 40, 2, 0.6, seed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
}

func List() []string {
	out := []string{NameXOR, NameBlobs}
	sort.Strings(out)
	return out
}
