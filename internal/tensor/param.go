package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas64"
)

// Param is a dense parameter blob: a shape plus two parallel row-major
// buffers holding the values and their gradients.
type Param struct {
	Shape    []int
	Value    []float64
	Gradient []float64
}

func New(shape ...int) *Param {
	n := Count(shape)
	return &Param{
		Shape:    append([]int(nil), shape...),
		Value:    make([]float64, n),
		Gradient: make([]float64, n),
	}
}

// FromValues wraps a copy of values; the gradient buffer starts at zero.
func FromValues(values []float64, shape ...int) *Param {
	if Count(shape) != len(values) {
		panic(fmt.Sprintf("tensor: %d values do not fit shape %v", len(values), shape))
	}
	p := New(shape...)
	copy(p.Value, values)
	return p
}

func Count(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func (p *Param) Count() int {
	return len(p.Value)
}

// Dim returns the size of axis, or 1 when the param has fewer axes.
func (p *Param) Dim(axis int) int {
	if axis < 0 || axis >= len(p.Shape) {
		return 1
	}
	return p.Shape[axis]
}

// Reshape resizes the param to shape, reusing the existing buffers when they
// are large enough. Contents are unspecified afterwards; it is meant for
// scratch params that are about to be overwritten.
func (p *Param) Reshape(shape ...int) {
	n := Count(shape)
	p.Shape = append(p.Shape[:0], shape...)
	if cap(p.Value) < n {
		p.Value = make([]float64, n)
	}
	if cap(p.Gradient) < n {
		p.Gradient = make([]float64, n)
	}
	p.Value = p.Value[:n]
	p.Gradient = p.Gradient[:n]
}

// CopyFrom copies both buffers of src into p. The element counts must match.
func (p *Param) CopyFrom(src *Param) {
	if p.Count() != src.Count() {
		panic(fmt.Sprintf("tensor: copy count mismatch: dst=%v src=%v", p.Shape, src.Shape))
	}
	Copy(src.Count(), src.Value, p.Value)
	Copy(src.Count(), src.Gradient, p.Gradient)
}

// SnapshotInto reshapes scratch to p's shape and copies p into it.
func (p *Param) SnapshotInto(scratch *Param) {
	scratch.Reshape(p.Shape...)
	scratch.CopyFrom(p)
}

func (p *Param) Clone() *Param {
	out := New(p.Shape...)
	out.CopyFrom(p)
	return out
}

func (p *Param) ZeroGradient() {
	for i := range p.Gradient {
		p.Gradient[i] = 0
	}
}

func SameShape(a, b *Param) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Asum returns the sum of absolute values of n elements of x taken every inc
// positions, starting at x[0].
func Asum(n int, x []float64, inc int) float64 {
	if n == 0 {
		return 0
	}
	return blas64.Asum(blas64.Vector{N: n, Data: x, Inc: inc})
}

// Copy copies the first n elements of src into dst.
func Copy(n int, src, dst []float64) {
	if n == 0 {
		return
	}
	blas64.Copy(
		blas64.Vector{N: n, Data: src, Inc: 1},
		blas64.Vector{N: n, Data: dst, Inc: 1},
	)
}
