// Package prune produces neuron importance orders for the hidden layers of a
// fully-connected network. An order lists a layer's neuron indices, most
// important first.
package prune

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"faultnet/internal/tensor"
)

var ErrOrderMismatch = errors.New("prune order does not match layer")

// File is the on-disk form of a set of prune orders.
type File struct {
	Orders [][]int `json:"orders"`
}

// Identity returns the orders that keep every hidden neuron of sizes in place.
// sizes lists neuron counts from the input layer to the output layer.
func Identity(sizes []int) [][]int {
	if len(sizes) < 3 {
		return nil
	}
	orders := make([][]int, 0, len(sizes)-2)
	for _, n := range sizes[1 : len(sizes)-1] {
		order := make([]int, n)
		for j := range order {
			order[j] = j
		}
		orders = append(orders, order)
	}
	return orders
}

// MagnitudeOrders ranks the neurons between each pair of adjacent FC weights
// by the L1 norm of their incoming row plus their outgoing column. weights
// are in layer order with shape [out, in]. Larger norms rank first; ties keep
// the lower index first.
func MagnitudeOrders(weights []*tensor.Param) [][]int {
	if len(weights) < 2 {
		return nil
	}
	orders := make([][]int, 0, len(weights)-1)
	for i := 1; i < len(weights); i++ {
		in, out := weights[i-1], weights[i]
		n, d := in.Dim(0), in.Dim(1)
		if out.Dim(1) != n {
			panic(fmt.Sprintf("prune: layer %d weight has %d inputs, previous layer has %d neurons", i, out.Dim(1), n))
		}
		m := out.Dim(0)
		importance := make([]float64, n)
		for j := 0; j < n; j++ {
			importance[j] = tensor.Asum(d, in.Value[j*d:], 1) + tensor.Asum(m, out.Value[j:], n)
		}
		order := make([]int, n)
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return importance[order[a]] > importance[order[b]]
		})
		orders = append(orders, order)
	}
	return orders
}

// Validate checks that orders hold one permutation per hidden layer of sizes.
func Validate(orders [][]int, sizes []int) error {
	hidden := 0
	if len(sizes) > 2 {
		hidden = len(sizes) - 2
	}
	if len(orders) != hidden {
		return fmt.Errorf("%w: got %d orders for %d hidden layers", ErrOrderMismatch, len(orders), hidden)
	}
	for i, order := range orders {
		n := sizes[i+1]
		if len(order) != n {
			return fmt.Errorf("%w: layer %d order has %d entries, layer has %d neurons", ErrOrderMismatch, i+1, len(order), n)
		}
		seen := make([]bool, n)
		for _, idx := range order {
			if idx < 0 || idx >= n || seen[idx] {
				return fmt.Errorf("%w: layer %d order is not a permutation of 0..%d", ErrOrderMismatch, i+1, n-1)
			}
			seen[idx] = true
		}
	}
	return nil
}

func Load(path string) ([][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode prune orders: %w", err)
	}
	return f.Orders, nil
}

func Save(path string, orders [][]int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(File{Orders: orders}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
