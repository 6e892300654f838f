package fault

import (
	"fmt"

	"faultnet/internal/tensor"
)

// A failure record is a tensor.Param shaped like the weight it describes.
// Value holds the per-cell iteration marker and Gradient holds the value the
// cell was observed at when it failed:
//
//	marker > 0   failure scheduled at iteration marker
//	marker == 0  no failure scheduled
//	marker < 0   failed as of iteration -marker
//
// A cell is stuck at zero iff marker < 0 and the stored value is exactly 0.

// DetectStuck returns a fresh flag tensor of the record's shape holding 1 for
// every stuck-at-zero cell and 0 elsewhere.
func DetectStuck(record *tensor.Param) *tensor.Param {
	flags := tensor.New(record.Shape...)
	for i, marker := range record.Value {
		if marker < 0 && record.Gradient[i] == 0 {
			flags.Value[i] = 1
		}
	}
	return flags
}

func CountStuck(record *tensor.Param) int {
	n := 0
	for i, marker := range record.Value {
		if marker < 0 && record.Gradient[i] == 0 {
			n++
		}
	}
	return n
}

func Failed(record *tensor.Param, cell int) bool {
	return record.Value[cell] < 0
}

// MarkStuck records cells as failed at iteration with the given stored value.
// A zero value makes them stuck at zero.
func MarkStuck(record *tensor.Param, iteration int, value float64, cells ...int) {
	if iteration <= 0 {
		panic(fmt.Sprintf("fault: failure iteration must be > 0, got %d", iteration))
	}
	for _, cell := range cells {
		record.Value[cell] = -float64(iteration)
		record.Gradient[cell] = value
	}
}

// Pin forces every failed cell of params back to its stored value and clears
// its gradient. records must be aligned with params; nil records are skipped.
func Pin(params, records []*tensor.Param) {
	if len(records) != len(params) {
		panic(fmt.Sprintf("fault: %d records for %d params", len(records), len(params)))
	}
	for i, record := range records {
		if record == nil {
			continue
		}
		param := params[i]
		if record.Count() != param.Count() {
			panic(fmt.Sprintf("fault: record %d shape %v does not match param shape %v", i, record.Shape, param.Shape))
		}
		for cell, marker := range record.Value {
			if marker < 0 {
				param.Value[cell] = record.Gradient[cell]
				param.Gradient[cell] = 0
			}
		}
	}
}

type Summary struct {
	Cells       int `json:"cells"`
	Scheduled   int `json:"scheduled"`
	Failed      int `json:"failed"`
	StuckAtZero int `json:"stuck_at_zero"`
}

func Summarize(records []*tensor.Param) Summary {
	var s Summary
	for _, record := range records {
		if record == nil {
			continue
		}
		s.Cells += record.Count()
		for cell, marker := range record.Value {
			switch {
			case marker > 0:
				s.Scheduled++
			case marker < 0:
				s.Failed++
				if record.Gradient[cell] == 0 {
					s.StuckAtZero++
				}
			}
		}
	}
	return s
}
