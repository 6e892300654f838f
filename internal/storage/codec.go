package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"faultnet/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp for newly written records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeRemapHistory(h model.RemapHistory) ([]byte, error) {
	return json.Marshal(h)
}

func DecodeRemapHistory(data []byte) (model.RemapHistory, error) {
	var history model.RemapHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return model.RemapHistory{}, err
	}
	if err := checkVersion(history.VersionedRecord); err != nil {
		return model.RemapHistory{}, err
	}
	return history, nil
}

func EncodeFaultSummary(s model.FaultSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeFaultSummary(data []byte) (model.FaultSummary, error) {
	var summary model.FaultSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.FaultSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.FaultSummary{}, err
	}
	return summary, nil
}

func EncodeLossHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeIterationDiagnostics(diagnostics []model.IterationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeIterationDiagnostics(data []byte) ([]model.IterationDiagnostics, error) {
	var diagnostics []model.IterationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRuns orders runs oldest first, then by id.
func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt < runs[j].CreatedAt
		}
		return runs[i].ID < runs[j].ID
	})
}

func cloneRun(run model.RunRecord) model.RunRecord {
	run.Sizes = append([]int(nil), run.Sizes...)
	return run
}

func cloneRemapHistory(h model.RemapHistory) model.RemapHistory {
	events := make([]model.RemapEvent, len(h.Events))
	for i, event := range h.Events {
		orders := make([][]int, len(event.Orders))
		for j := range event.Orders {
			orders[j] = append([]int(nil), event.Orders[j]...)
		}
		event.Orders = orders
		events[i] = event
	}
	h.Events = events
	return h
}
