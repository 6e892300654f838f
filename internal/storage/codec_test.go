package storage

import (
	"errors"
	"testing"

	"faultnet/internal/model"
)

func TestDecodeRunRejectsVersionMismatch(t *testing.T) {
	tests := []struct {
		name    string
		version model.VersionedRecord
	}{
		{name: "schema", version: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion}},
		{name: "codec", version: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeRun(model.RunRecord{VersionedRecord: tc.version, ID: "r1"})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
				t.Fatalf("expected ErrVersionMismatch, got %v", err)
			}
		})
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	run := model.RunRecord{
		VersionedRecord: CurrentVersion(),
		ID:              "r1",
		Strategy:        "threshold+remapping",
		Sizes:           []int{2, 3, 2},
		Iterations:      40,
		Seed:            1 << 60,
		FinalLoss:       0.125,
	}
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Seed != run.Seed || len(decoded.Sizes) != 3 || decoded.Strategy != run.Strategy {
		t.Fatalf("unexpected decoded run: %+v", decoded)
	}
}

func TestRemapHistoryAndFaultSummaryVersionChecks(t *testing.T) {
	data, err := EncodeRemapHistory(model.RemapHistory{RunID: "r1"})
	if err != nil {
		t.Fatalf("encode remaps: %v", err)
	}
	if _, err := DecodeRemapHistory(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for remaps, got %v", err)
	}

	data, err = EncodeFaultSummary(model.FaultSummary{VersionedRecord: CurrentVersion(), RunID: "r1", StuckAtZero: 4})
	if err != nil {
		t.Fatalf("encode faults: %v", err)
	}
	summary, err := DecodeFaultSummary(data)
	if err != nil {
		t.Fatalf("decode faults: %v", err)
	}
	if summary.StuckAtZero != 4 {
		t.Fatalf("unexpected fault summary: %+v", summary)
	}
}

func TestDecodeLossHistoryRejectsMalformed(t *testing.T) {
	if _, err := DecodeLossHistory([]byte(`{"loss":1}`)); err == nil {
		t.Fatal("expected decode error")
	}
}
