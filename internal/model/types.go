package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one training run.
type RunRecord struct {
	VersionedRecord
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	Strategy    string  `json:"strategy"`
	Dataset     string  `json:"dataset"`
	Sizes       []int   `json:"sizes"`
	Iterations  int     `json:"iterations"`
	Seed        uint64  `json:"seed"`
	FinalLoss   float64 `json:"final_loss"`
	Accuracy    float64 `json:"accuracy"`
	RemapCount  int     `json:"remap_count"`
	StuckAtZero int     `json:"stuck_at_zero"`
}

// RemapEvent is one active call of the remapping strategy. Orders holds the
// least-faulty-first neuron order used for each remapped layer.
type RemapEvent struct {
	Iteration   int     `json:"iteration"`
	Call        int     `json:"call"`
	Orders      [][]int `json:"orders"`
	StuckAtZero int     `json:"stuck_at_zero"`
}

type RemapHistory struct {
	VersionedRecord
	RunID  string       `json:"run_id"`
	Events []RemapEvent `json:"events"`
}

type FaultSummary struct {
	VersionedRecord
	RunID       string `json:"run_id"`
	Cells       int    `json:"cells"`
	Scheduled   int    `json:"scheduled"`
	Failed      int    `json:"failed"`
	StuckAtZero int    `json:"stuck_at_zero"`
}

type IterationDiagnostics struct {
	Iteration       int     `json:"iteration"`
	Loss            float64 `json:"loss"`
	LearningRate    float64 `json:"learning_rate"`
	NewFailures     int     `json:"new_failures"`
	StuckAtZero     int     `json:"stuck_at_zero"`
	ThresholdZeroed int     `json:"threshold_zeroed"`
	Remapped        bool    `json:"remapped,omitempty"`
}
