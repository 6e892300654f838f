package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"faultnet/internal/model"
)

const runIndexFile = "run_index.json"

const (
	configFile      = "config.json"
	lossFile        = "loss_history.json"
	remapFile       = "remap_events.json"
	faultFile       = "fault_summary.json"
	diagnosticsFile = "iteration_diagnostics.json"
	lossSeriesFile  = "loss_series.csv"
)

type RunConfig struct {
	RunID               string  `json:"run_id"`
	Dataset             string  `json:"dataset"`
	Sizes               []int   `json:"sizes"`
	Activation          string  `json:"activation"`
	Loss                string  `json:"loss"`
	Strategy            string  `json:"strategy"`
	Threshold           float64 `json:"threshold"`
	RemapStart          int     `json:"remap_start"`
	RemapPeriod         int     `json:"remap_period"`
	PruneOrders         string  `json:"prune_orders"`
	Iterations          int     `json:"iterations"`
	BatchSize           int     `json:"batch_size"`
	LRPolicy            string  `json:"lr_policy"`
	BaseLR              float64 `json:"base_lr"`
	Gamma               float64 `json:"gamma,omitempty"`
	Power               float64 `json:"power,omitempty"`
	StepSize            int     `json:"step_size,omitempty"`
	Momentum            float64 `json:"momentum"`
	WeightDecay         float64 `json:"weight_decay"`
	Faults              bool    `json:"faults"`
	WeibullShape        float64 `json:"weibull_shape,omitempty"`
	WeibullScale        float64 `json:"weibull_scale,omitempty"`
	StuckAtZeroFraction float64 `json:"stuck_at_zero_fraction"`
	Seed                uint64  `json:"seed"`
}

type RunArtifacts struct {
	Config      RunConfig                    `json:"config"`
	LossHistory []float64                    `json:"loss_history"`
	FinalLoss   float64                      `json:"final_loss"`
	Accuracy    float64                      `json:"accuracy"`
	RemapEvents []model.RemapEvent           `json:"remap_events"`
	Faults      model.FaultSummary           `json:"faults"`
	Diagnostics []model.IterationDiagnostics `json:"diagnostics,omitempty"`
}

type lossHistoryFile struct {
	LossHistory []float64   `json:"loss_history"`
	FinalLoss   float64     `json:"final_loss"`
	Accuracy    float64     `json:"accuracy"`
	Summary     LossSummary `json:"summary"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Dataset      string  `json:"dataset"`
	Strategy     string  `json:"strategy"`
	Sizes        []int   `json:"sizes"`
	Iterations   int     `json:"iterations"`
	Seed         uint64  `json:"seed"`
	FinalLoss    float64 `json:"final_loss"`
	Accuracy     float64 `json:"accuracy"`
	RemapCount   int     `json:"remap_count"`
	StuckAtZero  int     `json:"stuck_at_zero"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, lossFile), lossHistoryFile{
		LossHistory: nonNil(artifacts.LossHistory),
		FinalLoss:   artifacts.FinalLoss,
		Accuracy:    artifacts.Accuracy,
		Summary:     SummarizeLoss(artifacts.LossHistory),
	}); err != nil {
		return "", err
	}
	events := artifacts.RemapEvents
	if events == nil {
		events = []model.RemapEvent{}
	}
	if err := writeJSON(filepath.Join(runDir, remapFile), events); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, faultFile), artifacts.Faults); err != nil {
		return "", err
	}
	if len(artifacts.Diagnostics) > 0 {
		if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.Diagnostics); err != nil {
			return "", err
		}
	}
	if err := WriteLossSeries(runDir, artifacts.LossHistory); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends first on equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's artifacts into outDir/runID.
// Optional artifacts are copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, lossFile, remapFile, faultFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{diagnosticsFile, lossSeriesFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadRemapEvents(baseDir, runID string) ([]model.RemapEvent, bool, error) {
	var events []model.RemapEvent
	ok, err := readJSON(filepath.Join(baseDir, runID, remapFile), &events)
	if err != nil || !ok {
		return nil, ok, err
	}
	return events, true, nil
}

func ReadFaultSummary(baseDir, runID string) (model.FaultSummary, bool, error) {
	var summary model.FaultSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, faultFile), &summary)
	if err != nil || !ok {
		return model.FaultSummary{}, ok, err
	}
	return summary, true, nil
}

func ReadIterationDiagnostics(baseDir, runID string) ([]model.IterationDiagnostics, bool, error) {
	var diagnostics []model.IterationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsFile), &diagnostics)
	if err != nil || !ok {
		return nil, ok, err
	}
	return diagnostics, true, nil
}

// ReadLossHistory returns the per-iteration loss and its summary.
func ReadLossHistory(baseDir, runID string) ([]float64, LossSummary, bool, error) {
	var file lossHistoryFile
	ok, err := readJSON(filepath.Join(baseDir, runID, lossFile), &file)
	if err != nil || !ok {
		return nil, LossSummary{}, ok, err
	}
	return file.LossHistory, file.Summary, true, nil
}

func WriteLossSeries(runDir string, losses []float64) error {
	path := filepath.Join(runDir, lossSeriesFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"iteration", "loss"}); err != nil {
		return err
	}
	for i, loss := range losses {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(loss, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadLossSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, lossSeriesFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("loss series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("loss series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func nonNil(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}
