package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const comparisonsDir = "comparisons"

type CurvePoint struct {
	Iteration int     `json:"iteration"`
	Value     float64 `json:"value"`
}

// StrategyComparison aggregates the runs that trained with one strategy.
type StrategyComparison struct {
	Strategy        string       `json:"strategy"`
	Runs            int          `json:"runs"`
	RunIDs          []string     `json:"run_ids"`
	FinalLoss       LossSummary  `json:"final_loss"`
	MeanAccuracy    float64      `json:"mean_accuracy"`
	StdAccuracy     float64      `json:"std_accuracy"`
	MeanStuckAtZero float64      `json:"mean_stuck_at_zero"`
	MeanRemaps      float64      `json:"mean_remaps"`
	LossCurve       []CurvePoint `json:"loss_curve"`
}

type ComparisonReport struct {
	Name        string               `json:"name"`
	GeneratedAt string               `json:"generated_at_utc"`
	Dataset     string               `json:"dataset,omitempty"`
	Strategies  []StrategyComparison `json:"strategies"`
}

// BuildComparison groups entries by strategy, ordered by name. Loss curves
// average the runs' loss histories and keep every step-th iteration.
func BuildComparison(baseDir string, entries []RunIndexEntry, step int) ([]StrategyComparison, error) {
	if step <= 0 {
		step = 1
	}

	groups := map[string][]RunIndexEntry{}
	for _, entry := range entries {
		groups[entry.Strategy] = append(groups[entry.Strategy], entry)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]StrategyComparison, 0, len(names))
	for _, name := range names {
		group := groups[name]
		cmp := StrategyComparison{
			Strategy: name,
			Runs:     len(group),
			RunIDs:   make([]string, 0, len(group)),
		}
		finals := make([]float64, 0, len(group))
		accuracies := make([]float64, 0, len(group))
		stuck := make([]float64, 0, len(group))
		remaps := make([]float64, 0, len(group))
		series := make([][]float64, 0, len(group))
		for _, entry := range group {
			losses, _, ok, err := ReadLossHistory(baseDir, entry.RunID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("loss history not found for run id: %s", entry.RunID)
			}
			cmp.RunIDs = append(cmp.RunIDs, entry.RunID)
			finals = append(finals, entry.FinalLoss)
			accuracies = append(accuracies, entry.Accuracy)
			stuck = append(stuck, float64(entry.StuckAtZero))
			remaps = append(remaps, float64(entry.RemapCount))
			series = append(series, losses)
		}

		cmp.FinalLoss = SummarizeLoss(finals)
		cmp.MeanAccuracy, cmp.StdAccuracy = meanStd(accuracies)
		cmp.MeanStuckAtZero = stat.Mean(stuck, nil)
		cmp.MeanRemaps = stat.Mean(remaps, nil)
		cmp.LossCurve = AverageCurve(series, step)
		out = append(out, cmp)
	}
	return out, nil
}

// AverageCurve averages series element-wise over the series long enough to
// reach each index. Points are emitted at iterations step, 2*step, ... and at
// the last iteration of the longest series.
func AverageCurve(series [][]float64, step int) []CurvePoint {
	if step <= 0 {
		step = 1
	}
	longest := 0
	for _, s := range series {
		longest = max(longest, len(s))
	}

	points := make([]CurvePoint, 0, longest/step+1)
	values := make([]float64, 0, len(series))
	for i := 0; i < longest; i++ {
		iteration := i + 1
		if iteration%step != 0 && iteration != longest {
			continue
		}
		values = values[:0]
		for _, s := range series {
			if i < len(s) {
				values = append(values, s[i])
			}
		}
		points = append(points, CurvePoint{Iteration: iteration, Value: stat.Mean(values, nil)})
	}
	return points
}

// WriteComparisonReport writes the report to baseDir/comparisons/<name>.json.
func WriteComparisonReport(baseDir string, report ComparisonReport) (string, error) {
	if report.Name == "" {
		report.Name = "report"
	}
	if report.GeneratedAt == "" {
		report.GeneratedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	dir := filepath.Join(baseDir, comparisonsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, report.Name+".json")
	if err := writeJSON(path, report); err != nil {
		return "", err
	}
	return path, nil
}

func ReadComparisonReport(baseDir, name string) (ComparisonReport, bool, error) {
	var report ComparisonReport
	ok, err := readJSON(filepath.Join(baseDir, comparisonsDir, name+".json"), &report)
	if err != nil || !ok {
		return ComparisonReport{}, ok, err
	}
	return report, true, nil
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return mean, std
}
