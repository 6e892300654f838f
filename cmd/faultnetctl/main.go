package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"faultnet/internal/failure"
	"faultnet/internal/storage"
	api "faultnet/pkg/faultnet"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "remaps":
		return runRemaps(ctx, args[1:])
	case "loss":
		return runLoss(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "compare":
		return runCompare(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind   *string
	dbPath *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:   fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath: fs.String("db-path", "faultnet.db", "sqlite database path"),
	}
}

func (f storeFlags) client(logger *slog.Logger) (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:  *f.kind,
		DBPath:     *f.dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *store.kind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *store.kind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	datasetName := fs.String("dataset", "xor", "dataset: xor|blobs")
	hidden := fs.String("hidden", "8", "comma-separated hidden layer sizes")
	activation := fs.String("activation", "tanh", "hidden activation: identity|relu|sigmoid|tanh")
	loss := fs.String("loss", "softmax", "loss: softmax|mse")
	strategy := fs.String("strategy", failure.StrategyNone, "failure strategy: "+strings.Join(failure.ListStrategies(), "|"))
	threshold := fs.Float64("threshold", 0, "threshold strategy multiplier on lr_scale*lr")
	remapStart := fs.Int("remap-start", 0, "remapping start call")
	remapPeriod := fs.Int("remap-period", 10, "remapping period in calls")
	pruneOrders := fs.String("prune-orders", api.PruneMagnitude, "prune orders: magnitude|identity|<path to json>")
	iterations := fs.Int("iterations", 500, "training iterations")
	batchSize := fs.Int("batch-size", 0, "minibatch size (0 uses the whole dataset)")
	lrPolicy := fs.String("lr-policy", "fixed", "learning rate policy: fixed|step|exp|inv|poly")
	baseLR := fs.Float64("base-lr", 0.1, "base learning rate")
	gamma := fs.Float64("gamma", 0, "learning rate policy gamma (required by step, exp and inv)")
	power := fs.Float64("power", 0, "learning rate policy power")
	stepSize := fs.Int("step-size", 0, "step policy step size")
	momentum := fs.Float64("momentum", 0, "sgd momentum")
	weightDecay := fs.Float64("weight-decay", 0, "sgd l2 weight decay")
	faults := fs.Bool("faults", false, "inject weibull-distributed cell failures")
	weibullShape := fs.Float64("weibull-shape", 1.5, "weibull lifetime shape")
	weibullScale := fs.Float64("weibull-scale", 0, "weibull lifetime scale in iterations (0 uses 2*iterations)")
	stuckAtZero := fs.Float64("stuck-at-zero", 0.5, "fraction of failures stuck at zero")
	seed := fs.Uint64("seed", 1, "rng seed")
	logEvery := fs.Int("log-every", 0, "log training progress every N iterations (0 disables)")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if err := overrideFromFlags(&req, set, map[string]any{
		"dataset":       *datasetName,
		"hidden":        *hidden,
		"activation":    *activation,
		"loss":          *loss,
		"strategy":      *strategy,
		"threshold":     *threshold,
		"remap-start":   *remapStart,
		"remap-period":  *remapPeriod,
		"prune-orders":  *pruneOrders,
		"iterations":    *iterations,
		"batch-size":    *batchSize,
		"lr-policy":     *lrPolicy,
		"base-lr":       *baseLR,
		"gamma":         *gamma,
		"power":         *power,
		"step-size":     *stepSize,
		"momentum":      *momentum,
		"weight-decay":  *weightDecay,
		"faults":        *faults,
		"weibull-shape": *weibullShape,
		"weibull-scale": *weibullScale,
		"stuck-at-zero": *stuckAtZero,
		"seed":          *seed,
		"log-every":     *logEvery,
	}); err != nil {
		return err
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := store.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(map[string]any{
			"run_id":        summary.RunID,
			"strategy":      summary.Strategy,
			"iterations":    len(summary.LossHistory),
			"final_loss":    summary.FinalLoss,
			"accuracy":      summary.Accuracy,
			"remaps":        summary.RemapCount,
			"faults":        summary.Faults,
			"artifacts_dir": summary.ArtifactsDir,
		})
	}
	fmt.Printf("run_id=%s strategy=%s iterations=%s final_loss=%.6f accuracy=%.4f remaps=%s\n",
		summary.RunID,
		summary.Strategy,
		humanize.Comma(int64(len(summary.LossHistory))),
		summary.FinalLoss,
		summary.Accuracy,
		humanize.Comma(int64(summary.RemapCount)),
	)
	fmt.Printf("faults cells=%s failed=%s stuck_at_zero=%s scheduled=%s\n",
		humanize.Comma(int64(summary.Faults.Cells)),
		humanize.Comma(int64(summary.Faults.Failed)),
		humanize.Comma(int64(summary.Faults.StuckAtZero)),
		humanize.Comma(int64(summary.Faults.Scheduled)),
	)
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s dataset=%s strategy=%s sizes=%s iterations=%s seed=%d final_loss=%.6f accuracy=%.4f remaps=%s stuck_at_zero=%s\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Dataset,
			item.Strategy,
			formatSizes(item.Sizes),
			humanize.Comma(int64(item.Iterations)),
			item.Seed,
			item.FinalLoss,
			item.Accuracy,
			humanize.Comma(int64(item.RemapCount)),
			humanize.Comma(int64(item.StuckAtZero)),
		)
	}
	return nil
}

func runRemaps(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remaps", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use latest run")
	limit := fs.Int("limit", 0, "max events to print (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit remap events as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	events, err := client.RemapHistory(ctx, api.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("no remap events")
		return nil
	}
	for _, event := range events {
		orders := make([]string, 0, len(event.Orders))
		for _, order := range event.Orders {
			orders = append(orders, formatSizes(order))
		}
		fmt.Printf("iteration=%d call=%d stuck_at_zero=%s orders=%s\n",
			event.Iteration,
			event.Call,
			humanize.Comma(int64(event.StuckAtZero)),
			strings.Join(orders, ";"),
		)
	}
	return nil
}

func runLoss(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("loss", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use latest run")
	limit := fs.Int("limit", 0, "max iterations to print (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit loss history as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.LossHistory(ctx, api.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(history)
	}
	for i, loss := range history {
		fmt.Printf("iteration=%d loss=%.6f\n", i+1, loss)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use latest run")
	limit := fs.Int("limit", 0, "max iterations to print (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, api.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Printf("iteration=%d loss=%.6f lr=%g new_failures=%d stuck_at_zero=%s threshold_zeroed=%s remapped=%t\n",
			d.Iteration,
			d.Loss,
			d.LearningRate,
			d.NewFailures,
			humanize.Comma(int64(d.StuckAtZero)),
			humanize.Comma(int64(d.ThresholdZeroed)),
			d.Remapped,
		)
	}
	return nil
}

func runCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	datasetName := fs.String("dataset", "", "only compare runs on this dataset")
	step := fs.Int("step", 10, "loss curve sampling step in iterations")
	name := fs.String("name", "", "report name")
	jsonOut := fs.Bool("json", false, "emit comparison as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Compare(ctx, api.CompareRequest{Dataset: *datasetName, Step: *step, Name: *name})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(summary.Strategies)
	}
	for _, cmp := range summary.Strategies {
		fmt.Printf("strategy=%s runs=%d final_loss_mean=%.6f final_loss_std=%.6f accuracy_mean=%.4f stuck_at_zero_mean=%.1f remaps_mean=%.1f\n",
			cmp.Strategy,
			cmp.Runs,
			cmp.FinalLoss.Mean,
			cmp.FinalLoss.Std,
			cmp.MeanAccuracy,
			cmp.MeanStuckAtZero,
			cmp.MeanRemaps,
		)
	}
	fmt.Printf("report=%s\n", summary.ReportPath)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export latest run")
	outDir := fs.String("out", exportsDir, "export output directory")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func parseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func parseSizes(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int{}, nil
	}
	parts := strings.Split(raw, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid layer size %q: %w", part, err)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func formatSizes(sizes []int) string {
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: faultnetctl <init|reset|run|runs|remaps|loss|diagnostics|compare|export> [flags]", msg)
}
