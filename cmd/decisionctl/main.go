package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pranaysuyash/photo-search-sub010/internal/archive"
	"github.com/pranaysuyash/photo-search-sub010/internal/bootstrap"
	"github.com/pranaysuyash/photo-search-sub010/internal/pipeline"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "decide":
		runDecide(os.Args[2:])
	case "batch":
		runBatch(os.Args[2:])
	case "profile":
		runProfile(os.Args[2:])
	case "compare":
		runCompare(os.Args[2:])
	case "recommend":
		runRecommend(os.Args[2:])
	case "analytics":
		runAnalytics(os.Args[2:])
	case "optimize":
		runOptimize(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "archive":
		runArchive(os.Args[2:])
	case "metrics":
		runMetrics(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: decisionctl <decide|batch|profile|compare|recommend|analytics|optimize|export|import|archive|metrics> [...]")
}

func newSubsystem(ctx context.Context) *bootstrap.Subsystem {
	sub, err := bootstrap.NewEngineFromEnv(ctx)
	if err != nil {
		fatalf("startup failed: %v", err)
	}
	return sub
}

func runDecide(args []string) {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	taskID := fs.String("task", "", "task id")
	taskType := fs.String("type", decisionapi.TaskEmbedding, "task type")
	model := fs.String("model", "", "model id")
	priority := fs.String("priority", decisionapi.PriorityNormal, "task priority")
	exclude := fs.String("exclude", "", "comma-separated backend ids to exclude")
	maxMs := fs.Float64("max-ms", 0, "max acceptable inference time in ms")
	maxMB := fs.Int64("max-mb", 0, "max acceptable memory in MB")
	ignoreResources := fs.Bool("ignore-resources", false, "skip the resource feasibility filter")
	n := fs.Int("n", 1, "number of distinct backends to return")
	_ = fs.Parse(args)
	if strings.TrimSpace(*taskID) == "" {
		fatalf("--task is required")
	}

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	criteria := decisionapi.Criteria{
		MaxInferenceTimeMs: *maxMs,
		MaxMemoryMB:        *maxMB,
		IgnoreResources:    *ignoreResources,
	}
	if strings.TrimSpace(*exclude) != "" {
		criteria.ExcludeBackends = strings.Split(*exclude, ",")
	}
	tk := decisionapi.Task{
		ID:       *taskID,
		Type:     *taskType,
		ModelID:  *model,
		Priority: *priority,
	}
	if *n > 1 {
		ds, err := sub.Engine.MakeMultipleDecisions(ctx, tk, criteria, *n)
		if err != nil {
			fatalf("decision failed: %v", err)
		}
		printJSON(ds)
		return
	}
	d, err := sub.Engine.MakeDecision(ctx, tk, criteria)
	if err != nil {
		fatalf("decision failed: %v", err)
	}
	printJSON(d)
}

func runBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	photoID := fs.String("photo", "", "photo id to compile into an ingest pipeline")
	format := fs.String("format", "jpeg", "input format")
	size := fs.Int64("size", 0, "input size in bytes")
	ocr := fs.Bool("ocr", false, "include the OCR stage")
	priority := fs.String("priority", decisionapi.PriorityNormal, "task priority")
	_ = fs.Parse(args)
	if strings.TrimSpace(*photoID) == "" {
		fatalf("--photo is required")
	}

	tasks, err := pipeline.NewCompiler().Compile(pipeline.IngestRequest{
		PhotoID:   *photoID,
		Format:    *format,
		SizeBytes: *size,
		WantOCR:   *ocr,
		Priority:  *priority,
	})
	if err != nil {
		fatalf("compile pipeline: %v", err)
	}

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	items := sub.Engine.MakeBatchDecisions(ctx, tasks, decisionapi.Criteria{})
	for i, item := range items {
		if item.Err != nil {
			fmt.Printf("%-24s ERROR %v\n", tasks[i].ID, item.Err)
			continue
		}
		fmt.Printf("%-24s -> %s (confidence %.2f)\n", tasks[i].ID, item.Decision.Backend, item.Decision.Confidence)
	}
}

func runProfile(args []string) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	backendID := fs.String("backend", "", "backend id")
	taskType := fs.String("type", decisionapi.TaskEmbedding, "task type")
	model := fs.String("model", "", "model id")
	iterations := fs.Int("iterations", 10, "measured iterations (one warm-up added)")
	withResources := fs.Bool("resources", false, "also build a resource scaling profile")
	_ = fs.Parse(args)
	if strings.TrimSpace(*backendID) == "" {
		fatalf("--backend is required")
	}

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	prof, err := sub.Profiler.ProfileBackend(ctx, *backendID, *taskType, *model, *iterations)
	if err != nil {
		fatalf("profiling failed: %v", err)
	}
	printJSON(prof)

	if *withResources {
		rp, err := sub.Profiler.CreateResourceProfile(ctx, *backendID)
		if err != nil {
			fatalf("resource profiling failed: %v", err)
		}
		printJSON(rp)
	}
}

func runCompare(args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	backends := fs.String("backends", "", "comma-separated backend ids")
	taskType := fs.String("type", decisionapi.TaskEmbedding, "task type")
	model := fs.String("model", "", "model id")
	_ = fs.Parse(args)
	if strings.TrimSpace(*backends) == "" {
		fatalf("--backends is required")
	}

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	res := sub.Profiler.CompareBackends(*taskType, *model, strings.Split(*backends, ","))
	printJSON(res)
}

func runRecommend(args []string) {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	backendID := fs.String("backend", "", "limit to one backend")
	_ = fs.Parse(args)

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	recs := sub.Profiler.Recommendations()
	if strings.TrimSpace(*backendID) != "" {
		recs = sub.Profiler.RecommendationsFor(*backendID)
	}
	if len(recs) == 0 {
		fmt.Println("no recommendations; profile some backends first")
		return
	}
	for _, r := range recs {
		fmt.Printf("[%s] %s: %s\n", r.Priority, r.BackendID, r.Message)
	}
}

func runAnalytics(args []string) {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	_ = fs.Parse(args)

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	printJSON(sub.Engine.Analytics())
}

func runOptimize(args []string) {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	goal := fs.String("goal", "balance", "optimization goal: speed|efficiency|balance")
	_ = fs.Parse(args)

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	if err := sub.Engine.OptimizeWeights(*goal); err != nil {
		fatalf("optimize failed: %v", err)
	}
	printJSON(sub.Engine.Weights())
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file (default stdout)")
	_ = fs.Parse(args)

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	data, err := sub.Engine.ExportModel()
	if err != nil {
		fatalf("export failed: %v", err)
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("model written to %s\n", *out)
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "", "model file to import")
	_ = fs.Parse(args)
	if strings.TrimSpace(*in) == "" {
		fatalf("--in is required")
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fatalf("read %s: %v", *in, err)
	}

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	if err := sub.Engine.ImportModel(data); err != nil {
		fatalf("import failed: %v", err)
	}
	printJSON(sub.Engine.Weights())
}

func runArchive(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: decisionctl archive <push|pull|list> [...]")
		os.Exit(1)
	}
	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	arch, err := archive.New(sub.Config.Archive)
	if err != nil {
		fatalf("archive unavailable: %v", err)
	}

	switch args[0] {
	case "push":
		data, err := sub.Engine.ExportModel()
		if err != nil {
			fatalf("export failed: %v", err)
		}
		key, err := arch.Upload(ctx, "decision-model", data)
		if err != nil {
			fatalf("upload failed: %v", err)
		}
		fmt.Printf("model archived as %s\n", key)
	case "pull":
		fs := flag.NewFlagSet("archive pull", flag.ExitOnError)
		key := fs.String("key", "", "object key to restore")
		_ = fs.Parse(args[1:])
		if strings.TrimSpace(*key) == "" {
			fatalf("--key is required")
		}
		data, err := arch.Download(ctx, *key)
		if err != nil {
			fatalf("download failed: %v", err)
		}
		if err := sub.Engine.ImportModel(data); err != nil {
			fatalf("import failed: %v", err)
		}
		fmt.Printf("model restored from %s\n", *key)
	case "list":
		keys, err := arch.List(ctx)
		if err != nil {
			fatalf("list failed: %v", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: decisionctl archive <push|pull|list> [...]")
		os.Exit(1)
	}
}

func runMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	_ = fs.Parse(args)

	ctx := context.Background()
	sub := newSubsystem(ctx)
	defer func() { _ = sub.Shutdown(ctx) }()

	fmt.Print(sub.Metrics.RenderPrometheus())
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("encode output: %v", err)
	}
	fmt.Println(string(b))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
