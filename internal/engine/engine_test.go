package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/internal/config"
	"github.com/pranaysuyash/photo-search-sub010/internal/history"
	"github.com/pranaysuyash/photo-search-sub010/internal/profiler"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/internal/resources"
	"github.com/pranaysuyash/photo-search-sub010/internal/selector"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func simConfig(id, taskType string, latencyMs float64, memMB int64) backend.Config {
	return backend.Config{
		ID:   id,
		Name: id,
		Type: backend.TypeSim,
		Capabilities: []decisionapi.Capability{
			{
				TaskType:        taskType,
				Models:          []string{"m1"},
				InferenceTimeMs: latencyMs,
				MemoryMB:        memMB,
				Accuracy:        0.9,
			},
		},
		Sim: backend.SimOptions{BaseLatencyMs: latencyMs, MemoryMB: memMB},
	}
}

type fixture struct {
	engine   *Engine
	registry *registry.Registry
	profiler *profiler.Profiler
	history  *history.MemoryStore
}

func newFixture(t testing.TB, monitor *resources.Monitor, cfgs ...backend.Config) *fixture {
	t.Helper()
	cfg := config.Default()
	reg := registry.New(nil, nil)
	for _, bc := range cfgs {
		a, err := backend.New(bc)
		if err != nil {
			t.Fatalf("build adapter %s: %v", bc.ID, err)
		}
		if err := reg.Register(context.Background(), a); err != nil {
			t.Fatalf("register %s: %v", bc.ID, err)
		}
	}
	prof := profiler.New(profiler.Options{Registry: reg, Thresholds: cfg.Thresholds})
	sel := selector.New(selector.Options{
		Registry:           reg,
		Profiler:           prof,
		NeutralPerformance: cfg.NeutralPerformance,
		CacheTTL:           cfg.CacheTTL(),
	})
	hist := history.NewMemoryStore()
	eng := New(Options{
		Config:   cfg,
		Registry: reg,
		Selector: sel,
		Profiler: prof,
		History:  hist,
		Monitor:  monitor,
	})
	return &fixture{engine: eng, registry: reg, profiler: prof, history: hist}
}

type fixedSampler struct {
	snap decisionapi.ResourceSnapshot
}

func (f *fixedSampler) Sample() (decisionapi.ResourceSnapshot, error) {
	return f.snap, nil
}

func task(id, taskType string) decisionapi.Task {
	return decisionapi.Task{ID: id, Type: taskType, ModelID: "m1"}
}

func TestColdStartDecision(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskFaceDetection, 30, 256))

	d, err := f.engine.MakeDecision(context.Background(), task("t1", decisionapi.TaskFaceDetection), decisionapi.Criteria{})
	if err != nil {
		t.Fatalf("MakeDecision: %v", err)
	}
	if d.Backend != "B1" {
		t.Fatalf("expected B1, got %s", d.Backend)
	}
	if d.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %v", d.Confidence)
	}
	if len(d.Fallbacks) != 0 {
		t.Fatalf("single backend should have no fallbacks, got %v", d.Fallbacks)
	}
}

func TestNoCandidateError(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskFaceDetection, 30, 256))

	_, err := f.engine.MakeDecision(context.Background(), task("t1", decisionapi.TaskOCR), decisionapi.Criteria{})
	if !errors.Is(err, selector.ErrNoBackendAvailable) {
		t.Fatalf("expected ErrNoBackendAvailable, got %v", err)
	}
}

func TestExhaustedResources(t *testing.T) {
	mon := resources.NewMonitor(resources.Options{
		Interval: 50 * time.Millisecond,
		Sampler: &fixedSampler{snap: decisionapi.ResourceSnapshot{
			TotalMemoryMB:     8192,
			AvailableMemoryMB: 64,
		}},
	})
	mon.Start()
	defer mon.Stop()

	f := newFixture(t, mon, simConfig("B1", decisionapi.TaskEmbedding, 30, 512))

	_, err := f.engine.MakeDecision(context.Background(), task("t1", decisionapi.TaskEmbedding), decisionapi.Criteria{})
	if !errors.Is(err, selector.ErrNoBackendAvailable) {
		t.Fatalf("expected no-candidate under memory pressure, got %v", err)
	}

	d, err := f.engine.MakeDecision(context.Background(), task("t2", decisionapi.TaskEmbedding), decisionapi.Criteria{IgnoreResources: true})
	if err != nil {
		t.Fatalf("MakeDecision with IgnoreResources: %v", err)
	}
	if d.Backend != "B1" {
		t.Fatalf("expected B1 when resources ignored, got %s", d.Backend)
	}
}

func TestUnhealthyBackendYieldsNoCandidate(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	if err := f.registry.UpdateHealth("B1", decisionapi.BackendHealth{
		Status:      decisionapi.HealthUnhealthy,
		ErrorRate:   1.0,
		LastChecked: time.Now(),
	}); err != nil {
		t.Fatalf("UpdateHealth: %v", err)
	}

	_, err := f.engine.MakeDecision(context.Background(), task("t1", decisionapi.TaskEmbedding), decisionapi.Criteria{})
	if !errors.Is(err, selector.ErrNoBackendAvailable) {
		t.Fatalf("expected ErrNoBackendAvailable for sole unhealthy backend, got %v", err)
	}
}

func TestBatchIsolation(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))

	tasks := []decisionapi.Task{
		task("t1", decisionapi.TaskEmbedding),
		task("t2", decisionapi.TaskOCR),
		task("t3", decisionapi.TaskEmbedding),
	}
	items := f.engine.MakeBatchDecisions(context.Background(), tasks, decisionapi.Criteria{})
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Fatalf("tasks 1 and 3 should succeed: %v / %v", items[0].Err, items[2].Err)
	}
	if items[1].Err == nil {
		t.Fatalf("task 2 should fail with no capable backend")
	}
	if items[0].Decision.TaskID != "t1" || items[2].Decision.TaskID != "t3" {
		t.Fatalf("batch order not preserved")
	}
}

func TestFairnessPromotionRecordedInReasoning(t *testing.T) {
	f := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 21, 256),
	)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := f.profiler.ProfileBackend(ctx, id, decisionapi.TaskEmbedding, "m1", 4); err != nil {
			t.Fatalf("profile %s: %v", id, err)
		}
	}

	// Performance-heavy weights leave a within-tolerance gap between the two
	// backends; the skewed usage shares then force the promotion.
	criteria := decisionapi.Criteria{
		Weights: map[string]float64{
			decisionapi.WeightPerformance: 0.5,
			decisionapi.WeightReliability: 0.2,
			decisionapi.WeightEfficiency:  0.2,
			decisionapi.WeightCapability:  0.1,
			decisionapi.WeightLoad:        0,
			decisionapi.WeightFairness:    0,
		},
		UsageShares: map[string]float64{"a": 0.9, "b": 0.1},
	}
	d, err := f.engine.MakeDecision(ctx, task("t1", decisionapi.TaskEmbedding), criteria)
	if err != nil {
		t.Fatalf("MakeDecision: %v", err)
	}
	if d.Backend != "b" {
		t.Fatalf("expected fairness promotion of b, got %s", d.Backend)
	}
	var found bool
	for _, r := range d.Reasoning {
		if strings.Contains(r, "fairness promotion") {
			found = true
		}
	}
	if !found {
		t.Fatalf("promotion not recorded in reasoning: %v", d.Reasoning)
	}

	rec, ok := f.history.DecisionByTask("t1")
	if !ok || !rec.FairnessApplied {
		t.Fatalf("fairness not flagged in history record: %+v", rec)
	}
}

func TestFairnessConvergesUsage(t *testing.T) {
	f := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 21, 256),
	)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := f.profiler.ProfileBackend(ctx, id, decisionapi.TaskEmbedding, "m1", 4); err != nil {
			t.Fatalf("profile %s: %v", id, err)
		}
	}
	criteria := decisionapi.Criteria{
		Weights: map[string]float64{
			decisionapi.WeightPerformance: 0.5,
			decisionapi.WeightReliability: 0.2,
			decisionapi.WeightEfficiency:  0.2,
			decisionapi.WeightCapability:  0.1,
			decisionapi.WeightLoad:        0,
			decisionapi.WeightFairness:    0,
		},
	}

	for i := 0; i < 30; i++ {
		id := "conv-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		if _, err := f.engine.MakeDecision(ctx, task(id, decisionapi.TaskEmbedding), criteria); err != nil {
			t.Fatalf("decision %d: %v", i, err)
		}
	}

	counts := f.history.UsageCounts()
	if counts["b"] == 0 {
		t.Fatalf("raw top-score selection starved b; fairness pass should have promoted it: %v", counts)
	}
	if counts["a"] == 0 {
		t.Fatalf("fairness over-corrected and starved a: %v", counts)
	}
}

func TestMakeMultipleDecisions(t *testing.T) {
	f := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 40, 256),
		simConfig("c", decisionapi.TaskEmbedding, 60, 256),
	)
	ctx := context.Background()

	ds, err := f.engine.MakeMultipleDecisions(ctx, task("t1", decisionapi.TaskEmbedding), decisionapi.Criteria{}, 2)
	if err != nil {
		t.Fatalf("MakeMultipleDecisions: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(ds))
	}
	if ds[0].Backend == ds[1].Backend {
		t.Fatalf("expected distinct backends, got %v", ds)
	}
	if got := len(f.history.Decisions()); got != 0 {
		t.Fatalf("load-spreading preview must not touch history, got %d records", got)
	}

	if _, err := f.engine.MakeMultipleDecisions(ctx, task("t2", decisionapi.TaskEmbedding), decisionapi.Criteria{}, 0); err == nil {
		t.Fatalf("expected error for n=0")
	}
	if _, err := f.engine.MakeMultipleDecisions(ctx, decisionapi.Task{}, decisionapi.Criteria{}, 2); err == nil {
		t.Fatalf("expected error for missing task id")
	}
}

func TestPartialConfigKeepsCustomFields(t *testing.T) {
	// Only the fairness tolerance is set; everything else must default
	// instead of the whole config being replaced.
	cfg := config.Config{FairnessTolerance: 0.4}
	reg := registry.New(nil, nil)
	for _, bc := range []backend.Config{
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 40, 256),
	} {
		a, err := backend.New(bc)
		if err != nil {
			t.Fatalf("build adapter %s: %v", bc.ID, err)
		}
		if err := reg.Register(context.Background(), a); err != nil {
			t.Fatalf("register %s: %v", bc.ID, err)
		}
	}
	prof := profiler.New(profiler.Options{Registry: reg, Thresholds: config.Default().Thresholds})
	sel := selector.New(selector.Options{Registry: reg, Profiler: prof})
	eng := New(Options{
		Config:   cfg,
		Registry: reg,
		Selector: sel,
		Profiler: prof,
		History:  history.NewMemoryStore(),
	})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := prof.ProfileBackend(ctx, id, decisionapi.TaskEmbedding, "m1", 4); err != nil {
			t.Fatalf("profile %s: %v", id, err)
		}
	}

	// The score gap between a and b exceeds the default tolerance but fits
	// the custom one, so the promotion only happens if the custom value
	// survived construction.
	criteria := decisionapi.Criteria{
		Weights: map[string]float64{
			decisionapi.WeightPerformance: 0.5,
			decisionapi.WeightReliability: 0.2,
			decisionapi.WeightEfficiency:  0.2,
			decisionapi.WeightCapability:  0.1,
			decisionapi.WeightLoad:        0,
			decisionapi.WeightFairness:    0,
		},
		UsageShares: map[string]float64{"a": 0.9, "b": 0.1},
	}
	d, err := eng.MakeDecision(ctx, task("t1", decisionapi.TaskEmbedding), criteria)
	if err != nil {
		t.Fatalf("MakeDecision: %v", err)
	}
	if d.Backend != "b" {
		t.Fatalf("custom fairness tolerance was discarded, got %s", d.Backend)
	}
	assertValidWeights(t, eng.Weights())
}

func TestRecordTaskResultUnknownDecisionAbsorbed(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	err := f.engine.RecordTaskResult(context.Background(), "never-decided", "B1",
		decisionapi.TaskResult{Success: true, ProcessingTimeMs: 12}, nil)
	if err != nil {
		t.Fatalf("unknown decision must be absorbed, got %v", err)
	}
	if err := f.engine.RecordTaskResult(context.Background(), "", "B1", decisionapi.TaskResult{}, nil); err == nil {
		t.Fatalf("empty task id should be rejected")
	}
}

func TestLearningAdjustsWeights(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	ctx := context.Background()

	before := f.engine.Weights()["reliability"]
	for i := 0; i < 5; i++ {
		id := task("fail-"+string(rune('0'+i)), decisionapi.TaskEmbedding)
		if _, err := f.engine.MakeDecision(ctx, id, decisionapi.Criteria{}); err != nil {
			t.Fatalf("decision: %v", err)
		}
		if err := f.engine.RecordTaskResult(ctx, id.ID, "B1",
			decisionapi.TaskResult{Success: false, Error: "oom"}, nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	after := f.engine.Weights()["reliability"]
	if after <= before {
		t.Fatalf("reliability weight should grow after failures: %v -> %v", before, after)
	}
	assertValidWeights(t, f.engine.Weights())
}

func TestOptimizeWeightsBoundsAndKeys(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	goals := []string{GoalSpeed, GoalEfficiency, GoalBalance, GoalSpeed, GoalSpeed, GoalEfficiency}
	for _, g := range goals {
		if err := f.engine.OptimizeWeights(g); err != nil {
			t.Fatalf("OptimizeWeights(%s): %v", g, err)
		}
		assertValidWeights(t, f.engine.Weights())
	}
	if err := f.engine.OptimizeWeights("nonsense"); err == nil {
		t.Fatalf("expected error for unknown goal")
	}

	w := f.engine.Weights()
	if w[decisionapi.WeightEfficiency] <= decisionapi.DefaultWeights()[decisionapi.WeightEfficiency] {
		t.Fatalf("efficiency goal should raise the efficiency weight: %v", w)
	}
}

func TestUpdateWeightsPartialMerge(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	if err := f.engine.UpdateWeights(map[string]float64{
		decisionapi.WeightPerformance: 0.9,
		"bogus":                       0.5,
	}); err != nil {
		t.Fatalf("UpdateWeights: %v", err)
	}
	w := f.engine.Weights()
	if _, ok := w["bogus"]; ok {
		t.Fatalf("unknown key must be ignored")
	}
	if w[decisionapi.WeightPerformance] <= w[decisionapi.WeightReliability] {
		t.Fatalf("performance should dominate after merge: %v", w)
	}
	assertValidWeights(t, w)
}

func TestModelRoundTripReproducesDecisions(t *testing.T) {
	src := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 60, 512),
	)
	ctx := context.Background()

	// Accumulate some learning so the exported state is non-trivial.
	for i := 0; i < 4; i++ {
		id := task("warm-"+string(rune('0'+i)), decisionapi.TaskEmbedding)
		if _, err := src.engine.MakeDecision(ctx, id, decisionapi.Criteria{}); err != nil {
			t.Fatalf("decision: %v", err)
		}
		if err := src.engine.RecordTaskResult(ctx, id.ID, "",
			decisionapi.TaskResult{Success: i%2 == 0, ProcessingTimeMs: 700}, nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	data, err := src.engine.ExportModel()
	if err != nil {
		t.Fatalf("ExportModel: %v", err)
	}

	dst := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 60, 512),
	)
	if err := dst.engine.ImportModel(data); err != nil {
		t.Fatalf("ImportModel: %v", err)
	}

	srcW, dstW := src.engine.Weights(), dst.engine.Weights()
	for k, v := range srcW {
		if math.Abs(dstW[k]-v) > 1e-12 {
			t.Fatalf("weight %s differs after round trip: %v vs %v", k, v, dstW[k])
		}
	}

	fixed := task("fixed", decisionapi.TaskEmbedding)
	d1, err := src.engine.MakeDecision(ctx, fixed, decisionapi.Criteria{})
	if err != nil {
		t.Fatalf("src decision: %v", err)
	}
	d2, err := dst.engine.MakeDecision(ctx, fixed, decisionapi.Criteria{})
	if err != nil {
		t.Fatalf("dst decision: %v", err)
	}
	if d1.Backend != d2.Backend {
		t.Fatalf("round-tripped engine decided differently: %s vs %s", d1.Backend, d2.Backend)
	}
}

func TestImportModelInvalidLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	before := f.engine.Weights()

	cases := [][]byte{
		[]byte("{broken"),
		[]byte(`{"schema_version":9,"weights":{"performance":0.5}}`),
		[]byte(`{"schema_version":1,"weights":{"mystery":0.5}}`),
		[]byte(`{"schema_version":1,"weights":{"performance":1.5}}`),
	}
	for _, c := range cases {
		if err := f.engine.ImportModel(c); err == nil {
			t.Fatalf("expected import failure for %s", c)
		}
	}
	after := f.engine.Weights()
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("weights mutated by failed import: %v vs %v", before, after)
		}
	}

	if err := f.engine.ImportModel([]byte(`{"schema_version":1}`)); err != nil {
		t.Fatalf("empty valid document must be a no-op success: %v", err)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 20, 256),
	)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := task("an-"+string(rune('0'+i)), decisionapi.TaskEmbedding)
		if _, err := f.engine.MakeDecision(ctx, id, decisionapi.Criteria{}); err != nil {
			t.Fatalf("decision: %v", err)
		}
		if err := f.engine.RecordTaskResult(ctx, id.ID, "",
			decisionapi.TaskResult{Success: i != 0, ProcessingTimeMs: 25}, nil); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	a := f.engine.Analytics()
	if a.TotalDecisions != 4 {
		t.Fatalf("expected 4 decisions, got %d", a.TotalDecisions)
	}
	if a.AverageConfidence <= 0 || a.AverageConfidence > 1 {
		t.Fatalf("average confidence out of range: %v", a.AverageConfidence)
	}
	if a.SuccessRate != 0.75 {
		t.Fatalf("expected success rate 0.75, got %v", a.SuccessRate)
	}
	if a.FairnessScore < 0 || a.FairnessScore > 1 {
		t.Fatalf("fairness score out of range: %v", a.FairnessScore)
	}
	if a.Learning.Iterations != 4 {
		t.Fatalf("expected 4 learning iterations, got %d", a.Learning.Iterations)
	}
	var used int
	for _, c := range a.UsageByBackend {
		used += c
	}
	if used != 4 {
		t.Fatalf("usage distribution should cover all decisions: %v", a.UsageByBackend)
	}
}

func TestAnalyticsExposesStarvedBackend(t *testing.T) {
	f := newFixture(t, nil,
		simConfig("a", decisionapi.TaskEmbedding, 20, 256),
		simConfig("b", decisionapi.TaskEmbedding, 20, 256),
	)
	ctx := context.Background()

	// Every decision is forced onto a; b never receives one.
	for i := 0; i < 10; i++ {
		id := task("st-"+string(rune('0'+i)), decisionapi.TaskEmbedding)
		if _, err := f.engine.MakeDecision(ctx, id, decisionapi.Criteria{ExcludeBackends: []string{"b"}}); err != nil {
			t.Fatalf("decision %d: %v", i, err)
		}
	}

	a := f.engine.Analytics()
	if a.UsageByBackend["a"] != 10 || a.UsageByBackend["b"] != 0 {
		t.Fatalf("unexpected usage distribution: %v", a.UsageByBackend)
	}
	if a.FairnessScore > 0.01 {
		t.Fatalf("total starvation of b must yield fairness near 0, got %v", a.FairnessScore)
	}
}

func TestCachedDecisionNotDoubleCounted(t *testing.T) {
	f := newFixture(t, nil, simConfig("B1", decisionapi.TaskEmbedding, 30, 256))
	ctx := context.Background()

	d1, err := f.engine.MakeDecision(ctx, task("t1", decisionapi.TaskEmbedding), decisionapi.Criteria{})
	if err != nil {
		t.Fatalf("first decision: %v", err)
	}
	d2, err := f.engine.MakeDecision(ctx, task("t1", decisionapi.TaskEmbedding), decisionapi.Criteria{})
	if err != nil {
		t.Fatalf("second decision: %v", err)
	}
	if d1.ID != d2.ID {
		t.Fatalf("expected cached decision, got %s vs %s", d1.ID, d2.ID)
	}
	if got := f.history.UsageCounts()["B1"]; got != 1 {
		t.Fatalf("cached decision double-counted: %d", got)
	}
}

func assertValidWeights(t *testing.T, w map[string]float64) {
	t.Helper()
	def := decisionapi.DefaultWeights()
	if len(w) != len(def) {
		t.Fatalf("weight key set changed: %v", w)
	}
	var sum float64
	for k, v := range w {
		if _, ok := def[k]; !ok {
			t.Fatalf("unexpected weight key %s", k)
		}
		if v < 0 || v > 1 {
			t.Fatalf("weight %s=%v out of [0,1]", k, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights do not sum to 1: %v (sum %v)", w, sum)
	}
}
