package selector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/internal/policy"
	"github.com/pranaysuyash/photo-search-sub010/internal/profiler"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// ErrNoBackendAvailable means every candidate was filtered out. The decision
// carries no partial result in that case.
var ErrNoBackendAvailable = errors.New("no backend available for task")

const scoreEpsilon = 1e-9

type Options struct {
	Registry           *registry.Registry
	Profiler           *profiler.Profiler
	Policy             *policy.Engine
	NeutralPerformance float64
	CacheTTL           time.Duration
	Logger             hclog.Logger
	Metrics            *observability.Registry
}

// Scored is one ranked candidate with its per-term breakdown.
type Scored struct {
	BackendID string
	Score     float64
	Terms     map[string]float64
	Estimated decisionapi.EstimatedPerformance
}

// Rerank lets the caller reorder the scored ranking before a decision is
// assembled. It returns the new order plus reasoning lines describing any
// change it made.
type Rerank func([]Scored) ([]Scored, []string)

// Request is one selection call. Snapshot is the monitor's latest read; the
// selector itself never samples.
type Request struct {
	Task          decisionapi.Task
	Criteria      decisionapi.Criteria
	Snapshot      decisionapi.ResourceSnapshot
	SnapshotStale bool
	Rerank        Rerank
}

// Selector filters capable backends and ranks the survivors with a weighted
// multi-criteria score. It is stateless apart from the decision cache.
type Selector struct {
	registry *registry.Registry
	profiler *profiler.Profiler
	policy   *policy.Engine
	neutral  float64
	logger   hclog.Logger
	metrics  *observability.Registry
	cache    *decisionCache
}

func New(opts Options) *Selector {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewRegistry()
	}
	pol := opts.Policy
	if pol == nil {
		pol = policy.NewAllowAll()
	}
	neutral := opts.NeutralPerformance
	if neutral <= 0 || neutral >= 1 {
		neutral = 0.5
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Selector{
		registry: opts.Registry,
		profiler: opts.Profiler,
		policy:   pol,
		neutral:  neutral,
		logger:   logger.Named("selector"),
		metrics:  metrics,
		cache:    newDecisionCache(ttl),
	}
}

// Select picks the best backend for the task. Identical requests within the
// cache TTL return the previously issued decision unchanged.
func (s *Selector) Select(ctx context.Context, req Request) (decisionapi.Decision, error) {
	_, span := observability.StartSpan(ctx, "selector.select",
		attribute.String("task.id", req.Task.ID),
		attribute.String("task.type", req.Task.Type),
	)
	defer span.End()

	key := cacheKey(req.Task, req.Criteria)
	if d, ok := s.cache.get(key); ok {
		s.metrics.IncCounter("decision_cache_hits_total", nil, 1)
		return d, nil
	}

	ranked, extra, err := s.rank(req)
	if err != nil {
		return decisionapi.Decision{}, err
	}

	d := s.assemble(req, ranked, 0, extra)
	s.cache.put(key, d)
	s.metrics.IncCounter("decisions_total", map[string]string{"backend": d.Backend}, 1)
	s.logger.Debug("backend selected",
		"task", req.Task.ID, "backend", d.Backend, "confidence", d.Confidence, "candidates", len(ranked))
	return d, nil
}

// SelectMultiple returns up to n decisions over distinct backends, best
// first. Results are fresh, never cached.
func (s *Selector) SelectMultiple(ctx context.Context, req Request, n int) ([]decisionapi.Decision, error) {
	_, span := observability.StartSpan(ctx, "selector.select_multiple",
		attribute.String("task.type", req.Task.Type),
		attribute.Int("n", n),
	)
	defer span.End()

	if n <= 0 {
		return nil, fmt.Errorf("select multiple: n must be positive, got %d", n)
	}
	ranked, extra, err := s.rank(req)
	if err != nil {
		return nil, err
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]decisionapi.Decision, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.assemble(req, ranked, i, extra))
	}
	return out, nil
}

// Rank exposes the scored candidate order without assembling a decision.
func (s *Selector) Rank(req Request) ([]Scored, error) {
	ranked, _, err := s.rank(req)
	if err != nil {
		return nil, err
	}
	return ranked, nil
}

func (s *Selector) assemble(req Request, ranked []Scored, idx int, extra []string) decisionapi.Decision {
	pick := ranked[idx]
	d := decisionapi.Decision{
		ID:         uuid.NewString(),
		TaskID:     req.Task.ID,
		Backend:    pick.BackendID,
		Confidence: clamp01(pick.Score),
		Estimated:  pick.Estimated,
		Stale:      req.SnapshotStale,
		CreatedAt:  time.Now().UTC(),
	}
	for _, c := range ranked {
		if c.BackendID != pick.BackendID {
			d.Fallbacks = append(d.Fallbacks, c.BackendID)
		}
	}
	d.Reasoning = reasoning(req, pick, len(ranked))
	d.Reasoning = append(d.Reasoning, extra...)
	return d
}

type candidate struct {
	id         string
	descriptor decisionapi.BackendDescriptor
	capability decisionapi.Capability
	health     decisionapi.BackendHealth
	score      float64
	terms      map[string]float64
	estimated  decisionapi.EstimatedPerformance
}

func (s *Selector) rank(req Request) ([]Scored, []string, error) {
	descs := s.registry.CapableOf(req.Task.Type, req.Task.ModelID)
	if len(descs) == 0 {
		return nil, nil, fmt.Errorf("%w: no registered backend serves %s/%s", ErrNoBackendAvailable, req.Task.Type, req.Task.ModelID)
	}

	excluded := make(map[string]bool, len(req.Criteria.ExcludeBackends))
	for _, id := range req.Criteria.ExcludeBackends {
		excluded[id] = true
	}

	candidates := make([]candidate, 0, len(descs))
	for _, desc := range descs {
		if excluded[desc.ID] {
			continue
		}
		adapter, ok := s.registry.Get(desc.ID)
		if !ok || !adapter.IsAvailable() {
			s.logger.Debug("backend unavailable", "backend", desc.ID)
			continue
		}
		// The worse of the stored descriptor health and the adapter's own
		// report wins; unhealthy backends never reach scoring.
		health := desc.Health
		if live := adapter.Health(); statusRank(live.Status) < statusRank(health.Status) {
			health = live
		}
		if health.Status != decisionapi.HealthHealthy && health.Status != decisionapi.HealthDegraded {
			s.logger.Debug("backend unhealthy", "backend", desc.ID, "status", health.Status)
			continue
		}
		capability, ok := s.registry.CapabilityFor(desc.ID, req.Task.Type, req.Task.ModelID)
		if !ok {
			continue
		}
		if req.Criteria.MaxInferenceTimeMs > 0 && s.estimatedLatency(desc.ID, req.Task, capability) > req.Criteria.MaxInferenceTimeMs {
			continue
		}
		if req.Criteria.MaxMemoryMB > 0 && capability.MemoryMB > req.Criteria.MaxMemoryMB {
			continue
		}
		if !req.Criteria.IgnoreResources && !s.fits(desc, capability, req.Snapshot) {
			continue
		}
		if !s.policy.IsNoop() {
			pd := s.policy.Evaluate(policy.Input{
				Backend:  desc.ID,
				TaskType: req.Task.Type,
				Model:    req.Task.ModelID,
				Priority: req.Task.Priority,
			})
			if !pd.Allowed {
				s.logger.Debug("backend denied by policy", "backend", desc.ID, "rule", pd.Rule)
				continue
			}
		}
		candidates = append(candidates, candidate{id: desc.ID, descriptor: desc, capability: capability, health: health})
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: all candidates filtered for task %s", ErrNoBackendAvailable, req.Task.ID)
	}

	weights := req.Criteria.Weights
	if len(weights) == 0 {
		weights = decisionapi.DefaultWeights()
	}
	s.score(candidates, weights, req)

	sort.SliceStable(candidates, func(i, j int) bool {
		if math.Abs(candidates[i].score-candidates[j].score) > scoreEpsilon {
			return candidates[i].score > candidates[j].score
		}
		return tieHash(req.Task.ID, candidates[i].id) < tieHash(req.Task.ID, candidates[j].id)
	})

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Scored{
			BackendID: c.id,
			Score:     c.score,
			Terms:     c.terms,
			Estimated: c.estimated,
		})
	}
	var extra []string
	if req.Rerank != nil {
		scored, extra = req.Rerank(scored)
	}
	return scored, extra, nil
}

// fits rejects backends whose declared needs exceed the latest snapshot.
// A zero snapshot (monitor never sampled) filters nothing.
func (s *Selector) fits(desc decisionapi.BackendDescriptor, capability decisionapi.Capability, snap decisionapi.ResourceSnapshot) bool {
	if snap.SampledAt.IsZero() {
		return true
	}
	need := desc.Requirements.MinMemoryMB
	if capability.MemoryMB > need {
		need = capability.MemoryMB
	}
	if need > 0 && snap.AvailableMemoryMB > 0 && need > snap.AvailableMemoryMB {
		return false
	}
	if desc.Requirements.MinCPUPercent > 0 && snap.CPUUtilization > 0 {
		if 100-snap.CPUUtilization < desc.Requirements.MinCPUPercent {
			return false
		}
	}
	return true
}

func (s *Selector) estimatedLatency(id string, task decisionapi.Task, capability decisionapi.Capability) float64 {
	if prof, ok := s.profiler.Profile(id, task.Type, task.ModelID); ok {
		return prof.MeanInferenceMs
	}
	return capability.InferenceTimeMs
}

func (s *Selector) score(candidates []candidate, weights map[string]float64, req Request) {
	// Relative latency normalization over the surviving set.
	minLatency := math.MaxFloat64
	for i := range candidates {
		lat := s.estimatedLatency(candidates[i].id, req.Task, candidates[i].capability)
		if lat > 0 && lat < minLatency {
			minLatency = lat
		}
	}

	for i := range candidates {
		c := &candidates[i]
		terms := map[string]float64{
			decisionapi.WeightCapability:  capabilityTerm(c.capability, req.Task),
			decisionapi.WeightPerformance: s.performanceTerm(c, req.Task, minLatency),
			decisionapi.WeightReliability: reliabilityTerm(c.health),
			decisionapi.WeightEfficiency:  s.efficiencyTerm(c),
			decisionapi.WeightLoad:        loadTerm(c, req.Criteria.Load),
			decisionapi.WeightFairness:    1 - req.Criteria.UsageShares[c.id],
		}
		var total float64
		for k, w := range weights {
			total += w * terms[k]
		}
		c.terms = terms
		c.score = total
		c.estimated = s.estimate(c, req.Task)
	}
}

func capabilityTerm(capability decisionapi.Capability, task decisionapi.Task) float64 {
	base := 0.8
	if task.ModelID != "" && len(capability.Models) > 0 {
		base = 1.0
	}
	if capability.Accuracy > 0 {
		return base * (0.5 + 0.5*capability.Accuracy)
	}
	return base * 0.75
}

func (s *Selector) performanceTerm(c *candidate, task decisionapi.Task, minLatency float64) float64 {
	prof, ok := s.profiler.Profile(c.id, task.Type, task.ModelID)
	if !ok {
		return s.neutral
	}
	if prof.MeanInferenceMs <= 0 || minLatency == math.MaxFloat64 {
		return s.neutral
	}
	return clamp01(minLatency / prof.MeanInferenceMs)
}

func reliabilityTerm(h decisionapi.BackendHealth) float64 {
	var base float64
	switch h.Status {
	case decisionapi.HealthHealthy:
		base = 1.0
	case decisionapi.HealthDegraded:
		base = 0.5
	default:
		base = 0.0
	}
	return base * (1 - clamp01(h.ErrorRate))
}

func (s *Selector) efficiencyTerm(c *candidate) float64 {
	if rp, ok := s.profiler.ResourceProfile(c.id); ok {
		return clamp01(rp.EfficiencyScore)
	}
	if c.capability.MemoryMB > 0 {
		return clamp01(1024.0 / float64(1024+c.capability.MemoryMB))
	}
	return s.neutral
}

func loadTerm(c *candidate, load map[string]int) float64 {
	inflight := load[c.id] + c.descriptor.Health.ActiveConnections
	return 1.0 / (1.0 + float64(inflight))
}

func (s *Selector) estimate(c *candidate, task decisionapi.Task) decisionapi.EstimatedPerformance {
	if prof, ok := s.profiler.Profile(c.id, task.Type, task.ModelID); ok {
		return decisionapi.EstimatedPerformance{
			InferenceTimeMs: prof.MeanInferenceMs,
			MemoryMB:        prof.MeanMemoryMB,
			Accuracy:        prof.Accuracy,
		}
	}
	return decisionapi.EstimatedPerformance{
		InferenceTimeMs: c.capability.InferenceTimeMs,
		MemoryMB:        c.capability.MemoryMB,
		Accuracy:        c.capability.Accuracy,
	}
}

func reasoning(req Request, pick Scored, candidates int) []string {
	out := []string{
		fmt.Sprintf("%d candidate(s) survived filtering for %s", candidates, req.Task.Type),
		fmt.Sprintf("%s scored %.3f (capability %.2f, performance %.2f, reliability %.2f, efficiency %.2f, load %.2f, fairness %.2f)",
			pick.BackendID, pick.Score,
			pick.Terms[decisionapi.WeightCapability],
			pick.Terms[decisionapi.WeightPerformance],
			pick.Terms[decisionapi.WeightReliability],
			pick.Terms[decisionapi.WeightEfficiency],
			pick.Terms[decisionapi.WeightLoad],
			pick.Terms[decisionapi.WeightFairness]),
	}
	if req.SnapshotStale {
		out = append(out, "resource snapshot was stale; resource filtering used last known values")
	}
	return out
}

func statusRank(status string) int {
	switch status {
	case decisionapi.HealthHealthy:
		return 2
	case decisionapi.HealthDegraded:
		return 1
	default:
		return 0
	}
}

func tieHash(taskID, backendID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(taskID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(backendID))
	return h.Sum64()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
