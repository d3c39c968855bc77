package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// SimOptions tunes the deterministic in-process adapter used by tests and
// the decisionctl sandbox.
type SimOptions struct {
	BaseLatencyMs float64 `yaml:"base_latency_ms"`
	JitterMs      float64 `yaml:"jitter_ms"`
	MemoryMB      int64   `yaml:"memory_mb"`
	FailEvery     int     `yaml:"fail_every"`
	FailAll       bool    `yaml:"fail_all"`
	InitFail      bool    `yaml:"init_fail"`
}

// Sim is a deterministic inference backend. Latency and failures are derived
// from an FNV hash of the request so repeated runs reproduce exactly; the
// reported duration is simulated, not slept, to keep callers fast.
type Sim struct {
	cfg  Config
	mu   sync.Mutex
	init bool

	models       map[string]bool
	startedAt    time.Time
	calls        int64
	failures     int64
	latencySum   float64
	optimizedFor string
}

func NewSim(cfg Config) *Sim {
	if cfg.Sim.BaseLatencyMs <= 0 {
		cfg.Sim.BaseLatencyMs = 20
	}
	if cfg.Sim.MemoryMB <= 0 {
		cfg.Sim.MemoryMB = 256
	}
	return &Sim{cfg: cfg, models: make(map[string]bool)}
}

func (s *Sim) ID() string { return s.cfg.ID }

func (s *Sim) Descriptor() decisionapi.BackendDescriptor {
	return decisionapi.BackendDescriptor{
		ID:           s.cfg.ID,
		Name:         s.cfg.Name,
		Version:      s.cfg.Version,
		Capabilities: append([]decisionapi.Capability(nil), s.cfg.Capabilities...),
		Requirements: s.cfg.Requirements,
		Health:       s.Health(),
		NonMergeable: s.cfg.NonMergeable,
	}
}

func (s *Sim) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Sim.InitFail {
		return fmt.Errorf("backend %s failed to initialize", s.cfg.ID)
	}
	s.init = true
	s.startedAt = time.Now().UTC()
	return nil
}

func (s *Sim) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init = false
	s.models = make(map[string]bool)
	return nil
}

func (s *Sim) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init
}

func (s *Sim) Health() decisionapi.BackendHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := decisionapi.BackendHealth{
		Status:      decisionapi.HealthHealthy,
		MemoryMB:    s.cfg.Sim.MemoryMB,
		LastChecked: time.Now().UTC(),
	}
	if !s.init {
		h.Status = decisionapi.HealthUnhealthy
		return h
	}
	h.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	if s.calls > 0 {
		h.ErrorRate = float64(s.failures) / float64(s.calls)
		h.ResponseTimeMs = s.latencySum / float64(s.calls)
	}
	switch {
	case h.ErrorRate > 0.5:
		h.Status = decisionapi.HealthUnhealthy
	case h.ErrorRate > 0.1:
		h.Status = decisionapi.HealthDegraded
	}
	return h
}

func (s *Sim) LoadModel(_ context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		return fmt.Errorf("backend %s is not initialized", s.cfg.ID)
	}
	s.models[modelID] = true
	return nil
}

func (s *Sim) UnloadModel(_ context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, modelID)
	return nil
}

func (s *Sim) ListModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.models))
	for m := range s.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s *Sim) RunInference(ctx context.Context, req decisionapi.InferenceRequest) (decisionapi.InferenceResponse, error) {
	if err := ctx.Err(); err != nil {
		return decisionapi.InferenceResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		return decisionapi.InferenceResponse{}, errors.New("backend not initialized")
	}
	s.calls++
	if s.cfg.Sim.FailAll || (s.cfg.Sim.FailEvery > 0 && s.calls%int64(s.cfg.Sim.FailEvery) == 0) {
		s.failures++
		return decisionapi.InferenceResponse{}, fmt.Errorf("simulated inference failure on %s", s.cfg.ID)
	}
	seed := fnv64(s.cfg.ID + "|" + req.Model + "|" + fmt.Sprint(len(req.Input)) + "|" + fmt.Sprint(s.calls))
	latency := s.cfg.Sim.BaseLatencyMs
	if s.cfg.Sim.JitterMs > 0 {
		latency += float64(seed%1000) / 1000.0 * s.cfg.Sim.JitterMs
	}
	if s.optimizedFor != "" {
		latency *= 0.9
	}
	s.latencySum += latency
	return decisionapi.InferenceResponse{
		Output:     deterministicOutput(seed, 32),
		Format:     req.Format,
		DurationMs: latency,
		MemoryMB:   s.cfg.Sim.MemoryMB,
	}, nil
}

func (s *Sim) RunBatchInference(ctx context.Context, reqs []decisionapi.InferenceRequest) ([]decisionapi.InferenceResponse, error) {
	out := make([]decisionapi.InferenceResponse, 0, len(reqs))
	for _, r := range reqs {
		resp, err := s.RunInference(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *Sim) OptimizeForTask(taskType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimizedFor = taskType
	return nil
}

func (s *Sim) PerformanceMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{TotalInferences: s.calls, TotalFailures: s.failures}
	if s.calls > 0 {
		m.AvgLatencyMs = s.latencySum / float64(s.calls)
	}
	return m
}

func fnv64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func deterministicOutput(seed uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i += 8 {
		seed = seed*6364136223846793005 + 1442695040888963407
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], seed)
		copy(out[i:], buf[:])
	}
	return out
}
