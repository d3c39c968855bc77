package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Remote talks to an inference sidecar (e.g. an ONNX runtime service) over
// HTTP JSON. Availability is a cached flag refreshed by calls, never a
// network round-trip, so the decision path stays non-blocking.
type Remote struct {
	cfg        Config
	httpClient *http.Client

	mu         sync.Mutex
	init       bool
	available  bool
	startedAt  time.Time
	calls      int64
	failures   int64
	latencySum float64
}

func NewRemote(cfg Config) (*Remote, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("remote backend %s: endpoint is required", cfg.ID)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (r *Remote) ID() string { return r.cfg.ID }

func (r *Remote) Descriptor() decisionapi.BackendDescriptor {
	return decisionapi.BackendDescriptor{
		ID:           r.cfg.ID,
		Name:         r.cfg.Name,
		Version:      r.cfg.Version,
		Capabilities: append([]decisionapi.Capability(nil), r.cfg.Capabilities...),
		Requirements: r.cfg.Requirements,
		Health:       r.Health(),
		NonMergeable: r.cfg.NonMergeable,
	}
}

func (r *Remote) Initialize(ctx context.Context) error {
	url := strings.TrimRight(r.cfg.Endpoint, "/") + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s health check: %w", r.cfg.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s health check returned %s", r.cfg.ID, resp.Status)
	}
	r.mu.Lock()
	r.init = true
	r.available = true
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

func (r *Remote) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = false
	r.available = false
	return nil
}

func (r *Remote) IsAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init && r.available
}

func (r *Remote) Health() decisionapi.BackendHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := decisionapi.BackendHealth{
		Status:      decisionapi.HealthHealthy,
		LastChecked: time.Now().UTC(),
	}
	if !r.init || !r.available {
		h.Status = decisionapi.HealthUnhealthy
		return h
	}
	h.UptimeSeconds = int64(time.Since(r.startedAt).Seconds())
	if r.calls > 0 {
		h.ErrorRate = float64(r.failures) / float64(r.calls)
		h.ResponseTimeMs = r.latencySum / float64(r.calls)
	}
	switch {
	case h.ErrorRate > 0.5:
		h.Status = decisionapi.HealthUnhealthy
	case h.ErrorRate > 0.1:
		h.Status = decisionapi.HealthDegraded
	}
	return h
}

func (r *Remote) LoadModel(ctx context.Context, modelID string) error {
	return r.postJSON(ctx, "/v1/models/load", map[string]string{"model": modelID}, nil)
}

func (r *Remote) UnloadModel(ctx context.Context, modelID string) error {
	return r.postJSON(ctx, "/v1/models/unload", map[string]string{"model": modelID}, nil)
}

func (r *Remote) ListModels() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var out struct {
		Models []string `json:"models"`
	}
	if err := r.getJSON(ctx, "/v1/models", &out); err != nil {
		return nil
	}
	return out.Models
}

func (r *Remote) RunInference(ctx context.Context, req decisionapi.InferenceRequest) (decisionapi.InferenceResponse, error) {
	started := time.Now()
	var resp decisionapi.InferenceResponse
	err := r.postJSONWithRetry(ctx, "/v1/infer", req, &resp, 2)
	elapsed := float64(time.Since(started).Microseconds()) / 1000.0
	r.mu.Lock()
	r.calls++
	if err != nil {
		r.failures++
		r.available = r.failures < r.calls // all-failed marks unavailable
	} else {
		r.available = true
		r.latencySum += elapsed
	}
	r.mu.Unlock()
	if err != nil {
		return decisionapi.InferenceResponse{}, err
	}
	if resp.DurationMs <= 0 {
		resp.DurationMs = elapsed
	}
	return resp, nil
}

func (r *Remote) RunBatchInference(ctx context.Context, reqs []decisionapi.InferenceRequest) ([]decisionapi.InferenceResponse, error) {
	var out struct {
		Results []decisionapi.InferenceResponse `json:"results"`
	}
	if err := r.postJSONWithRetry(ctx, "/v1/infer/batch", map[string]any{"requests": reqs}, &out, 2); err != nil {
		return nil, err
	}
	if len(out.Results) != len(reqs) {
		return nil, fmt.Errorf("backend %s returned %d results for %d requests", r.cfg.ID, len(out.Results), len(reqs))
	}
	return out.Results, nil
}

func (r *Remote) OptimizeForTask(taskType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.postJSON(ctx, "/v1/optimize", map[string]string{"task_type": taskType}, nil)
}

func (r *Remote) PerformanceMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := Metrics{TotalInferences: r.calls, TotalFailures: r.failures}
	if n := r.calls - r.failures; n > 0 {
		m.AvgLatencyMs = r.latencySum / float64(n)
	}
	return m
}

func (r *Remote) postJSONWithRetry(ctx context.Context, path string, reqBody, out any, attempts int) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * 200 * time.Millisecond):
			}
		}
		lastErr = r.postJSON(ctx, path, reqBody, out)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (r *Remote) postJSON(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	url := strings.TrimRight(r.cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend %s request %s failed: %s %s", r.cfg.ID, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *Remote) getJSON(ctx context.Context, path string, out any) error {
	url := strings.TrimRight(r.cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s request %s failed: %s", r.cfg.ID, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
