package resources

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// Sampler produces one point-in-time resource snapshot. Injectable so tests
// can drive the monitor without touching the host.
type Sampler interface {
	Sample() (decisionapi.ResourceSnapshot, error)
}

type Options struct {
	Interval    time.Duration
	StoragePath string
	Sampler     Sampler
	Logger      hclog.Logger
	Metrics     *observability.Registry
}

type HealthReport struct {
	Running      bool      `json:"running"`
	SampleErrors int64     `json:"sample_errors"`
	LastSampleAt time.Time `json:"last_sample_at"`
}

// Monitor keeps the latest resource snapshot. Current never samples; it only
// returns what the background loop last observed. Sampling failures keep the
// last-known-good snapshot and bump an error counter.
type Monitor struct {
	interval time.Duration
	sampler  Sampler
	logger   hclog.Logger
	metrics  *observability.Registry

	mu        sync.Mutex
	last      decisionapi.ResourceSnapshot
	errors    int64
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewMonitor(opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	sampler := opts.Sampler
	if sampler == nil {
		storagePath := opts.StoragePath
		if storagePath == "" {
			storagePath = "/"
		}
		sampler = &hostSampler{storagePath: storagePath}
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewRegistry()
	}
	return &Monitor{
		interval: interval,
		sampler:  sampler,
		logger:   logger.Named("resources"),
		metrics:  metrics,
	}
}

// Start takes one synchronous sample so Current is immediately meaningful,
// then launches the loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.sampleOnce()
	go m.loop()
}

func (m *Monitor) loop() {
	defer close(m.done)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	snap, err := m.sampler.Sample()
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		m.metrics.IncCounter("resource_sample_errors_total", nil, 1)
		m.logger.Warn("resource sample failed, keeping last snapshot", "error", err, "errors", m.errors)
		return
	}
	snap.SampledAt = time.Now().UTC()
	m.last = snap
	m.metrics.SetGauge("resource_available_memory_mb", nil, float64(snap.AvailableMemoryMB))
	m.metrics.SetGauge("resource_cpu_utilization", nil, snap.CPUUtilization)
}

// Stop is idempotent and never discards the last snapshot.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}

// Current returns the latest snapshot without blocking or sampling.
func (m *Monitor) Current() decisionapi.ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stale reports whether the latest snapshot is older than twice the
// sampling interval.
func (m *Monitor) Stale(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last.SampledAt.IsZero() {
		return true
	}
	return now.Sub(m.last.SampledAt) > 2*m.interval
}

func (m *Monitor) Health() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthReport{
		Running:      m.running,
		SampleErrors: m.errors,
		LastSampleAt: m.last.SampledAt,
	}
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}
