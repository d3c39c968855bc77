package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/internal/config"
	"github.com/pranaysuyash/photo-search-sub010/internal/engine"
	"github.com/pranaysuyash/photo-search-sub010/internal/history"
	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/internal/policy"
	"github.com/pranaysuyash/photo-search-sub010/internal/profiler"
	"github.com/pranaysuyash/photo-search-sub010/internal/registry"
	"github.com/pranaysuyash/photo-search-sub010/internal/resources"
	"github.com/pranaysuyash/photo-search-sub010/internal/selector"
)

// Subsystem bundles everything NewEngineFromEnv wires together so callers
// can reach the individual components for profiling and operator tooling.
type Subsystem struct {
	Config   config.Config
	Engine   *engine.Engine
	Registry *registry.Registry
	Profiler *profiler.Profiler
	Monitor  *resources.Monitor
	Metrics  *observability.Registry

	tracingShutdown func(context.Context) error
}

// NewEngineFromEnv builds the full decision subsystem with explicit wiring:
// config, then monitor, registry, profiler, policy, selector, history, and
// finally the engine. Backends listed in the config file are registered; a
// registration failure aborts startup.
func NewEngineFromEnv(ctx context.Context) (*Subsystem, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "photosearch-decision",
		Level: hclog.LevelFromString(getenv("PHOTOSEARCH_LOG_LEVEL", "info")),
	})
	metrics := observability.NewRegistry()

	tracingShutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "photosearch-decision",
		Environment:  cfg.Tracing.Environment,
		Exporter:     cfg.Tracing.Exporter,
		Endpoint:     cfg.Tracing.Endpoint,
		Headers:      cfg.Tracing.Headers,
		UseTLS:       cfg.Tracing.UseTLS,
		Sampler:      cfg.Tracing.Sampler,
		SamplerRatio: cfg.Tracing.SamplerRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	mon := resources.NewMonitor(resources.Options{
		Interval:    cfg.MonitorInterval(),
		StoragePath: getenv("PHOTOSEARCH_STORAGE_PATH", "/"),
		Logger:      logger,
		Metrics:     metrics,
	})
	mon.Start()

	reg := registry.New(logger, metrics)
	for _, bc := range cfg.Backends {
		a, err := backend.New(bc)
		if err != nil {
			mon.Stop()
			return nil, fmt.Errorf("build backend %s: %w", bc.ID, err)
		}
		if err := reg.Register(ctx, a); err != nil {
			mon.Stop()
			return nil, err
		}
	}

	prof := profiler.New(profiler.Options{
		Registry:   reg,
		Thresholds: cfg.Thresholds,
		Logger:     logger,
		Metrics:    metrics,
	})

	pol, err := policy.LoadFromEnv()
	if err != nil {
		mon.Stop()
		return nil, err
	}

	sel := selector.New(selector.Options{
		Registry:           reg,
		Profiler:           prof,
		Policy:             pol,
		NeutralPerformance: cfg.NeutralPerformance,
		CacheTTL:           cfg.CacheTTL(),
		Logger:             logger,
		Metrics:            metrics,
	})

	eng := engine.New(engine.Options{
		Config:   cfg,
		Registry: reg,
		Selector: sel,
		Profiler: prof,
		History:  history.NewMemoryStore(),
		Monitor:  mon,
		Logger:   logger,
		Metrics:  metrics,
	})

	return &Subsystem{
		Config:          cfg,
		Engine:          eng,
		Registry:        reg,
		Profiler:        prof,
		Monitor:         mon,
		Metrics:         metrics,
		tracingShutdown: tracingShutdown,
	}, nil
}

// Shutdown stops the monitor and flushes tracing. Safe to call once at
// process exit.
func (s *Subsystem) Shutdown(ctx context.Context) error {
	s.Monitor.Stop()
	if s.tracingShutdown != nil {
		return s.tracingShutdown(ctx)
	}
	return nil
}

func getenv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
