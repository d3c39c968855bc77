package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pranaysuyash/photo-search-sub010/internal/backend"
	"github.com/pranaysuyash/photo-search-sub010/internal/observability"
	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

type entry struct {
	adapter    backend.Adapter
	descriptor decisionapi.BackendDescriptor
	pins       int
	removing   bool
}

// Registry is the single source of truth for known backends. All state lives
// in one lock-guarded map; callers only ever receive copies.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  hclog.Logger
	metrics *observability.Registry
}

func New(logger hclog.Logger, metrics *observability.Registry) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if metrics == nil {
		metrics = observability.NewRegistry()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.Named("registry"),
		metrics: metrics,
	}
}

// Register initializes the adapter and stores its descriptor. Re-registering
// an id replaces the prior descriptor unless the prior one is non-mergeable
// and declares a different capability set. A failed Initialize leaves the
// registry untouched.
func (r *Registry) Register(ctx context.Context, a backend.Adapter) error {
	desc := a.Descriptor()
	if strings.TrimSpace(desc.ID) == "" {
		return fmt.Errorf("register backend: empty id")
	}

	r.mu.RLock()
	prior, exists := r.entries[desc.ID]
	if exists && prior.descriptor.NonMergeable && !sameCapabilitySet(prior.descriptor.Capabilities, desc.Capabilities) {
		r.mu.RUnlock()
		return fmt.Errorf("backend %s is already registered with a non-mergeable capability set", desc.ID)
	}
	r.mu.RUnlock()

	if err := a.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize backend %s: %w", desc.ID, err)
	}
	desc = a.Descriptor()
	desc.RegisteredAt = time.Now().UTC()

	r.mu.Lock()
	r.entries[desc.ID] = &entry{adapter: a, descriptor: desc}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetGauge("registered_backends", nil, float64(count))
	r.logger.Info("backend registered", "backend", desc.ID, "capabilities", len(desc.Capabilities))
	return nil
}

// Unregister is idempotent. A pinned backend is only marked for removal; the
// last Unpin completes it, so in-flight decisions never lose their backend.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if e.pins > 0 {
		e.removing = true
		r.mu.Unlock()
		r.logger.Debug("backend removal deferred", "backend", id, "pins", e.pins)
		return nil
	}
	delete(r.entries, id)
	count := len(r.entries)
	adapter := e.adapter
	r.mu.Unlock()

	r.metrics.SetGauge("registered_backends", nil, float64(count))
	if adapter != nil {
		if err := adapter.Shutdown(ctx); err != nil {
			r.logger.Warn("backend shutdown failed", "backend", id, "error", err)
		}
	}
	return nil
}

func (r *Registry) Get(id string) (backend.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.removing {
		return nil, false
	}
	return e.adapter, true
}

func (r *Registry) Descriptor(id string) (decisionapi.BackendDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.removing {
		return decisionapi.BackendDescriptor{}, false
	}
	return cloneDescriptor(e.descriptor), true
}

func (r *Registry) List() []decisionapi.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]decisionapi.BackendDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.removing {
			continue
		}
		out = append(out, cloneDescriptor(e.descriptor))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CapableOf answers which registered backends can serve taskType for
// modelID. An empty capability model list means any model of that task type.
func (r *Registry) CapableOf(taskType, modelID string) []decisionapi.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]decisionapi.BackendDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.removing {
			continue
		}
		if capabilityFor(e.descriptor, taskType, modelID) != nil {
			out = append(out, cloneDescriptor(e.descriptor))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthMap reads adapter-cached health for every registered backend. No
// call here performs I/O.
func (r *Registry) HealthMap() map[string]decisionapi.BackendHealth {
	r.mu.RLock()
	adapters := make(map[string]backend.Adapter, len(r.entries))
	stored := make(map[string]decisionapi.BackendHealth, len(r.entries))
	for id, e := range r.entries {
		if e.removing {
			continue
		}
		adapters[id] = e.adapter
		stored[id] = e.descriptor.Health
	}
	r.mu.RUnlock()

	out := make(map[string]decisionapi.BackendHealth, len(adapters))
	for id, a := range adapters {
		if a != nil {
			out[id] = a.Health()
		} else {
			out[id] = stored[id]
		}
	}
	return out
}

func (r *Registry) UpdateHealth(id string, h decisionapi.BackendHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("backend %s is not registered", id)
	}
	e.descriptor.Health = h
	return nil
}

// UpdateModels replaces the model list of the capability serving taskType.
func (r *Registry) UpdateModels(id, taskType string, models []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("backend %s is not registered", id)
	}
	for i := range e.descriptor.Capabilities {
		if e.descriptor.Capabilities[i].TaskType == taskType {
			e.descriptor.Capabilities[i].Models = append([]string(nil), models...)
			return nil
		}
	}
	return fmt.Errorf("backend %s has no %s capability", id, taskType)
}

// Pin marks id as referenced by an in-flight decision.
func (r *Registry) Pin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.removing {
		return false
	}
	e.pins++
	return true
}

func (r *Registry) Unpin(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if e.pins > 0 {
		e.pins--
	}
	if e.pins == 0 && e.removing {
		delete(r.entries, id)
		adapter := e.adapter
		count := len(r.entries)
		r.mu.Unlock()
		r.metrics.SetGauge("registered_backends", nil, float64(count))
		if adapter != nil {
			_ = adapter.Shutdown(context.Background())
		}
		return
	}
	r.mu.Unlock()
}

func capabilityFor(d decisionapi.BackendDescriptor, taskType, modelID string) *decisionapi.Capability {
	for i := range d.Capabilities {
		c := &d.Capabilities[i]
		if c.TaskType != taskType {
			continue
		}
		if modelID == "" || len(c.Models) == 0 || containsFold(c.Models, modelID) {
			return c
		}
	}
	return nil
}

// CapabilityFor exposes the matched capability for scoring callers.
func (r *Registry) CapabilityFor(id, taskType, modelID string) (decisionapi.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.removing {
		return decisionapi.Capability{}, false
	}
	c := capabilityFor(e.descriptor, taskType, modelID)
	if c == nil {
		return decisionapi.Capability{}, false
	}
	return *c, true
}

func sameCapabilitySet(a, b []decisionapi.Capability) bool {
	if len(a) != len(b) {
		return false
	}
	sig := func(caps []decisionapi.Capability) []string {
		out := make([]string, 0, len(caps))
		for _, c := range caps {
			models := append([]string(nil), c.Models...)
			sort.Strings(models)
			out = append(out, c.TaskType+"/"+strings.Join(models, ","))
		}
		sort.Strings(out)
		return out
	}
	sa, sb := sig(a), sig(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func cloneDescriptor(d decisionapi.BackendDescriptor) decisionapi.BackendDescriptor {
	out := d
	out.Capabilities = make([]decisionapi.Capability, len(d.Capabilities))
	copy(out.Capabilities, d.Capabilities)
	for i := range out.Capabilities {
		out.Capabilities[i].Models = append([]string(nil), d.Capabilities[i].Models...)
		out.Capabilities[i].InputFormats = append([]string(nil), d.Capabilities[i].InputFormats...)
		out.Capabilities[i].OutputFormats = append([]string(nil), d.Capabilities[i].OutputFormats...)
	}
	return out
}
