package selector

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

type cachedDecision struct {
	decision decisionapi.Decision
	expires  time.Time
}

// decisionCache returns previously issued decisions for identical requests
// within the TTL. Expired entries are dropped lazily on access.
type decisionCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[uint64]cachedDecision
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{ttl: ttl, entries: make(map[uint64]cachedDecision)}
}

func (c *decisionCache) get(key uint64) (decisionapi.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return decisionapi.Decision{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return decisionapi.Decision{}, false
	}
	return e.decision, true
}

func (c *decisionCache) put(key uint64, d decisionapi.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedDecision{decision: d, expires: time.Now().Add(c.ttl)}
	if len(c.entries) > 4096 {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
}

func (c *decisionCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]cachedDecision)
}

// cacheKey hashes the task identity plus the criteria fields a caller can
// set. Engine-supplied load and usage shares are deliberately left out so
// repeated identical requests hit the cache while fairness inputs drift.
func cacheKey(task decisionapi.Task, criteria decisionapi.Criteria) uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	write(task.ID)
	write(task.Type)
	write(task.ModelID)
	write(task.InputFormat)
	write(task.Priority)
	write(fmt.Sprint(task.InputSize))

	keys := make([]string, 0, len(criteria.Weights))
	for k := range criteria.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(fmt.Sprintf("%s=%.6f", k, criteria.Weights[k]))
	}

	excludes := append([]string(nil), criteria.ExcludeBackends...)
	sort.Strings(excludes)
	for _, e := range excludes {
		write("x:" + e)
	}
	write(fmt.Sprintf("maxms=%.3f", criteria.MaxInferenceTimeMs))
	write(fmt.Sprintf("maxmb=%d", criteria.MaxMemoryMB))
	write(fmt.Sprintf("ignore=%v", criteria.IgnoreResources))
	return h.Sum64()
}

// InvalidateCache clears every cached decision. Called when weights change
// or backends come and go.
func (s *Selector) InvalidateCache() {
	s.cache.purge()
}
