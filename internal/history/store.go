package history

import (
	"sync"
	"time"
)

type DecisionRecord struct {
	ID              string
	TaskID          string
	TaskType        string
	ModelID         string
	Backend         string
	Confidence      float64
	FairnessApplied bool
	CreatedAt       time.Time
}

// OutcomeRecord is a write-once log entry linking a completed task back to
// its decision.
type OutcomeRecord struct {
	TaskID           string
	Backend          string
	Success          bool
	ProcessingTimeMs float64
	MemoryUsedMB     int64
	Satisfaction     float64
	HasFeedback      bool
	CreatedAt        time.Time
}

// Store is the decision/outcome history consulted by fairness re-ranking,
// weight learning, and analytics.
type Store interface {
	AppendDecision(rec DecisionRecord)
	AppendOutcome(rec OutcomeRecord)
	DecisionByTask(taskID string) (DecisionRecord, bool)
	UsageCounts() map[string]int
	// UsageShares returns each backend's share of the most recent window
	// decisions; shares sum to 1 when any decision exists.
	UsageShares(window int) map[string]float64
	Decisions() []DecisionRecord
	Outcomes() []OutcomeRecord
	Reset()
}

const maxRetained = 10000

// MemoryStore keeps the full history in process memory. All access funnels
// through the mutex; callers receive copies.
type MemoryStore struct {
	mu        sync.Mutex
	retain    int
	decisions []DecisionRecord
	outcomes  []OutcomeRecord
	byTask    map[string]DecisionRecord
	usage     map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		retain:    maxRetained,
		decisions: make([]DecisionRecord, 0, 128),
		outcomes:  make([]OutcomeRecord, 0, 128),
		byTask:    make(map[string]DecisionRecord),
		usage:     make(map[string]int),
	}
}

func (m *MemoryStore) limit() int {
	if m.retain <= 0 {
		return maxRetained
	}
	return m.retain
}

func (m *MemoryStore) AppendDecision(rec DecisionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.decisions = append(m.decisions, rec)
	if len(m.decisions) > m.limit() {
		dropped := m.decisions[0]
		m.decisions = m.decisions[1:]
		if m.usage[dropped.Backend] > 0 {
			m.usage[dropped.Backend]--
		}
		// Keep the task index from outliving the record it points at.
		if prior, ok := m.byTask[dropped.TaskID]; ok && prior.ID == dropped.ID {
			delete(m.byTask, dropped.TaskID)
		}
	}
	m.byTask[rec.TaskID] = rec
	m.usage[rec.Backend]++
}

func (m *MemoryStore) AppendOutcome(rec OutcomeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.outcomes = append(m.outcomes, rec)
	if len(m.outcomes) > m.limit() {
		m.outcomes = m.outcomes[1:]
	}
}

func (m *MemoryStore) DecisionByTask(taskID string) (DecisionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTask[taskID]
	return rec, ok
}

func (m *MemoryStore) UsageCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.usage))
	for k, v := range m.usage {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func (m *MemoryStore) UsageShares(window int) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if window <= 0 || window > len(m.decisions) {
		window = len(m.decisions)
	}
	out := make(map[string]float64)
	if window == 0 {
		return out
	}
	recent := m.decisions[len(m.decisions)-window:]
	for _, d := range recent {
		out[d.Backend]++
	}
	for k := range out {
		out[k] /= float64(window)
	}
	return out
}

func (m *MemoryStore) Decisions() []DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DecisionRecord, len(m.decisions))
	copy(out, m.decisions)
	return out
}

func (m *MemoryStore) Outcomes() []OutcomeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutcomeRecord, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = m.decisions[:0]
	m.outcomes = m.outcomes[:0]
	m.byTask = make(map[string]DecisionRecord)
	m.usage = make(map[string]int)
}
