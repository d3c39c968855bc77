package profiler

import (
	"encoding/json"
	"fmt"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

const snapshotSchemaVersion = 1

type snapshot struct {
	SchemaVersion int                                    `json:"schema_version"`
	Profiles      []decisionapi.PerformanceProfile       `json:"profiles"`
	Resources     map[string]decisionapi.ResourceProfile `json:"resources,omitempty"`
}

// Export serializes every stored profile into a versioned JSON document.
func (p *Profiler) Export() ([]byte, error) {
	p.mu.RLock()
	snap := snapshot{
		SchemaVersion: snapshotSchemaVersion,
		Profiles:      make([]decisionapi.PerformanceProfile, 0, len(p.profiles)),
		Resources:     make(map[string]decisionapi.ResourceProfile, len(p.resources)),
	}
	for _, prof := range p.profiles {
		snap.Profiles = append(snap.Profiles, prof)
	}
	for id, rp := range p.resources {
		snap.Resources[id] = rp
	}
	p.mu.RUnlock()
	return json.MarshalIndent(snap, "", "  ")
}

// Import replaces stored profiles with the document's contents. An invalid
// document leaves existing profiles untouched; an empty valid document is a
// successful no-op.
func (p *Profiler) Import(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse profile snapshot: %w", err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return fmt.Errorf("unsupported profile snapshot schema %d", snap.SchemaVersion)
	}
	for _, prof := range snap.Profiles {
		if prof.BackendID == "" || prof.TaskType == "" {
			return fmt.Errorf("profile snapshot contains an entry without backend or task type")
		}
	}
	if len(snap.Profiles) == 0 && len(snap.Resources) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prof := range snap.Profiles {
		p.profiles[profileKey(prof.BackendID, prof.TaskType, prof.ModelID)] = prof
	}
	for id, rp := range snap.Resources {
		p.resources[id] = rp
	}
	return nil
}
