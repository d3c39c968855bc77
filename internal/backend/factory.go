package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

const (
	TypeSim    = "sim"
	TypeRemote = "remote"
)

// Config describes one backend to construct. Type selects the adapter
// implementation; the remaining fields populate its descriptor.
type Config struct {
	ID           string                           `yaml:"id"`
	Name         string                           `yaml:"name"`
	Version      string                           `yaml:"version"`
	Type         string                           `yaml:"type"`
	Endpoint     string                           `yaml:"endpoint,omitempty"`
	Capabilities []decisionapi.Capability         `yaml:"capabilities"`
	Requirements decisionapi.ResourceRequirements `yaml:"requirements"`
	NonMergeable bool                             `yaml:"non_mergeable,omitempty"`
	Sim          SimOptions                       `yaml:"sim,omitempty"`
	Timeout      time.Duration                    `yaml:"timeout,omitempty"`
}

// New maps a type tag to a constructor. Unknown tags are a configuration
// error surfaced immediately, never retried.
func New(cfg Config) (Adapter, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("backend config: id is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeSim, "":
		return NewSim(cfg), nil
	case TypeRemote:
		return NewRemote(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type %q for backend %s", cfg.Type, cfg.ID)
	}
}
