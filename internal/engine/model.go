package engine

import (
	"encoding/json"
	"fmt"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

const modelSchemaVersion = 1

type modelDocument struct {
	SchemaVersion int                `json:"schema_version"`
	Weights       map[string]float64 `json:"weights,omitempty"`
	Iterations    int                `json:"iterations,omitempty"`
	ErrWindow     []float64          `json:"error_window,omitempty"`
}

// ExportModel serializes the weights and learning state into a versioned
// JSON document.
func (e *Engine) ExportModel() ([]byte, error) {
	e.mu.Lock()
	doc := modelDocument{
		SchemaVersion: modelSchemaVersion,
		Weights:       make(map[string]float64, len(e.weights)),
		Iterations:    e.iterations,
		ErrWindow:     append([]float64(nil), e.errWindow...),
	}
	for k, v := range e.weights {
		doc.Weights[k] = v
	}
	e.mu.Unlock()
	return json.MarshalIndent(doc, "", "  ")
}

// ImportModel restores weights and learning state from an exported
// document. Invalid data fails without touching current state; a valid but
// semantically empty document is a successful no-op.
func (e *Engine) ImportModel(data []byte) error {
	var doc modelDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse model document: %w", err)
	}
	if doc.SchemaVersion != modelSchemaVersion {
		return fmt.Errorf("unsupported model schema %d", doc.SchemaVersion)
	}
	if len(doc.Weights) == 0 && doc.Iterations == 0 && len(doc.ErrWindow) == 0 {
		return nil
	}

	// Validate fully before mutating anything.
	canonical := decisionapi.DefaultWeights()
	imported := make(map[string]float64, len(canonical))
	if len(doc.Weights) > 0 {
		for k, v := range doc.Weights {
			if _, ok := canonical[k]; !ok {
				return fmt.Errorf("model document has unknown weight key %q", k)
			}
			if v < 0 || v > 1 {
				return fmt.Errorf("model document weight %s=%v out of [0,1]", k, v)
			}
		}
		for k, def := range canonical {
			imported[k] = def
		}
		for k, v := range doc.Weights {
			imported[k] = v
		}
		clampAndRenormalize(imported)
	}
	if doc.Iterations < 0 {
		return fmt.Errorf("model document has negative iteration count")
	}

	e.mu.Lock()
	if len(imported) > 0 {
		e.weights = imported
	}
	if doc.Iterations > 0 {
		e.iterations = doc.Iterations
	}
	if len(doc.ErrWindow) > 0 {
		e.errWindow = append([]float64(nil), doc.ErrWindow...)
		if len(e.errWindow) > errWindowSize {
			e.errWindow = e.errWindow[len(e.errWindow)-errWindowSize:]
		}
	}
	e.mu.Unlock()

	e.selector.InvalidateCache()
	e.logger.Info("model imported", "iterations", doc.Iterations)
	return nil
}
