package pipeline

import (
	"fmt"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

// IngestRequest describes one photo entering the library. The compiler
// turns it into the ordered task list the decision engine batches over.
type IngestRequest struct {
	PhotoID    string
	Format     string
	SizeBytes  int64
	WantOCR    bool
	Priority   string
	FaceModel  string
	EmbedModel string
	ClassModel string
	OCRModel   string
}

type Compiler struct{}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile produces the ingest task sequence: face detection, then embedding,
// then classification, with OCR appended when requested. Task IDs are
// derived from the photo ID so re-ingesting the same photo hits the
// decision cache.
func (c *Compiler) Compile(req IngestRequest) ([]decisionapi.Task, error) {
	if req.PhotoID == "" {
		return nil, fmt.Errorf("compile ingest: photo id is required")
	}
	format := req.Format
	if format == "" {
		format = "jpeg"
	}

	model := func(m, fallback string) string {
		if m != "" {
			return m
		}
		return fallback
	}

	tasks := []decisionapi.Task{
		{
			ID:          req.PhotoID + "-face",
			Type:        decisionapi.TaskFaceDetection,
			ModelID:     model(req.FaceModel, "retinaface"),
			InputFormat: format,
			InputSize:   req.SizeBytes,
			Priority:    req.Priority,
		},
		{
			ID:          req.PhotoID + "-embed",
			Type:        decisionapi.TaskEmbedding,
			ModelID:     model(req.EmbedModel, "clip-vit-b32"),
			InputFormat: format,
			InputSize:   req.SizeBytes,
			Priority:    req.Priority,
		},
		{
			ID:          req.PhotoID + "-classify",
			Type:        decisionapi.TaskClassification,
			ModelID:     model(req.ClassModel, "efficientnet-b0"),
			InputFormat: format,
			InputSize:   req.SizeBytes,
			Priority:    req.Priority,
		},
	}
	if req.WantOCR {
		tasks = append(tasks, decisionapi.Task{
			ID:          req.PhotoID + "-ocr",
			Type:        decisionapi.TaskOCR,
			ModelID:     model(req.OCRModel, "trocr"),
			InputFormat: format,
			InputSize:   req.SizeBytes,
			Priority:    req.Priority,
		})
	}
	return tasks, nil
}
