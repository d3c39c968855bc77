package pipeline

import (
	"testing"

	"github.com/pranaysuyash/photo-search-sub010/pkg/decisionapi"
)

func TestCompileOrderedTasks(t *testing.T) {
	c := NewCompiler()
	tasks, err := c.Compile(IngestRequest{PhotoID: "p1", SizeBytes: 2048, Priority: decisionapi.PriorityHigh})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	wantTypes := []string{
		decisionapi.TaskFaceDetection,
		decisionapi.TaskEmbedding,
		decisionapi.TaskClassification,
	}
	if len(tasks) != len(wantTypes) {
		t.Fatalf("expected %d tasks, got %d", len(wantTypes), len(tasks))
	}
	for i, w := range wantTypes {
		if tasks[i].Type != w {
			t.Fatalf("task %d: expected %s, got %s", i, w, tasks[i].Type)
		}
		if tasks[i].Priority != decisionapi.PriorityHigh {
			t.Fatalf("priority not propagated on task %d", i)
		}
	}
	if tasks[0].ID != "p1-face" {
		t.Fatalf("task ids should derive from photo id, got %s", tasks[0].ID)
	}
}

func TestCompileWithOCR(t *testing.T) {
	c := NewCompiler()
	tasks, err := c.Compile(IngestRequest{PhotoID: "p2", WantOCR: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks with OCR, got %d", len(tasks))
	}
	if tasks[3].Type != decisionapi.TaskOCR {
		t.Fatalf("OCR must come last, got %s", tasks[3].Type)
	}
}

func TestCompileRequiresPhotoID(t *testing.T) {
	if _, err := NewCompiler().Compile(IngestRequest{}); err == nil {
		t.Fatalf("expected error for missing photo id")
	}
}
