package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("decisions_total", map[string]string{"backend": "onnx-local", "task_type": "embedding"}, 3)
	r.SetGauge("resource_available_memory_mb", nil, 2048)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `decisions_total{backend="onnx-local",task_type="embedding"} 3`) {
		t.Fatalf("missing decision counter in output: %s", out)
	}
	if !strings.Contains(out, `resource_available_memory_mb 2048`) {
		t.Fatalf("missing memory gauge in output: %s", out)
	}
}

func TestObserveDurationRendersSumAndCount(t *testing.T) {
	r := NewRegistry()
	r.ObserveDuration("decision_latency_ms", map[string]string{"task_type": "face_detection"}, 1.5)
	r.ObserveDuration("decision_latency_ms", map[string]string{"task_type": "face_detection"}, 2.5)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `decision_latency_ms_sum{task_type="face_detection"} 4`) {
		t.Fatalf("missing summary sum in output: %s", out)
	}
	if !strings.Contains(out, `decision_latency_ms_count{task_type="face_detection"} 2`) {
		t.Fatalf("missing summary count in output: %s", out)
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("imports_total", map[string]string{"result": "ok"}, 1)
	snap := r.Snapshot()
	if len(snap.Counters) != 1 {
		t.Fatalf("expected one counter, got %d", len(snap.Counters))
	}
	snap.Counters[0].Labels["result"] = "mutated"
	snap2 := r.Snapshot()
	if snap2.Counters[0].Labels["result"] != "ok" {
		t.Fatalf("snapshot mutation leaked into registry: %+v", snap2.Counters)
	}
}
