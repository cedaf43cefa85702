package flow

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.IncrementRuns("completed")
	pm.IncrementRuns("completed")
	pm.IncrementRuns("failed")
	pm.UpdateInflightNodes(4)
	pm.UpdateFrontierDepth(7)
	pm.IncrementMergeFailures("run-1", "validation")
	pm.IncrementSuspensions("run-1", "review_gate")
	pm.IncrementResumes("run-1")
	pm.IncrementGuardRetries("run-1", "check_image")
	pm.IncrementViolations("run-1", "hard")
	pm.RecordNodeLatency("run-1", "write_story", 42*time.Millisecond, "success")

	if got := testutil.ToFloat64(pm.runs.WithLabelValues("completed")); got != 2 {
		t.Errorf("runs{completed} = %v", got)
	}
	if got := testutil.ToFloat64(pm.runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("runs{failed} = %v", got)
	}
	if got := testutil.ToFloat64(pm.inflightNodes); got != 4 {
		t.Errorf("inflight_nodes = %v", got)
	}
	if got := testutil.ToFloat64(pm.frontierDepth); got != 7 {
		t.Errorf("frontier_depth = %v", got)
	}
	if got := testutil.ToFloat64(pm.mergeFailures.WithLabelValues("run-1", "validation")); got != 1 {
		t.Errorf("merge_failures = %v", got)
	}
	if got := testutil.ToFloat64(pm.suspensions.WithLabelValues("run-1", "review_gate")); got != 1 {
		t.Errorf("suspensions = %v", got)
	}
	if got := testutil.ToFloat64(pm.resumes.WithLabelValues("run-1")); got != 1 {
		t.Errorf("resumes = %v", got)
	}
	if got := testutil.ToFloat64(pm.guardRetries.WithLabelValues("run-1", "check_image")); got != 1 {
		t.Errorf("guard_retries = %v", got)
	}
	if got := testutil.ToFloat64(pm.violations.WithLabelValues("run-1", "hard")); got != 1 {
		t.Errorf("violations = %v", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var pm *PrometheusMetrics

	// Every method must be callable without a collector configured.
	pm.IncrementRuns("completed")
	pm.UpdateInflightNodes(1)
	pm.UpdateFrontierDepth(1)
	pm.IncrementMergeFailures("r", "validation")
	pm.IncrementSuspensions("r", "n")
	pm.IncrementResumes("r")
	pm.IncrementGuardRetries("r", "n")
	pm.IncrementViolations("r", "hard")
	pm.RecordNodeLatency("r", "n", time.Millisecond, "success")
}

func TestMetricsDisableEnable(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.Disable()
	pm.IncrementRuns("completed")
	if got := testutil.ToFloat64(pm.runs.WithLabelValues("completed")); got != 0 {
		t.Errorf("disabled collector recorded: %v", got)
	}

	pm.Enable()
	pm.IncrementRuns("completed")
	if got := testutil.ToFloat64(pm.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("re-enabled collector did not record: %v", got)
	}
}

func TestMetricsReset(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.UpdateInflightNodes(3)
	pm.UpdateFrontierDepth(5)
	pm.IncrementRuns("failed")
	pm.Reset()

	if got := testutil.ToFloat64(pm.inflightNodes); got != 0 {
		t.Errorf("inflight_nodes after reset = %v", got)
	}
	if got := testutil.ToFloat64(pm.frontierDepth); got != 0 {
		t.Errorf("frontier_depth after reset = %v", got)
	}
	// Counters survive a reset.
	if got := testutil.ToFloat64(pm.runs.WithLabelValues("failed")); got != 1 {
		t.Errorf("runs{failed} after reset = %v", got)
	}
}

func TestMetricsEngineIntegration(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	g := NewGraph()
	_ = g.Add("a", setNode("note", "x"))
	_ = g.StartAt("a")

	eng, err := New(g, testSchema(), WithMetrics(pm))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if out := eng.Run(context.Background(), "metered", State{}); out.Status != StatusCompleted {
		t.Fatalf("run failed: %v", out.Err)
	}

	if got := testutil.ToFloat64(pm.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("runs{completed} = %v", got)
	}
}
