package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func gatherCounter(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !matchLabels(metric, labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	seen := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		seen[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if seen[name] != value {
			return false
		}
	}
	return true
}

func TestCollectorRecordsExecutions(t *testing.T) {
	c := NewCollector("testns")

	c.RecordExecution("reservation", "success", 5*time.Millisecond)
	c.RecordExecution("reservation", "success", 7*time.Millisecond)
	c.RecordExecution("reservation", "conflict", 2*time.Millisecond)

	got := gatherCounter(t, c, "testns_engine_executions_total", map[string]string{
		"scope_type": "reservation",
		"outcome":    "success",
	})
	if got != 2 {
		t.Fatalf("expected 2 successful executions, got %v", got)
	}
	got = gatherCounter(t, c, "testns_engine_executions_total", map[string]string{
		"scope_type": "reservation",
		"outcome":    "conflict",
	})
	if got != 1 {
		t.Fatalf("expected 1 conflict execution, got %v", got)
	}
}

func TestCollectorRecordsConflictStages(t *testing.T) {
	c := NewCollector("")

	c.RecordConflict("order", ConflictStagePreCheck)
	c.RecordConflict("order", ConflictStageCommit)
	c.RecordConflict("order", ConflictStageCommit)

	got := gatherCounter(t, c, "ambit_engine_occ_conflicts_total", map[string]string{
		"scope_type": "order",
		"stage":      ConflictStageCommit,
	})
	if got != 2 {
		t.Fatalf("expected 2 commit conflicts, got %v", got)
	}
}

func TestCollectorRecordsEntityLoads(t *testing.T) {
	c := NewCollector("testns")

	c.RecordEntityLoads("reservation", 2, 1)
	c.RecordEntityLoads("reservation", 0, 0)

	found := gatherCounter(t, c, "testns_engine_entity_loads_total", map[string]string{
		"scope_type": "reservation",
		"result":     "found",
	})
	missing := gatherCounter(t, c, "testns_engine_entity_loads_total", map[string]string{
		"scope_type": "reservation",
		"result":     "missing",
	})
	if found != 2 || missing != 1 {
		t.Fatalf("expected found=2 missing=1, got found=%v missing=%v", found, missing)
	}
}

func TestCollectorRecordsUpdatesApplied(t *testing.T) {
	c := NewCollector("testns")

	c.RecordUpdatesApplied("reservation", 2)
	c.RecordUpdatesApplied("reservation", 0)

	got := gatherCounter(t, c, "testns_engine_updates_applied_total", map[string]string{
		"scope_type": "reservation",
	})
	if got != 2 {
		t.Fatalf("expected 2 applied updates, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("testns")
	if c.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestNoOpRecorderDiscards(t *testing.T) {
	var r Recorder = NewNoOpRecorder()

	r.RecordExecution("reservation", "success", time.Millisecond)
	r.RecordConflict("reservation", ConflictStagePreCheck)
	r.RecordRejection("reservation", "INSUFFICIENT_STOCK")
	r.RecordEntityLoads("reservation", 1, 1)
	r.RecordUpdatesApplied("reservation", 3)
}
