package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fastygo/planner/domain"
)

func TestMutationLifecycle(t *testing.T) {
	m := New()

	m.MutationStarted("event.move")
	m.MutationStarted("event.move")
	if got := testutil.ToFloat64(m.inflight.WithLabelValues("event.move")); got != 2 {
		t.Fatalf("inflight = %v, want 2", got)
	}

	m.MutationSettled("event.move", "confirmed", 40*time.Millisecond)
	m.MutationSettled("event.move", "rolled_back", 90*time.Millisecond)

	if got := testutil.ToFloat64(m.inflight.WithLabelValues("event.move")); got != 0 {
		t.Fatalf("inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.mutations.WithLabelValues("event.move", "rolled_back")); got != 1 {
		t.Fatalf("rolled_back = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Fatalf("latency series = %d, want 1", got)
	}
}

func TestJobTransition(t *testing.T) {
	m := New()

	m.JobTransition("", domain.JobRequested)
	m.JobTransition(domain.JobRequested, domain.JobReady)
	m.JobTransition(domain.JobReady, domain.JobReady)

	if got := testutil.ToFloat64(m.jobState.WithLabelValues(string(domain.JobRequested))); got != 0 {
		t.Fatalf("requested = %v", got)
	}
	if got := testutil.ToFloat64(m.jobState.WithLabelValues(string(domain.JobReady))); got != 1 {
		t.Fatalf("ready = %v", got)
	}
}

func TestBreakerStateIsExclusive(t *testing.T) {
	m := New()
	m.BreakerState("open")

	tests := map[string]float64{"closed": 0, "half-open": 0, "open": 1}
	for state, want := range tests {
		if got := testutil.ToFloat64(m.breakerState.WithLabelValues(state)); got != want {
			t.Errorf("%s = %v, want %v", state, got, want)
		}
	}
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.RollbackFailed("event")
	m.ChangeDropped()
	m.MirrorBacklog(3)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"planner_rollback_failures_total",
		"planner_change_signals_dropped_total",
		"planner_mirror_backlog",
		"planner_backend_breaker_state",
	} {
		if !names[want] {
			t.Errorf("missing metric family %s", want)
		}
	}
}
