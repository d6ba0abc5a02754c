package collector

import (
	"testing"

	"github.com/brennhill/tracebackbone/internal/types"
)

func sevEvent(id string, sev types.Severity) types.Event {
	return types.Event{ID: id, Metadata: types.Metadata{Severity: sev}}
}

func TestScenarioDBackpressureDropsLowestSeverity(t *testing.T) {
	b := newBatchBuffer(10)

	for i := 0; i < 9; i++ {
		admitted, _ := b.Append(sevEvent(idFor(i), types.SeverityLow))
		if !admitted {
			t.Fatalf("expected event %d to be admitted while under capacity", i)
		}
	}
	admitted, dropped := b.Append(sevEvent("critical", types.SeverityCritical))
	if !admitted {
		t.Fatal("critical event must be admitted")
	}
	if dropped != "" {
		t.Fatalf("10th event (buffer not yet over 0.9 threshold at 10 items) unexpectedly dropped %q", dropped)
	}

	admitted, dropped = b.Append(sevEvent("medium", types.SeverityMedium))
	if !admitted {
		t.Fatal("medium event must be admitted by evicting a low-severity event")
	}
	if dropped != idFor(0) {
		t.Fatalf("expected oldest low-severity event %q evicted, got %q", idFor(0), dropped)
	}

	events := b.Drain()
	if len(events) != 10 {
		t.Fatalf("expected 10 persisted events, got %d", len(events))
	}
	foundCritical := false
	for _, e := range events {
		if e.ID == "critical" {
			foundCritical = true
		}
	}
	if !foundCritical {
		t.Fatal("critical event must survive backpressure")
	}
}

func idFor(i int) string {
	return "low-" + string(rune('a'+i))
}
