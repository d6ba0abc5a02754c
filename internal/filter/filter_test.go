package filter

import (
	"testing"
	"time"

	"github.com/brennhill/tracebackbone/internal/types"
)

func TestFilterChainIncludeExclude(t *testing.T) {
	f := Filter{
		IncludeTypes: map[types.EventType]bool{types.TaskStart: true},
	}
	ok := f.ShouldAccept(types.Event{Type: types.TaskStart})
	if !ok {
		t.Fatal("expected included type to pass")
	}
	if f.ShouldAccept(types.Event{Type: types.TaskComplete}) {
		t.Fatal("expected non-included type to fail")
	}
}

func TestFilterSeverityFloor(t *testing.T) {
	f := Filter{SeverityFloor: types.SeverityHigh}
	low := types.Event{Metadata: types.Metadata{Severity: types.SeverityLow}}
	high := types.Event{Metadata: types.Metadata{Severity: types.SeverityCritical}}
	if f.ShouldAccept(low) {
		t.Fatal("expected low severity to fail floor")
	}
	if !f.ShouldAccept(high) {
		t.Fatal("expected critical severity to pass floor")
	}
}

func TestFilterDenyAgent(t *testing.T) {
	f := Filter{DenyAgents: map[string]bool{"bad": true}}
	if f.ShouldAccept(types.Event{AgentID: "bad"}) {
		t.Fatal("expected denied agent to fail")
	}
	if !f.ShouldAccept(types.Event{AgentID: "ok"}) {
		t.Fatal("expected non-denied agent to pass")
	}
}

func TestChainGlobalThenUser(t *testing.T) {
	c := Chain{
		Global: []Filter{{SeverityFloor: types.SeverityMedium}},
		User:   []Filter{{AllowAgents: map[string]bool{"a1": true}}},
	}
	ok := types.Event{AgentID: "a1", Metadata: types.Metadata{Severity: types.SeverityHigh}}
	if !c.ShouldAccept(ok) {
		t.Fatal("expected event passing both filters to be accepted")
	}
	failsGlobal := types.Event{AgentID: "a1", Metadata: types.Metadata{Severity: types.SeverityLow}}
	if c.ShouldAccept(failsGlobal) {
		t.Fatal("expected low severity to fail the global filter")
	}
}

func TestSamplerCriticalBypass(t *testing.T) {
	s := NewSampler(0.1) // threshold 10
	critical := types.Event{Metadata: types.Metadata{Severity: types.SeverityCritical}}
	for i := 0; i < 20; i++ {
		if !s.Admit(critical) {
			t.Fatal("critical events must never be rejected by the sampler")
		}
	}
}

func TestSamplerDeterministicCounter(t *testing.T) {
	s := NewSampler(0.25) // threshold = ceil(1/0.25) = 4
	e := types.Event{Metadata: types.Metadata{Severity: types.SeverityLow}}
	var admitted []bool
	for i := 0; i < 8; i++ {
		admitted = append(admitted, s.Admit(e))
	}
	want := []bool{false, false, false, true, false, false, false, true}
	for i := range want {
		if admitted[i] != want[i] {
			t.Fatalf("admit sequence mismatch at %d: got %v want %v", i, admitted, want)
		}
	}
}

func TestSamplerAdaptiveDecaysUnderHighOverhead(t *testing.T) {
	s := NewSampler(1.0)
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	// Simulate heavy per-event cost and high throughput so overhead exceeds
	// the 0.05 threshold, then cross the window boundary.
	for i := 0; i < 1000; i++ {
		s.Observe(1 * time.Millisecond)
	}
	fakeNow = fakeNow.Add(adaptiveWindow + time.Millisecond)
	s.Observe(1 * time.Millisecond)

	if s.Rate() >= 1.0 {
		t.Fatalf("expected rate to decay under high overhead, got %f", s.Rate())
	}
}
