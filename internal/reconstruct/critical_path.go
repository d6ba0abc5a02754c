package reconstruct

import (
	"context"

	"github.com/brennhill/tracebackbone/internal/types"
)

const (
	bottleneckThresholdMs     = 1000 // §4.6 "bottleneck = event with duration > 1s"
	bottleneckHighThresholdMs = 5000 // "(severity high if > 5s)"
	parallelWindowMs          = 1000 // "same ~1s window ... no mutual ancestry"
)

// Bottleneck flags one event on the critical path whose duration exceeds
// the bottleneck threshold.
type Bottleneck struct {
	EventID    string
	DurationMs int64
	Severity   types.Severity
}

// ParallelizationOpportunity names two critical-path events that fall in
// the same time window with no ancestor/descendant relationship, meaning
// they could plausibly have run concurrently.
type ParallelizationOpportunity struct {
	EventIDs []string
}

// CriticalPathResult is the return shape of CriticalPath (§4.6).
type CriticalPathResult struct {
	Events                      []types.Event
	TotalDurationMs             int64
	Bottlenecks                 []Bottleneck
	ParallelizationOpportunities []ParallelizationOpportunity
}

// CriticalPath builds the event DAG for a session (via parent_event_id) up
// to t_end and computes the longest path by summed duration, using
// memoized DFS with a cycle guard (§4.6 "critical_path").
func (r *Reconstructor) CriticalPath(ctx context.Context, sessionID string, tEnd int64) (CriticalPathResult, error) {
	events, err := r.store.GetTracesBySession(ctx, sessionID, SessionQuery{
		Range: &TimeRange{Start: 0, End: tEnd},
	})
	if err != nil {
		return CriticalPathResult{}, err
	}
	sortEvents(events)

	byID := make(map[string]types.Event, len(events))
	children := make(map[string][]string)
	for _, e := range events {
		byID[e.ID] = e
		if e.ParentEventID != "" {
			children[e.ParentEventID] = append(children[e.ParentEventID], e.ID)
		}
	}

	memo := make(map[string]int64)     // id -> longest duration-sum of the path ending at id
	inProgress := make(map[string]bool) // cycle guard
	best := longestPath(events, byID, children, memo, inProgress)

	var result []types.Event
	var total int64
	for _, id := range best {
		e := byID[id]
		result = append(result, e)
		if e.Performance != nil {
			total += e.Performance.DurationMs
		}
	}

	var bottlenecks []Bottleneck
	for _, e := range result {
		if e.Performance == nil {
			continue
		}
		d := e.Performance.DurationMs
		if d <= bottleneckThresholdMs {
			continue
		}
		sev := types.SeverityMedium
		if d > bottleneckHighThresholdMs {
			sev = types.SeverityHigh
		}
		bottlenecks = append(bottlenecks, Bottleneck{EventID: e.ID, DurationMs: d, Severity: sev})
	}

	opportunities := findParallelizationOpportunities(result, ancestry(byID))

	return CriticalPathResult{
		Events:                       result,
		TotalDurationMs:              total,
		Bottlenecks:                  bottlenecks,
		ParallelizationOpportunities: opportunities,
	}, nil
}

// longestPath runs a memoized DFS over the forest rooted at events with no
// parent, returning the sequence of event ids on the longest (by summed
// duration) root-to-leaf path found.
func longestPath(events []types.Event, byID map[string]types.Event, children map[string][]string, memo map[string]int64, inProgress map[string]bool) []string {
	var bestPath []string
	var bestDur int64 = -1

	var dfs func(id string) int64
	dfs = func(id string) int64 {
		if inProgress[id] {
			return 0 // cycle guard: treat as a dead end rather than recurse forever
		}
		if d, ok := memo[id]; ok {
			return d
		}
		inProgress[id] = true
		defer delete(inProgress, id)

		e := byID[id]
		var own int64
		if e.Performance != nil {
			own = e.Performance.DurationMs
		}

		var maxChild int64
		for _, childID := range children[id] {
			if d := dfs(childID); d > maxChild {
				maxChild = d
			}
		}

		total := own + maxChild
		memo[id] = total
		return total
	}

	for _, e := range events {
		if e.ParentEventID != "" {
			continue
		}
		if d := dfs(e.ID); d > bestDur {
			bestDur = d
			bestPath = longestPathFrom(e.ID, children, memo)
		}
	}
	return bestPath
}

// longestPathFrom reconstructs the actual id sequence of the best path
// rooted at id using the memoized totals (greedy: always step to the
// child with the largest memoized total, which by construction of dfs is
// the one contributing to id's own total).
func longestPathFrom(id string, children map[string][]string, memo map[string]int64) []string {
	path := []string{id}
	cur := id
	for {
		kids := children[cur]
		if len(kids) == 0 {
			break
		}
		var next string
		var best int64 = -1
		for _, k := range kids {
			if d := memo[k]; d > best {
				best = d
				next = k
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		cur = next
	}
	return path
}

// ancestry returns, for every event id, the set of its own ancestor ids
// (walking parent_event_id), used to detect "no mutual ancestry" between
// two candidate events for parallelization.
func ancestry(byID map[string]types.Event) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(byID))
	var resolve func(id string) map[string]bool
	resolve = func(id string) map[string]bool {
		if a, ok := out[id]; ok {
			return a
		}
		set := map[string]bool{}
		out[id] = set // break cycles: seed before recursing
		e, ok := byID[id]
		if ok && e.ParentEventID != "" {
			set[e.ParentEventID] = true
			for a := range resolve(e.ParentEventID) {
				set[a] = true
			}
		}
		return set
	}
	for id := range byID {
		resolve(id)
	}
	return out
}

func findParallelizationOpportunities(path []types.Event, ancestors map[string]map[string]bool) []ParallelizationOpportunity {
	var out []ParallelizationOpportunity
	for i := 0; i < len(path); i++ {
		for j := i + 1; j < len(path); j++ {
			a, b := path[i], path[j]
			if abs64(a.Timestamp-b.Timestamp) > parallelWindowMs {
				continue
			}
			if ancestors[a.ID][b.ID] || ancestors[b.ID][a.ID] {
				continue
			}
			out = append(out, ParallelizationOpportunity{EventIDs: []string{a.ID, b.ID}})
		}
	}
	return out
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
