// Package filter implements the filter & sampler (C3): composable
// predicate filters, deterministic counter-based sampling, and adaptive
// rate control. Grounded on the teacher's preference for small composable
// predicate functions (seen in its annotation/matching helpers) adapted
// to event filtering.
package filter

import "github.com/brennhill/tracebackbone/internal/types"

// Predicate is a user-supplied filter function (§4.3 "optional user
// predicate").
type Predicate func(types.Event) bool

// Filter is a predicate over (event, config) composed of event-type
// include/exclude sets, agent allow/deny sets, a severity floor, a tag
// include set, and an optional user predicate. should_accept returns true
// iff every configured sub-filter passes (§4.3).
type Filter struct {
	IncludeTypes map[types.EventType]bool
	ExcludeTypes map[types.EventType]bool
	AllowAgents  map[string]bool
	DenyAgents   map[string]bool
	SeverityFloor types.Severity
	IncludeTags  map[string]bool
	User         Predicate
}

// ShouldAccept evaluates every configured sub-filter in order; the first
// failing one rejects the event.
func (f Filter) ShouldAccept(e types.Event) bool {
	if len(f.IncludeTypes) > 0 && !f.IncludeTypes[e.Type] {
		return false
	}
	if len(f.ExcludeTypes) > 0 && f.ExcludeTypes[e.Type] {
		return false
	}
	if len(f.AllowAgents) > 0 && !f.AllowAgents[e.AgentID] {
		return false
	}
	if len(f.DenyAgents) > 0 && f.DenyAgents[e.AgentID] {
		return false
	}
	if f.SeverityFloor != "" && types.RankOf(e.Metadata.Severity) < types.RankOf(f.SeverityFloor) {
		return false
	}
	if len(f.IncludeTags) > 0 && !anyTagMatches(f.IncludeTags, e.Metadata.Tags) {
		return false
	}
	if f.User != nil && !f.User(e) {
		return false
	}
	return true
}

func anyTagMatches(include map[string]bool, tags []string) bool {
	for _, t := range tags {
		if include[t] {
			return true
		}
	}
	return false
}

// Chain is an ordered list of filters evaluated as logical AND; global
// filters run before user filters (§4.3).
type Chain struct {
	Global []Filter
	User   []Filter
}

// ShouldAccept returns true iff every filter in the chain accepts e,
// global filters first.
func (c Chain) ShouldAccept(e types.Event) bool {
	for _, f := range c.Global {
		if !f.ShouldAccept(e) {
			return false
		}
	}
	for _, f := range c.User {
		if !f.ShouldAccept(e) {
			return false
		}
	}
	return true
}
