package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tracebackbone/internal/types"
)

func TestOutboundQueueDropsOldestWhenFullAndDropOldestEnabled(t *testing.T) {
	q := newOutboundQueue(2, 1<<20, 0, true)
	require.True(t, q.push([]byte("a"), types.SeverityLow))
	require.True(t, q.push([]byte("b"), types.SeverityLow))
	require.True(t, q.push([]byte("c"), types.SeverityLow))

	first, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "b", string(first))
}

func TestOutboundQueueRejectsWhenFullAndDropOldestDisabled(t *testing.T) {
	q := newOutboundQueue(1, 1<<20, 0, false)
	require.True(t, q.push([]byte("a"), types.SeverityLow))
	require.False(t, q.push([]byte("b"), types.SeverityLow))
	require.Equal(t, int64(1), q.droppedCount())
}

func TestOutboundQueueNeverDropsCriticalEvenWithDropOldestDisabled(t *testing.T) {
	q := newOutboundQueue(1, 1<<20, 0, false)
	require.True(t, q.push([]byte("low"), types.SeverityLow))
	require.True(t, q.push([]byte("critical"), types.SeverityCritical))

	msg, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "critical", string(msg))
}

func TestOutboundQueueBlockedTracksWatermarks(t *testing.T) {
	q := newOutboundQueue(10, 5, 2, true)
	require.False(t, q.isBlocked())
	q.push([]byte("123456"), types.SeverityLow)
	require.True(t, q.isBlocked())
	q.pop()
	require.False(t, q.isBlocked())
}

func TestFixedWindowResetsAfterWindowElapses(t *testing.T) {
	now := time.Now()
	w := newFixedWindow(time.Minute, 2, 0)
	w.now = func() time.Time { return now }

	require.True(t, w.Allow(1))
	require.True(t, w.Allow(1))
	require.False(t, w.Allow(1))

	now = now.Add(time.Minute + time.Second)
	w.now = func() time.Time { return now }
	require.True(t, w.Allow(1))
}

func TestFixedWindowEnforcesByteLimit(t *testing.T) {
	w := newFixedWindow(time.Minute, 0, 10)
	require.True(t, w.Allow(6))
	require.False(t, w.Allow(6))
}

func TestAuthConfigDisabledAllowsAnyToken(t *testing.T) {
	a := AuthConfig{Enabled: false}
	require.True(t, a.checkAPIKey("anything"))
}

func TestAuthConfigChecksAgainstConfiguredKeys(t *testing.T) {
	a := AuthConfig{Enabled: true, APIKeys: []string{"key-a", "key-b"}}
	require.True(t, a.checkAPIKey("key-b"))
	require.False(t, a.checkAPIKey("key-c"))
}

func TestSubscriptionMatchesFiltersBySessionAgentTypeAndSeverity(t *testing.T) {
	sub := types.Subscription{
		SessionIDs:  []string{"s1"},
		AgentIDs:    []string{"agent-1"},
		MinSeverity: types.SeverityMedium,
	}
	match := types.Event{
		SessionID: "s1", AgentID: "agent-1",
		Metadata: types.Metadata{Severity: types.SeverityHigh},
	}
	require.True(t, sub.Matches(match))

	wrongSession := match
	wrongSession.SessionID = "s2"
	require.False(t, sub.Matches(wrongSession))

	tooLow := match
	tooLow.Metadata.Severity = types.SeverityLow
	require.False(t, sub.Matches(tooLow))
}

func TestSubscriptionMatchesRejectsWhenNoSessionSubscribed(t *testing.T) {
	sub := types.Subscription{}
	e := types.Event{SessionID: "s1", AgentID: "agent-1"}
	require.False(t, sub.Matches(e))
}
