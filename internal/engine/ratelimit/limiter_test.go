package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireEnforcesMinimumInterval(t *testing.T) {
	l := New(Config{DefaultDelaySeconds: 0.05})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "a.test"))
	require.NoError(t, l.Acquire(ctx, "a.test"))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestReportStatusDoublesDelayUpToMax(t *testing.T) {
	l := New(Config{DefaultDelaySeconds: 1, MaxDelaySeconds: 3})
	l.ReportStatus("a.test", 429)
	hs := l.stateFor("a.test")
	require.InDelta(t, 2, hs.currentDelay, 0.001)

	l.ReportStatus("a.test", 503)
	hs = l.stateFor("a.test")
	require.InDelta(t, 3, hs.currentDelay, 0.001) // capped
}

func TestReportSuccessDecaysTowardDefault(t *testing.T) {
	l := New(Config{DefaultDelaySeconds: 1, DecayFactor: 0.5})
	l.ReportStatus("a.test", 429) // delay -> 2
	l.ReportSuccess("a.test")     // 2*0.5 = 1, floored at default 1
	hs := l.stateFor("a.test")
	require.InDelta(t, 1, hs.currentDelay, 0.001)
}

func TestSetMinDelayRaisesFloor(t *testing.T) {
	l := New(Config{DefaultDelaySeconds: 0.25})
	l.SetMinDelay("a.test", 2)
	hs := l.stateFor("a.test")
	require.InDelta(t, 2, hs.currentDelay, 0.001)

	l.ReportSuccess("a.test")
	hs = l.stateFor("a.test")
	require.GreaterOrEqual(t, hs.currentDelay, 2.0)
}

func TestNextUserAgentRotates(t *testing.T) {
	l := New(Config{UserAgents: []string{"one", "two"}})
	require.Equal(t, "one", l.NextUserAgent())
	require.Equal(t, "two", l.NextUserAgent())
	require.Equal(t, "one", l.NextUserAgent())
}
