package frontier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

func scope() engine.ScopePolicy {
	return engine.ScopePolicy{PrimaryHost: "a.test"}
}

func TestTryAdmitRejectsDuplicates(t *testing.T) {
	f := New(scope(), 5)
	require.Equal(t, engine.AdmitAdmitted, f.TryAdmit("https://a.test/", 0, ""))
	require.Equal(t, engine.AdmitDuplicate, f.TryAdmit("https://a.test/", 0, ""))
}

func TestTryAdmitRejectsOutOfScope(t *testing.T) {
	f := New(scope(), 5)
	require.Equal(t, engine.AdmitOutOfScope, f.TryAdmit("https://other.test/", 0, ""))
}

func TestTryAdmitRejectsTooDeep(t *testing.T) {
	f := New(scope(), 1)
	require.Equal(t, engine.AdmitTooDeep, f.TryAdmit("https://a.test/deep", 2, ""))
}

func TestPopReturnsDrainedWhenEmptyAndNoActiveWorkers(t *testing.T) {
	f := New(scope(), 5)
	_, ok := f.Pop()
	require.False(t, ok)
}

func TestPopThenDoneDrainsCleanly(t *testing.T) {
	f := New(scope(), 5)
	require.Equal(t, engine.AdmitAdmitted, f.TryAdmit("https://a.test/", 0, ""))

	entry, ok := f.Pop()
	require.True(t, ok)
	require.Equal(t, "https://a.test/", entry.URL)

	f.Done()

	_, ok = f.Pop()
	require.False(t, ok)
}

func TestSnapshotCountsDiscoveredAndProcessed(t *testing.T) {
	f := New(scope(), 5)
	f.TryAdmit("https://a.test/", 0, "")
	f.TryAdmit("https://a.test/b", 0, "")
	_, _ = f.Pop()
	f.Done()

	stats := f.Snapshot()
	require.Equal(t, 2, stats.Discovered)
	require.Equal(t, 1, stats.Processed)
}
