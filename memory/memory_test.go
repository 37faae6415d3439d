package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/memory"
)

func goodSignals() memory.WriteSignals {
	return memory.WriteSignals{
		ProgressDelta: 0.1, ConflictLevel: memory.ConflictNone,
		SourceQuality: 0.9, AlignmentScore: 0.9, BlastRadius: memory.BlastLocal,
	}
}

func TestWorkingWriteAlwaysAllowedAndTTLIsolatedPerProblem(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	bus.WriteWorking("p1", "k", "v1")
	bus.WriteWorking("p2", "k", "v2")

	v1, ok := bus.ReadWorking("p1", "k")
	require.True(t, ok)
	assert.Equal(t, "v1", v1)

	v2, ok := bus.ReadWorking("p2", "k")
	require.True(t, ok)
	assert.Equal(t, "v2", v2)
}

func TestSharedWriteDeniedBelowQualityOrAlignment(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	_, err := bus.WriteShared("k", "agent", "val", memory.WriteSignals{SourceQuality: 0.1, AlignmentScore: 0.9})
	require.Error(t, err)

	_, err = bus.WriteShared("k", "agent", "val", memory.WriteSignals{SourceQuality: 0.9, AlignmentScore: 0.1})
	require.Error(t, err)
}

func TestSharedWriteGlobalBlastRequiresHigherQuality(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	sig := memory.WriteSignals{SourceQuality: 0.5, AlignmentScore: 0.9, BlastRadius: memory.BlastGlobal}
	_, err := bus.WriteShared("k", "agent", "val", sig)
	require.Error(t, err)

	sig.SourceQuality = 0.9
	version, err := bus.WriteShared("k", "agent", "val", sig)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSharedVersionsIncrementAndHistoryRetained(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	sig := goodSignals()
	v1, err := bus.WriteShared("k", "a", "first", sig)
	require.NoError(t, err)
	v2, err := bus.WriteShared("k", "a", "second", sig)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	latest, latestVersion, ok := bus.ReadShared("k", nil)
	require.True(t, ok)
	assert.Equal(t, "second", latest)
	assert.Equal(t, 2, latestVersion)

	first, _, ok := bus.ReadShared("k", intPtr(1))
	require.True(t, ok)
	assert.Equal(t, "first", first)
}

func TestSemanticDeniesConflictOrLowQuality(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	sig := memory.WriteSignals{ConflictLevel: memory.ConflictHigh, SourceQuality: 0.9, AlignmentScore: 0.9}
	_, err := bus.AddPattern("t", "trigger", "action", sig)
	require.Error(t, err)

	sig.ConflictLevel = memory.ConflictNone
	sig.SourceQuality = 0.1
	_, err = bus.AddPattern("t", "trigger", "action", sig)
	require.Error(t, err)
}

func TestStrengthenAndWeakenPatternClamp(t *testing.T) {
	bus := memory.New(memory.DefaultGateConfig(), nil)
	sig := memory.WriteSignals{ConflictLevel: memory.ConflictNone, SourceQuality: 0.99, AlignmentScore: 0.99}
	id, err := bus.AddPattern("t", "trigger", "action", sig)
	require.NoError(t, err)

	require.NoError(t, bus.StrengthenPattern(id, "ev1"))
	p, ok := bus.GetPattern(id)
	require.True(t, ok)
	assert.InDelta(t, 1.0, p.Confidence, 0.0001)

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.WeakenPattern(id))
	}
	p, _ = bus.GetPattern(id)
	assert.Equal(t, 0.0, p.Confidence)
}

func TestWorkingEntryExpires(t *testing.T) {
	cfg := memory.DefaultGateConfig()
	cfg.WorkingTTL = time.Millisecond
	bus := memory.New(cfg, nil)
	bus.WriteWorking("p1", "k", "v")
	time.Sleep(5 * time.Millisecond)
	_, ok := bus.ReadWorking("p1", "k")
	assert.False(t, ok)
}

func intPtr(v int) *int { return &v }
