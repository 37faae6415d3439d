package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/commitment"
	"github.com/ctrlplane/kernel/gate"
	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/stance"
	"github.com/ctrlplane/kernel/trace"
)

func newController(t *testing.T) (*gate.Controller, *stance.Machine) {
	t.Helper()
	sm := stance.New()
	cm := commitment.New()
	tr := trace.New()
	return gate.New(sm, cm, tr, 3), sm
}

// TestEmergencyCooldown reproduces spec §8 Scenario B.
func TestEmergencyCooldown(t *testing.T) {
	c, sm := newController(t)

	res, err := c.AttemptEmergency("user_stop")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, stance.Sensemaking, sm.Current())
	assert.Equal(t, 3, c.CooldownRemaining())

	_, err = c.AttemptEmergency("user_stop_again")
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.GateDenied))
	assert.Contains(t, err.Error(), "cooldown")
	assert.Equal(t, stance.Sensemaking, sm.Current())

	c.Tick() // turn 2
	c.Tick() // turn 3
	assert.Equal(t, 1, c.CooldownRemaining())

	c.Tick() // turn 4
	assert.Equal(t, 0, c.CooldownRemaining())

	_, err = c.AttemptEmergency("user_stop_once_more")
	require.NoError(t, err)
}

func TestAttemptGateRecordsHistoryOnDenial(t *testing.T) {
	c, _ := newController(t)
	_, err := c.AttemptGate(gate.Evaluation, stance.Execution, "bad target from sensemaking")
	require.Error(t, err)
	hist := c.History()
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Approved)
}

func TestCommitmentGateMovesToExecution(t *testing.T) {
	c, sm := newController(t)
	res, err := c.AttemptGate(gate.Commitment, "", "start focus")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, stance.Execution, sm.Current())
}
