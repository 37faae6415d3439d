package stance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/stance"
)

func TestInitialStanceIsSensemaking(t *testing.T) {
	m := stance.New()
	assert.Equal(t, stance.Sensemaking, m.Current())
}

func TestCommitmentMovesToExecutionFromAnyStance(t *testing.T) {
	for _, from := range []stance.Stance{stance.Sensemaking, stance.Discovery, stance.Execution, stance.Evaluation} {
		m := stance.New()
		require.NoError(t, forceStance(m, from))
		require.NoError(t, m.Transition(stance.Execution, stance.Commitment, "commit"))
		assert.Equal(t, stance.Execution, m.Current())
	}
}

func TestEvaluationFromEvaluationCanReturnToExecution(t *testing.T) {
	m := stance.New()
	require.NoError(t, forceStance(m, stance.Evaluation))
	require.NoError(t, m.Transition(stance.Execution, stance.Evaluation, "resume"))
}

func TestEvaluationFromExecutionCannotReturnToExecution(t *testing.T) {
	m := stance.New()
	require.NoError(t, forceStance(m, stance.Execution))
	err := m.Transition(stance.Execution, stance.Evaluation, "nope")
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.InvalidTransition))
}

func TestEmergencyAlwaysReturnsToSensemaking(t *testing.T) {
	for _, from := range []stance.Stance{stance.Discovery, stance.Execution, stance.Evaluation} {
		m := stance.New()
		require.NoError(t, forceStance(m, from))
		require.NoError(t, m.Transition(stance.Sensemaking, stance.Emergency, "user_stop"))
		assert.Equal(t, stance.Sensemaking, m.Current())
	}
}

func TestInvalidTransitionOutsideTable(t *testing.T) {
	m := stance.New()
	err := m.Transition(stance.Discovery, stance.Emergency, "bad")
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.InvalidTransition))
}

// forceStance drives m to the requested stance via the table itself, so
// tests don't need package-internal access.
func forceStance(m *stance.Machine, target stance.Stance) error {
	if m.Current() == target {
		return nil
	}
	switch target {
	case stance.Execution:
		return m.Transition(stance.Execution, stance.Commitment, "setup")
	case stance.Evaluation:
		return m.Transition(stance.Evaluation, stance.Evaluation, "setup")
	case stance.Discovery:
		return m.Transition(stance.Discovery, stance.Framing, "setup")
	default:
		return nil
	}
}
