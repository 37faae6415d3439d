package commitment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/commitment"
	"github.com/ctrlplane/kernel/kernelerr"
)

func TestCreateRequiresAuthorization(t *testing.T) {
	m := commitment.New()
	_, err := m.Create("ship v2", commitment.Near, []string{"shipped"}, nil, 5)
	require.Error(t, err)
	assert.True(t, kernelerr.Is(err, kernelerr.Unauthorized))

	m.AuthorizeCreate()
	l, err := m.Create("ship v2", commitment.Near, []string{"shipped"}, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, l.TurnsRemaining)
}

func TestTickDecrementsExactlyOncePerTurn(t *testing.T) {
	m := commitment.New()
	m.AuthorizeCreate()
	_, err := m.Create("frame", commitment.Near, nil, nil, 2)
	require.NoError(t, err)

	assert.True(t, m.Tick())
	l, _ := m.Current()
	assert.Equal(t, 1, l.TurnsRemaining)

	assert.False(t, m.Tick())
	l, _ = m.Current()
	assert.Equal(t, 0, l.TurnsRemaining)
}

func TestCheckExpiryEmitsProposalAtZero(t *testing.T) {
	m := commitment.New()
	m.AuthorizeCreate()
	_, err := m.Create("frame", commitment.Near, nil, nil, 1)
	require.NoError(t, err)
	m.Tick()

	_, ok := m.CheckExpiry()
	require.True(t, ok)
}

func TestExpireRequiresAuthorization(t *testing.T) {
	m := commitment.New()
	m.AuthorizeCreate()
	_, _ = m.Create("frame", commitment.Near, nil, nil, 3)

	err := m.Expire()
	require.Error(t, err)

	m.AuthorizeClear()
	require.NoError(t, m.Expire())
	_, ok := m.Current()
	assert.False(t, ok)
}
