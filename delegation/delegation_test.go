package delegation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/delegation"
	"github.com/ctrlplane/kernel/kernelerr"
)

func TestGrantThenCheck(t *testing.T) {
	m := delegation.New()
	m.Grant("researcher", map[string]struct{}{"web.search": {}}, 3)
	assert.True(t, m.Check("researcher", "web.search"))
	assert.False(t, m.Check("researcher", "fs.write_file"))
}

func TestAttemptUnauthorizedProposesFramingGate(t *testing.T) {
	m := delegation.New()
	res := m.Attempt("researcher", "web.search")
	require.False(t, res.Authorized)
	assert.True(t, kernelerr.Is(res.Err, kernelerr.Unauthorized))
	require.NotNil(t, res.GateRequest)
	assert.Equal(t, "framing", res.GateRequest.GateRequest.Gate)

	m.Grant("researcher", map[string]struct{}{"web.search": {}}, 3)
	res = m.Attempt("researcher", "web.search")
	assert.True(t, res.Authorized)
}

func TestTickDropsExpiredLeases(t *testing.T) {
	m := delegation.New()
	m.Grant("researcher", map[string]struct{}{"web.search": {}}, 1)
	assert.True(t, m.Check("researcher", "web.search"))

	m.Tick()
	assert.False(t, m.Check("researcher", "web.search"))
}

func TestRevokeSpecificCapability(t *testing.T) {
	m := delegation.New()
	m.Grant("researcher", map[string]struct{}{"web.search": {}, "fs.read_file": {}}, 5)
	m.Revoke("researcher", "web.search")
	assert.False(t, m.Check("researcher", "web.search"))
	assert.True(t, m.Check("researcher", "fs.read_file"))
}

func TestGetSummaryReturnsDefensiveCopy(t *testing.T) {
	m := delegation.New()
	m.Grant("researcher", map[string]struct{}{"web.search": {}}, 5)
	summary := m.GetSummary()
	delete(summary["researcher"].Scope, "web.search")
	assert.True(t, m.Check("researcher", "web.search"))
}
