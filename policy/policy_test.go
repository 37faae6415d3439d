package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/policy"
	"github.com/ctrlplane/kernel/toolspec"
)

func readSpec() *toolspec.ToolSpec {
	return &toolspec.ToolSpec{
		ID: "fs.read_file", SideEffect: toolspec.SideEffectRead,
		RequiredScopes: map[string]struct{}{"fs.read": {}},
	}
}

func writeSpec() *toolspec.ToolSpec {
	return &toolspec.ToolSpec{
		ID: "fs.write_file", SideEffect: toolspec.SideEffectWrite,
		RequiredScopes: map[string]struct{}{"fs.write": {}},
	}
}

func TestEvaluateDeniesUnknownTool(t *testing.T) {
	d := policy.Evaluate(policy.Request{ToolID: "ghost"}, nil, policy.Context{})
	require.False(t, d.Allowed)
	assert.True(t, kernelerr.Is(d.Err, kernelerr.GateDenied))
}

func TestEvaluateDeniesMissingScopes(t *testing.T) {
	d := policy.Evaluate(policy.Request{ToolID: "fs.read_file"}, readSpec(), policy.Context{
		GrantedScopes: map[string]struct{}{},
	})
	require.False(t, d.Allowed)
	assert.True(t, kernelerr.Is(d.Err, kernelerr.MissingScopes))
}

func TestEvaluateEnforcesLaneBudget(t *testing.T) {
	ctx := policy.Context{
		GrantedScopes:        map[string]struct{}{"fs.read": {}},
		LaneMaxToolsPerTurn:  1,
		ToolRequestsThisTurn: 1,
	}
	d := policy.Evaluate(policy.Request{ToolID: "fs.read_file"}, readSpec(), ctx)
	require.False(t, d.Allowed)
	assert.True(t, kernelerr.Is(d.Err, kernelerr.BudgetExceeded))
}

func TestEvaluateWriteNeedsApprovalUnlessGrantedOrPending(t *testing.T) {
	ctx := policy.Context{GrantedScopes: map[string]struct{}{"fs.write": {}}}
	d := policy.Evaluate(policy.Request{ToolID: "fs.write_file"}, writeSpec(), ctx)
	require.False(t, d.Allowed)
	assert.True(t, d.NeedsApproval)
	assert.True(t, kernelerr.Is(d.Err, kernelerr.ApprovalRequired))

	ctx.WriteApprovalGranted = true
	d = policy.Evaluate(policy.Request{ToolID: "fs.write_file"}, writeSpec(), ctx)
	assert.True(t, d.Allowed)

	ctx.WriteApprovalGranted = false
	ctx.PendingApprovals = map[string]struct{}{"fs.write_file": {}}
	d = policy.Evaluate(policy.Request{ToolID: "fs.write_file"}, writeSpec(), ctx)
	assert.True(t, d.Allowed)
}

func TestEvaluateDeniesNetworkAndExternal(t *testing.T) {
	spec := &toolspec.ToolSpec{ID: "http.fetch", SideEffect: toolspec.SideEffectNetwork}
	ctx := policy.Context{GrantedScopes: map[string]struct{}{}}
	d := policy.Evaluate(policy.Request{ToolID: "http.fetch"}, spec, ctx)
	assert.False(t, d.Allowed)
}

func TestEvaluateIgnoresEmotionalSignals(t *testing.T) {
	ctxCalm := policy.Context{GrantedScopes: map[string]struct{}{"fs.read": {}}, EmotionalSignals: map[string]any{"frustration": 0.9}}
	ctxNone := policy.Context{GrantedScopes: map[string]struct{}{"fs.read": {}}}
	dCalm := policy.Evaluate(policy.Request{ToolID: "fs.read_file"}, readSpec(), ctxCalm)
	dNone := policy.Evaluate(policy.Request{ToolID: "fs.read_file"}, readSpec(), ctxNone)
	assert.Equal(t, dNone.Allowed, dCalm.Allowed)
}

func TestEvaluateBatchOrdersByProposalIDAndThreadsBudget(t *testing.T) {
	specs := map[string]*toolspec.ToolSpec{"fs.read_file": readSpec()}
	reqs := []policy.Request{
		{ProposalID: "b", ToolID: "fs.read_file"},
		{ProposalID: "a", ToolID: "fs.read_file"},
	}
	ctx := policy.Context{GrantedScopes: map[string]struct{}{"fs.read": {}}, LaneMaxToolsPerTurn: 1}
	decisions := policy.EvaluateBatch(reqs, specs, ctx)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Allowed)
	assert.False(t, decisions[1].Allowed)
}
