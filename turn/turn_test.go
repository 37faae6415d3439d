package turn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/agent"
	"github.com/ctrlplane/kernel/commitment"
	"github.com/ctrlplane/kernel/delegation"
	"github.com/ctrlplane/kernel/firewall"
	"github.com/ctrlplane/kernel/gate"
	"github.com/ctrlplane/kernel/kernelconfig"
	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/lane"
	"github.com/ctrlplane/kernel/memory"
	"github.com/ctrlplane/kernel/orchestrator"
	"github.com/ctrlplane/kernel/proposal"
	"github.com/ctrlplane/kernel/stance"
	"github.com/ctrlplane/kernel/telemetry"
	"github.com/ctrlplane/kernel/toolruntime"
	"github.com/ctrlplane/kernel/toolspec"
	"github.com/ctrlplane/kernel/trace"
	"github.com/ctrlplane/kernel/turn"
)

// recordingConnector stubs a Tool Runtime Connector and records every op it
// was asked to execute, mirroring toolruntime_test.go's stubConnector.
type recordingConnector struct {
	name  string
	calls []map[string]any
}

func (c *recordingConnector) Name() string                                     { return c.name }
func (c *recordingConnector) ValidateArgs(op string, args map[string]any) error { return nil }
func (c *recordingConnector) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	c.calls = append(c.calls, args)
	return "written", nil
}

func newDriver(t *testing.T, connectors map[string]toolruntime.Connector, specs map[string]*toolspec.ToolSpec) (*turn.Driver, *lane.Store, *trace.Trace) {
	t.Helper()
	cfg := kernelconfig.Default()
	tr := trace.New()
	sm := stance.New()
	cm := commitment.New()
	gc := gate.New(sm, cm, tr, cfg.EmergencyCooldownTurns)
	lanes := lane.New(0, 0)
	mbus := memory.New(memory.DefaultGateConfig(), tr)
	dm := delegation.New()
	fw := firewall.New(firewall.DefaultConfig())
	rt := toolruntime.New(specs, connectors, tr)
	orch := orchestrator.New(orchestrator.DefaultBudgets())

	d := turn.New(cfg, turn.Deps{
		Trace:      tr,
		MemoryBus:  mbus,
		Delegation: dm,
		Lanes:      lanes,
		Stance:     sm,
		Commitment: cm,
		Gate:       gc,
		Firewall:   fw,
		ToolRT:     rt,
		Orch:       orch,
	}, telemetry.Ports{})
	return d, lanes, tr
}

// Scenario A (spec §8): a write tool requires approval. The first turn is
// denied and nothing executes; once the caller supplies the approval, a
// second turn executes the same request.
func TestExecuteTurnWriteRequiresApproval(t *testing.T) {
	connector := &recordingConnector{name: "fs"}
	specs := map[string]*toolspec.ToolSpec{
		"fs.write_file": {ID: "fs.write_file", SideEffect: toolspec.SideEffectWrite, Connector: "fs"},
	}
	d, _, _ := newDriver(t, map[string]toolruntime.Connector{"fs": connector}, specs)

	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{
			AgentID: agentID,
			Message: "plan: write the file",
			Proposals: []proposal.Proposal{{
				Kind: proposal.KindToolRequest, Source: proposal.SourceAgent, ID: "req-1",
				ToolRequest: &proposal.ToolRequest{ToolID: "fs.write_file", Args: map[string]any{"path": "a.txt", "content": "hi"}},
			}},
		}, nil
	}

	in := turn.Input{
		AgentIDs:  []string{"writer"},
		Processor: proc,
		Reducer:   orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough},
	}

	first := d.ExecuteTurn(context.Background(), in)
	require.Nil(t, first.Err)
	require.Len(t, first.ToolResults, 1)
	assert.False(t, first.ToolResults[0].OK)
	assert.Equal(t, kernelerr.ApprovalRequired, first.ToolResults[0].Error.Code)
	assert.Empty(t, connector.calls)

	in.PendingApprovals = map[string]struct{}{"fs.write_file": {}}
	second := d.ExecuteTurn(context.Background(), in)
	require.Nil(t, second.Err)
	require.Len(t, second.ToolResults, 1)
	assert.True(t, second.ToolResults[0].OK)
	require.Len(t, connector.calls, 1)
	assert.Equal(t, "a.txt", connector.calls[0]["path"])
}

// Scenario E (spec §8): a packet claiming a side effect it never performed
// ("I have executed...") is rejected by the Packet Firewall before the
// Orchestrator ever reduces it.
func TestExecuteTurnFirewallForbiddenClaimBlocksPacket(t *testing.T) {
	d, _, _ := newDriver(t, nil, nil)

	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{AgentID: agentID, Message: "I have executed the deployment successfully"}, nil
	}

	in := turn.Input{
		AgentIDs:  []string{"writer"},
		Processor: proc,
		Reducer:   orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough},
	}

	result := d.ExecuteTurn(context.Background(), in)
	require.Nil(t, result.Err)
	assert.Empty(t, result.FinalPacket.Message)
	assert.Equal(t, []string{"writer"}, result.AgentsInvoked)
}

// Lane actions are authority-layer mutations: a rejected one (pausing
// without a bookmark) must not silently apply, and the turn proceeds
// without aborting (spec §7).
func TestExecuteTurnLanePauseWithoutBookmarkIsRejectedNotApplied(t *testing.T) {
	d, lanes, tr := newDriver(t, nil, nil)

	l, err := lanes.Create("debug", "fix the bug", lane.Execution, 0, lane.Policy{}, lane.Budgets{}, true)
	require.NoError(t, err)

	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{
			AgentID: agentID,
			Message: "pausing without a bookmark",
			Proposals: []proposal.Proposal{{
				Kind: proposal.KindLaneAction, Source: proposal.SourceAgent, ID: "lane-1",
				LaneAction: &proposal.LaneAction{Kind: "pause", Payload: map[string]any{"lane_id": l.ID}},
			}},
		}, nil
	}

	in := turn.Input{
		AgentIDs:  []string{"worker"},
		Processor: proc,
		Reducer:   orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough},
	}

	result := d.ExecuteTurn(context.Background(), in)
	require.Nil(t, result.Err)

	active, ok := lanes.GetActive()
	require.True(t, ok)
	assert.Equal(t, l.ID, active.ID)
	assert.Equal(t, lane.Active, active.Status)

	rejected := tr.Query(trace.QueryFilter{Type: "lane_action_rejected"})
	assert.Len(t, rejected, 1)
}
