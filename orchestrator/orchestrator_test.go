package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/agent"
	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/orchestrator"
	"github.com/ctrlplane/kernel/proposal"
)

func deterministicProcessor(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
	return agent.Packet{AgentID: agentID, Message: "analysis from " + agentID, Confidence: 0.8}, nil
}

func TestExecutePanelIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})

	r1 := o.Execute(context.Background(), []string{"analyst", "writer"}, deterministicProcessor, agent.Context{}, true, orchestrator.ReducerConfig{Kind: orchestrator.ReducerMerge, Merge: orchestrator.MergeConcatenate})
	r2 := o.Execute(context.Background(), []string{"writer", "analyst"}, deterministicProcessor, agent.Context{}, true, orchestrator.ReducerConfig{Kind: orchestrator.ReducerMerge, Merge: orchestrator.MergeConcatenate})

	require.Nil(t, r1.Err)
	require.Nil(t, r2.Err)
	assert.Equal(t, r1.FinalPacket.Message, r2.FinalPacket.Message)
	assert.Equal(t, r1.AgentsInvoked, r2.AgentsInvoked)
	assert.Equal(t, []string{"analyst", "writer"}, r1.AgentsInvoked)
}

func TestExecuteSerialChainPassesPreviousOutput(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	var sawPrevious bool
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		if agentID == "writer" && actx.PreviousOutput != nil {
			sawPrevious = true
		}
		return agent.Packet{AgentID: agentID, Message: "out:" + agentID}, nil
	}

	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough})
	require.Nil(t, r.Err)
	assert.True(t, sawPrevious)
	assert.Equal(t, []string{"analyst", "writer"}, r.AgentsInvoked)
	assert.Equal(t, "out:writer", r.FinalPacket.Message)
}

func TestExecuteValidationFailureRaisesAgentViolation(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{AgentID: agentID, Message: "Final decision: ship it"}, nil
	}
	r := o.Execute(context.Background(), []string{"analyst"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough})
	require.NotNil(t, r.Err)
	assert.True(t, kernelerr.Is(r.Err, kernelerr.AgentViolation))
}

func TestExecuteParallelTimeoutSurfacesAgentTimeout(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{MaxWorkers: 2, TimeoutMS: 10})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return agent.Packet{AgentID: agentID, Message: "too slow"}, nil
		case <-ctx.Done():
			return agent.Packet{}, ctx.Err()
		}
	}
	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, true, orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough})
	require.NotNil(t, r.Err)
	assert.True(t, kernelerr.Is(r.Err, kernelerr.AgentTimeout))
}

func TestExecutePerAgentExceptionIsCapturedAndReducedAlongside(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		if agentID == "writer" {
			return agent.Packet{}, errors.New("boom")
		}
		return agent.Packet{AgentID: agentID, Message: "ok"}, nil
	}
	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, true, orchestrator.ReducerConfig{Kind: orchestrator.ReducerMerge, Merge: orchestrator.MergeConcatenate})
	require.Nil(t, r.Err)
	assert.Equal(t, "ok", r.FinalPacket.Message)
}

func TestReduceVoteWithNoOutputsRaisesGateDenied(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{}, errors.New("every agent fails")
	}
	r := o.Execute(context.Background(), []string{"analyst"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerVote, VoteThreshold: 0.5})
	require.NotNil(t, r.Err)
	assert.True(t, kernelerr.Is(r.Err, kernelerr.GateDenied))
}

func TestReduceVoteTieAtThresholdReturnsFirstBucket(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		if agentID == "analyst" {
			return agent.Packet{AgentID: agentID, Message: "approve"}, nil
		}
		return agent.Packet{AgentID: agentID, Message: "reject"}, nil
	}
	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerVote, VoteThreshold: 0.5, VoteTiebreak: orchestrator.VoteTiebreakFirst})
	require.Nil(t, r.Err)
	assert.Equal(t, "approve", r.FinalPacket.Message)
}

func TestCollectProposalsDedupesAndCaps(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{MaxProposalsTotal: 1})
	dup := proposal.Proposal{Kind: proposal.KindToolRequest, ToolRequest: &proposal.ToolRequest{ToolID: "fs.read_file", Args: map[string]any{"path": "a.txt"}}}
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{AgentID: agentID, Message: "out", Proposals: []proposal.Proposal{dup}}, nil
	}
	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough})
	require.Nil(t, r.Err)
	assert.Len(t, r.Proposals, 1)
}

func TestReduceSynthesizeInvokesInjectedFunction(t *testing.T) {
	o := orchestrator.New(orchestrator.Budgets{})
	proc := func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		return agent.Packet{AgentID: agentID, Message: agentID}, nil
	}
	synth := func(outputs []agent.Packet) (agent.Packet, error) {
		return agent.Packet{AgentID: "synth", Message: "synthesized"}, nil
	}
	r := o.Execute(context.Background(), []string{"analyst", "writer"}, proc, agent.Context{}, false, orchestrator.ReducerConfig{Kind: orchestrator.ReducerSynthesize, Synthesize: synth})
	require.Nil(t, r.Err)
	assert.Equal(t, "synthesized", r.FinalPacket.Message)
}
