package proposal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/proposal"
)

var priorityOrder = []string{"user_signal", "commitment_expiry", "perception", "continuous_eval", "contrast"}

func TestGetGateProposalsOrdersBySourcePriority(t *testing.T) {
	b := proposal.NewBuffer()
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourceContrast,
		GateRequest: &proposal.GateRequest{Gate: "framing", Severity: proposal.SeverityLow}})
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourceUserSignal,
		GateRequest: &proposal.GateRequest{Gate: "commitment", Severity: proposal.SeverityMedium}})
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourcePerception,
		GateRequest: &proposal.GateRequest{Gate: "evaluation", Severity: proposal.SeverityLow}})

	ordered := b.GetGateProposals(priorityOrder)
	require.Len(t, ordered, 3)
	assert.Equal(t, proposal.SourceUserSignal, ordered[0].Source)
	assert.Equal(t, proposal.SourcePerception, ordered[1].Source)
	assert.Equal(t, proposal.SourceContrast, ordered[2].Source)
}

func TestGetGateProposalsCollapsesDuplicatesToHighestSeverity(t *testing.T) {
	b := proposal.NewBuffer()
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourceUserSignal,
		GateRequest: &proposal.GateRequest{Gate: "framing", Severity: proposal.SeverityLow}})
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourceUserSignal,
		GateRequest: &proposal.GateRequest{Gate: "framing", Severity: proposal.SeverityHigh}})

	ordered := b.GetGateProposals(priorityOrder)
	require.Len(t, ordered, 1)
	assert.Equal(t, proposal.SeverityHigh, ordered[0].GateRequest.Severity)
}

func TestGetGateProposalsExcludesEmergency(t *testing.T) {
	b := proposal.NewBuffer()
	b.Add(proposal.Proposal{Kind: proposal.KindGateRequest, Source: proposal.SourceUserSignal,
		GateRequest: &proposal.GateRequest{Gate: "emergency", Severity: proposal.SeverityEmergency}})

	assert.True(t, b.HasEmergency())
	assert.Empty(t, b.GetGateProposals(priorityOrder))
	assert.Len(t, b.EmergencyProposals(), 1)
}

func TestClearEmptiesBuffer(t *testing.T) {
	b := proposal.NewBuffer()
	b.Add(proposal.Proposal{Kind: proposal.KindToolRequest, ToolRequest: &proposal.ToolRequest{ToolID: "fs.read_file"}})
	require.Equal(t, 1, b.Len())
	b.Clear()
	assert.Equal(t, 0, b.Len())
}
