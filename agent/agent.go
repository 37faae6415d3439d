// Package agent defines the data contracts exchanged between the kernel and
// advisory agents: the declarative AgentDefinition contract, the AgentContext
// an agent is invoked with, and the AgentPacket it returns. Agents never
// produce decisions — only proposals the Gate Controller may act on.
package agent

import (
	"fmt"

	"github.com/ctrlplane/kernel/proposal"
)

type (
	// Lifecycle classifies how long an AgentDefinition's registration lives.
	Lifecycle string

	// PromptProfile constrains the tone and length of an agent's output.
	PromptProfile struct {
		Style    string
		Tone     string
		MaxWords int
	}

	// AgentDefinition is the declarative contract an agent registers under.
	// The Packet Firewall consults RequestedScopes/AllowedToolRequests/
	// AllowedGateRequests to sanitize packets at the advisory boundary.
	AgentDefinition struct {
		AgentID         string
		Version         string
		Role            string
		Lifecycle       Lifecycle
		RoutingTags     map[string]struct{}
		Prompt          PromptProfile
		RequestedScopes map[string]struct{}
		AllowedToolReqs map[string]struct{}
		AllowedGateReqs map[string]struct{}
	}

	// Context is the read-only view of kernel state an agent is invoked
	// with. PreviousOutput is populated only in serial (chain) orchestration.
	Context struct {
		ProblemID      string
		SessionID      string
		Turn           int
		LaneID         string
		Stance         string
		Messages       []Message
		PreviousOutput *Packet
		Metadata       map[string]any
	}

	// Message is one turn of conversation supplied to an agent.
	Message struct {
		Role    string
		Content string
	}

	// Packet is an agent's turn output (spec glossary: AgentPacket). It
	// carries no authority of its own — the Packet Firewall and Gate
	// Controller are the only components that may act on it.
	Packet struct {
		AgentID    string
		Message    string
		Proposals  []proposal.Proposal
		Confidence float64
		Traces     map[string]any
	}
)

const (
	// Ephemeral agents are invoked once and discarded.
	Ephemeral Lifecycle = "ephemeral"
	// Session agents persist registration across the whole session.
	Session Lifecycle = "session"
)

// MinPromptWords is the floor enforced on AgentDefinition.Prompt.MaxWords.
const MinPromptWords = 50

// Validate checks the structural invariants of a definition: presence of
// identifying fields and the MaxWords floor.
func (d AgentDefinition) Validate() error {
	if d.AgentID == "" {
		return fmt.Errorf("agent: agent_id is required")
	}
	if d.Version == "" {
		return fmt.Errorf("agent: version is required")
	}
	if d.Lifecycle != Ephemeral && d.Lifecycle != Session {
		return fmt.Errorf("agent: lifecycle must be ephemeral or session")
	}
	if d.Prompt.MaxWords < MinPromptWords {
		return fmt.Errorf("agent: prompt.max_words must be >= 50")
	}
	return nil
}
