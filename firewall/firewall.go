// Package firewall guards the boundary between advisory agents and the
// authoritative core (spec §4.5). It is the only component allowed to turn
// an agent.Packet into something the rest of the kernel may consume.
package firewall

import (
	"strings"

	"github.com/ctrlplane/kernel/agent"
	"github.com/ctrlplane/kernel/proposal"
)

// Violation describes one rule failure. Severity "error" fails the packet;
// "warning" is recorded but does not block.
type Violation struct {
	Rule     string
	Severity string
	Detail   string
}

// Config controls packet-level limits and the forbidden/protected sets.
type Config struct {
	MaxProposalsPerPacket int
	MaxToolRequests       int
	ForbiddenClaims       []string
	ProtectedGates        map[string]struct{}
}

// DefaultForbiddenClaims mirrors the side-effect claim patterns called out
// in spec §4.5 rule 1.
var DefaultForbiddenClaims = []string{
	"i have executed",
	"file saved",
	"changes applied",
	"i have completed the task",
	"successfully wrote",
}

// DefaultProtectedGates mirrors spec §4.5 rule 2.
func DefaultProtectedGates() map[string]struct{} {
	return map[string]struct{}{
		"stance_override":  {},
		"commitment_force": {},
		"authority_grant":  {},
	}
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxProposalsPerPacket: 10,
		MaxToolRequests:       5,
		ForbiddenClaims:       DefaultForbiddenClaims,
		ProtectedGates:        DefaultProtectedGates(),
	}
}

// Result is the outcome of Validate.
type Result struct {
	Passed     bool
	Violations []Violation
	Sanitized  *agent.Packet
}

// Firewall validates agent.Packets against Config before anything downstream
// treats their contents as advisory input.
type Firewall struct {
	cfg Config
}

// New constructs a Firewall. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *Firewall {
	if cfg.MaxProposalsPerPacket <= 0 {
		cfg.MaxProposalsPerPacket = DefaultConfig().MaxProposalsPerPacket
	}
	if cfg.MaxToolRequests <= 0 {
		cfg.MaxToolRequests = DefaultConfig().MaxToolRequests
	}
	if cfg.ForbiddenClaims == nil {
		cfg.ForbiddenClaims = DefaultForbiddenClaims
	}
	if cfg.ProtectedGates == nil {
		cfg.ProtectedGates = DefaultProtectedGates()
	}
	return &Firewall{cfg: cfg}
}

// Validate applies every rule in spec §4.5 order. def is optional: when nil,
// rules 5 and 6 (authorized tools/gates) are skipped.
func (f *Firewall) Validate(p agent.Packet, def *agent.AgentDefinition) Result {
	var violations []Violation

	lowerMsg := strings.ToLower(p.Message)
	for _, claim := range f.cfg.ForbiddenClaims {
		if strings.Contains(lowerMsg, strings.ToLower(claim)) {
			violations = append(violations, Violation{
				Rule: "FORBIDDEN_CLAIM", Severity: "error",
				Detail: "message contains side-effect claim: " + claim,
			})
		}
	}

	toolCount := 0
	for _, prop := range p.Proposals {
		if prop.Kind == proposal.KindGateRequest && prop.GateRequest != nil {
			if _, protected := f.cfg.ProtectedGates[prop.GateRequest.Gate]; protected {
				violations = append(violations, Violation{
					Rule: "protected_gate", Severity: "error",
					Detail: "proposal requests protected gate: " + prop.GateRequest.Gate,
				})
			}
		}
		if prop.Kind == proposal.KindToolRequest {
			toolCount++
		}
	}

	if len(p.Proposals) > f.cfg.MaxProposalsPerPacket {
		violations = append(violations, Violation{
			Rule: "proposal_count", Severity: "error",
			Detail: "packet exceeds max_proposals_per_packet",
		})
	}
	if toolCount > f.cfg.MaxToolRequests {
		violations = append(violations, Violation{
			Rule: "tool_request_count", Severity: "error",
			Detail: "packet exceeds max_tool_requests",
		})
	}

	if def != nil {
		for _, prop := range p.Proposals {
			if prop.Kind == proposal.KindToolRequest && prop.ToolRequest != nil {
				if _, ok := def.AllowedToolReqs[prop.ToolRequest.ToolID]; !ok {
					violations = append(violations, Violation{
						Rule: "unauthorized_tool", Severity: "error",
						Detail: "tool not in allowed_tool_requests: " + prop.ToolRequest.ToolID,
					})
				}
			}
			if prop.Kind == proposal.KindGateRequest && prop.GateRequest != nil {
				if _, ok := def.AllowedGateReqs[prop.GateRequest.Gate]; !ok {
					violations = append(violations, Violation{
						Rule: "unauthorized_gate", Severity: "error",
						Detail: "gate not in allowed_gate_requests: " + prop.GateRequest.Gate,
					})
				}
			}
		}
	}

	if _, ok := p.Traces["agent_id"]; !ok {
		violations = append(violations, Violation{
			Rule: "required_traces", Severity: "warning",
			Detail: "traces missing agent_id",
		})
	}

	passed := true
	for _, v := range violations {
		if v.Severity == "error" {
			passed = false
			break
		}
	}

	var sanitized *agent.Packet
	if passed {
		s := sanitize(p, def)
		sanitized = &s
	}

	return Result{Passed: passed, Violations: violations, Sanitized: sanitized}
}

// sanitize retains only proposals the definition permits (when given) and
// preserves message, confidence, and traces, per spec §4.5.
func sanitize(p agent.Packet, def *agent.AgentDefinition) agent.Packet {
	if def == nil {
		return p
	}
	kept := make([]proposal.Proposal, 0, len(p.Proposals))
	for _, prop := range p.Proposals {
		switch prop.Kind {
		case proposal.KindToolRequest:
			if prop.ToolRequest != nil {
				if _, ok := def.AllowedToolReqs[prop.ToolRequest.ToolID]; !ok {
					continue
				}
			}
		case proposal.KindGateRequest:
			if prop.GateRequest != nil {
				if _, ok := def.AllowedGateReqs[prop.GateRequest.Gate]; !ok {
					continue
				}
			}
		}
		kept = append(kept, prop)
	}
	return agent.Packet{
		AgentID:    p.AgentID,
		Message:    p.Message,
		Proposals:  kept,
		Confidence: p.Confidence,
		Traces:     p.Traces,
	}
}

// promptSmuggleMarkers are the patterns ValidateHandoff rejects.
var promptSmuggleMarkers = []string{
	"ignore previous",
	"ignore all previous instructions",
	"you are now",
	"disregard the above",
	"new instructions:",
}

// MaxHandoffProposals caps proposals carried across an inter-agent handoff.
const MaxHandoffProposals = 5

// ValidateHandoff rejects prompt-smuggling patterns in a source packet being
// forwarded to targetAgentID and caps the number of proposals carried over.
func ValidateHandoff(source agent.Packet, targetAgentID string) Result {
	var violations []Violation
	lowerMsg := strings.ToLower(source.Message)
	for _, marker := range promptSmuggleMarkers {
		if strings.Contains(lowerMsg, marker) {
			violations = append(violations, Violation{
				Rule: "prompt_smuggling", Severity: "error",
				Detail: "handoff message contains smuggling pattern: " + marker,
			})
		}
	}

	passed := len(violations) == 0
	var sanitized *agent.Packet
	if passed {
		capped := source.Proposals
		if len(capped) > MaxHandoffProposals {
			capped = capped[:MaxHandoffProposals]
		}
		s := agent.Packet{
			AgentID:    targetAgentID,
			Message:    source.Message,
			Proposals:  capped,
			Confidence: source.Confidence,
			Traces:     source.Traces,
		}
		sanitized = &s
	}
	return Result{Passed: passed, Violations: violations, Sanitized: sanitized}
}
