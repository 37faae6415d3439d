// Package kernelconfig holds the configuration knobs enumerated in spec §6.
// The kernel never reads files or environment variables itself; a
// driver-owned loader (out of scope, per spec §1) populates a Config and
// passes it to each component's constructor. Struct tags allow that loader
// to use gopkg.in/yaml.v3 without the kernel importing a YAML dependency
// for its own sake.
package kernelconfig

import "time"

// Config bundles every tunable the kernel's components accept. Default()
// returns a fully populated Config; a Config built by hand is used as given,
// and its zero-value fields are not filled in from Default().
type Config struct {
	// Emergency cooldown, in turns, enforced by the Gate Controller (spec §4.3).
	EmergencyCooldownTurns int `yaml:"emergency_cooldown_turns"`

	// ProposalPriorityOrder is the ordered list of proposal source tags the
	// Gate Controller processes after any emergency proposal (spec §4.3 rule 2).
	ProposalPriorityOrder []string `yaml:"proposal_priority_order"`

	// DefaultLeaseTurns is a default lease lifetime in turns. No component
	// reads it: delegation.Manager.Grant always takes an explicit turn count.
	DefaultLeaseTurns int `yaml:"default_lease_turns"`

	Firewall    FirewallConfig    `yaml:"firewall"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	WriteGate   WriteGateConfig   `yaml:"write_gate"`
	Lane        LaneConfig        `yaml:"lane"`
	Memory      MemoryConfig      `yaml:"memory"`
}

// FirewallConfig configures the Packet Firewall (spec §4.5, §6).
type FirewallConfig struct {
	MaxProposalsPerPacket int      `yaml:"max_proposals_per_packet"`
	MaxToolRequests       int      `yaml:"max_tool_requests"`
	ForbiddenClaims       []string `yaml:"forbidden_claims"`
	ProtectedGates        []string `yaml:"protected_gates"`
	MaxHandoffProposals   int      `yaml:"max_handoff_proposals"`
}

// OrchestratorConfig configures the MapReduce Orchestrator (spec §4.11, §6).
type OrchestratorConfig struct {
	TimeoutMS      int `yaml:"timeout_ms"`
	MaxWorkers     int `yaml:"max_workers"`
	MaxAgents      int `yaml:"max_agents"`
	MaxChainDepth  int `yaml:"max_chain_depth"`
	MaxProposalsTotal int `yaml:"max_proposals_total"`
}

// WriteGateConfig configures the Memory Bus's Write Gate (spec §4.8, §6).
type WriteGateConfig struct {
	BlastRadiusThreshold float64 `yaml:"blast_radius_threshold"`
	MinSourceQuality     float64 `yaml:"min_source_quality"`
	MinAlignment         float64 `yaml:"min_alignment"`
	SemanticMinQuality   float64 `yaml:"semantic_min_quality"`
	SemanticMinAlignment float64 `yaml:"semantic_min_alignment"`
	SharedHistoryCap     int     `yaml:"shared_history_cap"`
}

// LaneConfig configures the Lane Store (spec §4.9, §6).
type LaneConfig struct {
	MaxPausedLanes    int `yaml:"max_paused_lanes"`
	DefaultLeaseHours int `yaml:"default_lease_hours"`
}

// MemoryConfig configures the Memory Bus's tiers (spec §4.8, §6).
type MemoryConfig struct {
	DefaultTTLHours int `yaml:"default_ttl_hours"`
}

// Default returns the documented defaults from spec §4 and §6.
func Default() Config {
	return Config{
		EmergencyCooldownTurns: 3,
		ProposalPriorityOrder: []string{
			"user_signal", "commitment_expiry", "perception", "continuous_eval", "contrast",
		},
		DefaultLeaseTurns: 5,
		Firewall: FirewallConfig{
			MaxProposalsPerPacket: 10,
			MaxToolRequests:       5,
			ForbiddenClaims: []string{
				"i have executed", "file saved", "changes applied", "i have deployed",
				"i have deleted", "rollback complete", "i have committed",
			},
			ProtectedGates:      []string{"stance_override", "commitment_force", "authority_grant"},
			MaxHandoffProposals: 10,
		},
		Orchestrator: OrchestratorConfig{
			TimeoutMS:         30000,
			MaxWorkers:        4,
			MaxAgents:         8,
			MaxChainDepth:     8,
			MaxProposalsTotal: 50,
		},
		WriteGate: WriteGateConfig{
			BlastRadiusThreshold: 0.7,
			MinSourceQuality:     0.3,
			MinAlignment:         0.4,
			SemanticMinQuality:   0.5,
			SemanticMinAlignment: 0.6,
			SharedHistoryCap:     20,
		},
		Lane: LaneConfig{
			MaxPausedLanes:    5,
			DefaultLeaseHours: 24,
		},
		Memory: MemoryConfig{
			DefaultTTLHours: 2,
		},
	}
}

// WorkingTTL returns the configured Working-tier TTL as a time.Duration.
func (m MemoryConfig) WorkingTTL() time.Duration {
	if m.DefaultTTLHours <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(m.DefaultTTLHours) * time.Hour
}

// DefaultLeaseDuration returns the configured Lane default lease as a
// time.Duration.
func (l LaneConfig) DefaultLeaseDuration() time.Duration {
	if l.DefaultLeaseHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(l.DefaultLeaseHours) * time.Hour
}
