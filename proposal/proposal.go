// Package proposal defines the advisory Proposal record (spec §3) and the
// per-turn Proposal Buffer (spec §4.4). Proposals are produced exclusively
// by non-authoritative components (agents via the firewall, perception,
// continuous evaluator, contrast detector) and are immutable once buffered.
package proposal

// Kind is a closed tagged union discriminator for Proposal, per spec §9's
// design note ("encode each as a closed tagged union with exhaustive
// matching"). Exactly one of the corresponding payload fields on Proposal
// is populated for a given Kind.
type Kind string

const (
	KindGateRequest     Kind = "gate_request"
	KindToolRequest     Kind = "tool_request"
	KindLaneAction      Kind = "lane_action"
	KindContrastReport  Kind = "contrast_report"
	KindPerceptionSignal Kind = "perception_signal"
)

// Source tags which subsystem produced a proposal (spec §3). decay_manager
// from the original source is normalized to SourceCommitmentExpiry (see
// DESIGN.md Open Question decisions); it is not exposed as a distinct tag.
type Source string

const (
	SourceUserSignal       Source = "user_signal"
	SourceCommitmentExpiry Source = "commitment_expiry"
	SourcePerception       Source = "perception"
	SourceContinuousEval   Source = "continuous_eval"
	SourceContrast         Source = "contrast"
	SourceAgent            Source = "agent"
)

// Severity ranks a GateRequest's urgency (spec §3).
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityEmergency Severity = "emergency"
)

// GateRequest asks the Gate Controller to attempt a gate transition.
type GateRequest struct {
	Gate     string
	Reason   string
	Severity Severity
	// Target optionally names the desired target stance when the gate
	// permits more than one (e.g. Framing permits both Sensemaking and
	// Discovery). Empty means "use the gate's default target."
	Target string
}

// ToolRequest asks the Policy/Tool Runtime layer to execute a tool.
type ToolRequest struct {
	ToolID string
	Args   map[string]any
}

// LaneAction asks the Lane Store to perform a workstream action (activate,
// pause, resume, complete).
type LaneAction struct {
	Kind    string
	Payload map[string]any
}

// ContrastReport surfaces a detected gap between expectation and observed
// state.
type ContrastReport struct {
	GapSeverity string
	Description string
}

// PerceptionSignal carries a raw sensed signal for the kernel to react to.
type PerceptionSignal struct {
	Kind    string
	Payload map[string]any
}

// Proposal is the advisory record buffered per turn and arbitrated by the
// Gate Controller (spec §3). Immutable once buffered: callers should treat
// a Proposal value as read-only after Buffer.Add.
type Proposal struct {
	Kind   Kind
	Source Source

	GateRequest      *GateRequest
	ToolRequest      *ToolRequest
	LaneAction       *LaneAction
	ContrastReport   *ContrastReport
	PerceptionSignal *PerceptionSignal

	// ID uniquely identifies this proposal within a turn for deterministic
	// batch ordering downstream (e.g. tool-request evaluation order, spec
	// §4.6 "Batch evaluation sorts requests by proposal_id").
	ID string
}
