// Package turn composes every kernel component into the single-threaded
// turn loop described in spec §2 and §5: sense input, invoke agents, pass
// each packet through the Packet Firewall, reduce via the Orchestrator,
// arbitrate proposals through the Gate Controller, execute approved tool
// requests through the Tool Runtime, then let the evaluator's quality
// signals and lane/commitment expiries carry forward as proposals for the
// next turn.
package turn

import (
	"context"

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
	"github.com/ctrlplane/kernel/policy"
	"github.com/ctrlplane/kernel/proposal"
	"github.com/ctrlplane/kernel/stance"
	"github.com/ctrlplane/kernel/telemetry"
	"github.com/ctrlplane/kernel/toolruntime"
	"github.com/ctrlplane/kernel/trace"
)

// Input is everything one turn needs beyond the Driver's own state.
type Input struct {
	ProblemID        string
	AgentIDs         []string
	AgentDefinitions map[string]*agent.AgentDefinition // optional, keyed by AgentID
	Processor        orchestrator.AgentProcessor
	Context          agent.Context
	Parallel         bool
	Reducer          orchestrator.ReducerConfig

	// GrantedScopes/PendingApprovals feed the PDP for this turn's tool
	// requests. PendingApprovals is keyed by ToolID, matching policy.Context.
	GrantedScopes    map[string]struct{}
	PendingApprovals map[string]struct{}
	EmotionalSignals map[string]any
}

// Result is everything one turn produced.
type Result struct {
	FinalPacket   agent.Packet
	AgentsInvoked []string
	GateResults   []gate.Result
	ToolResults   []toolruntime.Result
	Err           *kernelerr.Error
}

// Driver owns the fully-wired kernel. Construct with New.
type Driver struct {
	cfg kernelconfig.Config
	tel telemetry.Ports

	trace      *trace.Trace
	memoryBus  *memory.Bus
	delegation *delegation.Manager
	lanes      *lane.Store
	stance     *stance.Machine
	commitment *commitment.Manager
	gate       *gate.Controller
	firewall   *firewall.Firewall
	toolRT     *toolruntime.Runtime
	orch       *orchestrator.Orchestrator

	deniedTools        map[string]struct{}
	deniedPathPrefixes []string

	// pending carries proposals generated at the end of a turn (commitment
	// expiry, lane lease expiry) forward to the next turn's arbiter phase.
	pending []proposal.Proposal
}

// Deps bundles the already-constructed leaf components the Driver composes,
// per spec §2's dependency order (leaves first).
type Deps struct {
	Trace      *trace.Trace
	MemoryBus  *memory.Bus
	Delegation *delegation.Manager
	Lanes      *lane.Store
	Stance     *stance.Machine
	Commitment *commitment.Manager
	Gate       *gate.Controller
	Firewall   *firewall.Firewall
	ToolRT     *toolruntime.Runtime
	Orch       *orchestrator.Orchestrator
}

// New constructs a Driver over already-wired components.
func New(cfg kernelconfig.Config, deps Deps, tel telemetry.Ports) *Driver {
	return &Driver{
		cfg:        cfg,
		tel:        tel.WithDefaults(),
		trace:      deps.Trace,
		memoryBus:  deps.MemoryBus,
		delegation: deps.Delegation,
		lanes:      deps.Lanes,
		stance:     deps.Stance,
		commitment: deps.Commitment,
		gate:       deps.Gate,
		firewall:   deps.Firewall,
		toolRT:     deps.ToolRT,
		orch:       deps.Orch,
	}
}

// WithDeniedTools configures the PDP's constitution-rule denylist (spec
// §4.6). Optional: unset means nothing is denied at this layer.
func (d *Driver) WithDeniedTools(tools map[string]struct{}, pathPrefixes []string) {
	d.deniedTools = tools
	d.deniedPathPrefixes = pathPrefixes
}

// ExecuteTurn runs one full turn: sense -> agents -> firewall -> reduce ->
// arbiter -> gate -> tools -> eval -> persist (spec §5).
func (d *Driver) ExecuteTurn(ctx context.Context, in Input) Result {
	buf := proposal.NewBuffer()
	for _, p := range d.pending {
		buf.Add(p)
	}
	d.pending = nil

	guarded := d.wrapWithFirewall(in.Processor, in.AgentDefinitions)
	orchResult := d.orch.Execute(ctx, in.AgentIDs, guarded, in.Context, in.Parallel, in.Reducer)
	if orchResult.Err != nil {
		d.trace.Log("turn_failed", map[string]any{"reason": orchResult.Err.Reason, "code": string(orchResult.Err.Code)}, in.ProblemID, nil)
		return Result{AgentsInvoked: orchResult.AgentsInvoked, Err: orchResult.Err}
	}

	for _, p := range orchResult.Proposals {
		buf.Add(p)
	}

	gateResults := d.gate.ProcessProposals(buf, d.cfg.ProposalPriorityOrder)

	toolResults := d.runToolRequests(ctx, buf, in)
	d.runLaneActions(buf)

	d.gate.Tick()
	d.delegation.Tick()
	d.evaluate()

	buf.Clear()

	return Result{
		FinalPacket:   orchResult.FinalPacket,
		AgentsInvoked: orchResult.AgentsInvoked,
		GateResults:   gateResults,
		ToolResults:   toolResults,
	}
}

// wrapWithFirewall adapts a raw AgentProcessor so every packet it returns
// first passes through the Packet Firewall (spec §2: "firewall validates"
// happens immediately after agents produce packets, ahead of the
// Orchestrator's own inlined structural Validate step). A firewall
// rejection is surfaced as a per-agent error, exactly like a processor
// panic recovery would be — the Orchestrator reduces alongside whatever
// else succeeded.
func (d *Driver) wrapWithFirewall(processor orchestrator.AgentProcessor, defs map[string]*agent.AgentDefinition) orchestrator.AgentProcessor {
	return func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
		pkt, err := processor(ctx, agentID, actx)
		if err != nil {
			return agent.Packet{}, err
		}
		var def *agent.AgentDefinition
		if defs != nil {
			def = defs[agentID]
		}
		result := d.firewall.Validate(pkt, def)
		if !result.Passed {
			return agent.Packet{}, kernelerr.New(kernelerr.FirewallViolation, "packet rejected by firewall", map[string]any{
				"agent_id": agentID, "violations": violationDetails(result.Violations),
			})
		}
		return *result.Sanitized, nil
	}
}

func violationDetails(vs []firewall.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule+": "+v.Detail)
	}
	return out
}

// runToolRequests extracts buffered ToolRequest proposals and executes them
// through the Tool Runtime, threading the lane's per-turn tool budget and
// this turn's granted scopes/approvals into the PDP context.
func (d *Driver) runToolRequests(ctx context.Context, buf *proposal.Buffer, in Input) []toolruntime.Result {
	reqs := toolRequestsFrom(buf)
	if len(reqs) == 0 {
		return nil
	}

	pctx := policy.Context{
		GrantedScopes:        in.GrantedScopes,
		PendingApprovals:     in.PendingApprovals,
		DeniedTools:          d.deniedTools,
		DeniedPathPrefixes:   d.deniedPathPrefixes,
		EmotionalSignals:     in.EmotionalSignals,
		ToolRequestsThisTurn: 0,
	}
	if active, ok := d.lanes.GetActive(); ok {
		pctx.LaneMaxToolsPerTurn = active.Budgets.MaxToolRequestsPerTurn
	}

	return d.toolRT.InvokeBatch(ctx, reqs, pctx)
}

func toolRequestsFrom(buf *proposal.Buffer) []policy.Request {
	props := buf.GetByKind(proposal.KindToolRequest)
	reqs := make([]policy.Request, 0, len(props))
	for _, p := range props {
		if p.ToolRequest == nil {
			continue
		}
		reqs = append(reqs, policy.Request{ProposalID: p.ID, ToolID: p.ToolRequest.ToolID, Args: p.ToolRequest.Args})
	}
	return reqs
}

// runLaneActions dispatches buffered LaneAction proposals to the Lane
// Store. Errors are recorded to the trace and otherwise swallowed locally —
// lane_invariant is an authority-layer error, never silently recovered, but
// a turn should not abort over one rejected lane action (spec §7: it
// "surfaces to the turn driver, which records them and proceeds without
// applying the offending mutation").
func (d *Driver) runLaneActions(buf *proposal.Buffer) {
	for _, p := range buf.GetByKind(proposal.KindLaneAction) {
		if p.LaneAction == nil {
			continue
		}
		if err := d.applyLaneAction(*p.LaneAction); err != nil {
			d.trace.Log("lane_action_rejected", map[string]any{
				"kind": p.LaneAction.Kind, "reason": err.Error(),
			}, "", nil)
		}
	}
}

func (d *Driver) applyLaneAction(a proposal.LaneAction) error {
	id, _ := a.Payload["lane_id"].(string)
	switch a.Kind {
	case "activate":
		_, err := d.lanes.Activate(id)
		return err
	case "pause":
		bookmark, _ := a.Payload["bookmark"].(string)
		nextSteps, _ := a.Payload["next_steps"].([]string)
		openQuestions, _ := a.Payload["open_questions"].([]string)
		_, err := d.lanes.Pause(id, bookmark, nextSteps, openQuestions)
		return err
	case "resume":
		_, err := d.lanes.Resume(id)
		return err
	case "complete":
		summary, _ := a.Payload["summary"].(string)
		_, err := d.lanes.Complete(id, summary)
		return err
	default:
		return kernelerr.New(kernelerr.LaneInvariant, "unknown lane action kind", map[string]any{"kind": a.Kind})
	}
}

// evaluate runs the end-of-turn quality checks (spec §2: "evaluator emits
// quality signals ... as proposals for the next turn"): commitment expiry
// and lane lease expiry both surface as GateRequest proposals carried
// forward into d.pending rather than acted on immediately, since acting on
// them is the next turn's arbiter's job.
func (d *Driver) evaluate() {
	d.commitment.Tick()
	if p, ok := d.commitment.CheckExpiry(); ok {
		d.pending = append(d.pending, p)
	}

	for _, l := range d.lanes.CheckExpiredLeases() {
		d.pending = append(d.pending, proposal.Proposal{
			Kind:   proposal.KindGateRequest,
			Source: proposal.SourcePerception,
			GateRequest: &proposal.GateRequest{
				Gate:     "evaluation",
				Reason:   "lane " + l.ID + " lease expired",
				Severity: proposal.SeverityMedium,
			},
		})
	}
}
