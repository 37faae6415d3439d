// Package orchestrator implements the MapReduce Orchestrator (spec §4.11):
// it fans agent invocations out to a bounded worker pool, validates each
// output against the inlined firewall checks, and reduces the surviving
// outputs into a single packet. It is the only source of intra-turn
// parallelism (spec §5).
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ctrlplane/kernel/agent"
	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/proposal"
)

// AgentProcessor invokes one agent with the given context and returns its
// packet. Implementations should honor ctx cancellation promptly so the
// parallel Map phase can abandon outstanding calls on timeout.
type AgentProcessor func(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error)

// ReducerKind selects one of the four reduce strategies (spec §4.11).
type ReducerKind string

const (
	ReducerPassThrough ReducerKind = "pass_through"
	ReducerMerge       ReducerKind = "merge"
	ReducerVote        ReducerKind = "vote"
	ReducerSynthesize  ReducerKind = "synthesize"
)

// MergeStrategy selects how Merge combines packet content.
type MergeStrategy string

const (
	MergeConcatenate MergeStrategy = "concatenate"
	MergeDedupe      MergeStrategy = "dedupe"
	MergeSelectBest  MergeStrategy = "select_best"
)

// VoteTiebreak selects what Vote does when no bucket reaches the threshold.
type VoteTiebreak string

const (
	VoteTiebreakFirst    VoteTiebreak = "first"
	VoteTiebreakEscalate VoteTiebreak = "escalate"
)

// SynthesisFunc is an injected port invoked by the Synthesize reducer. It
// receives all surviving outputs in invocation order (alphabetical agent_id
// for parallel runs, the caller's order for serial chains) and returns the
// synthesized packet. It is not itself invoked
// recursively by the Orchestrator.
type SynthesisFunc func(outputs []agent.Packet) (agent.Packet, error)

// ReducerConfig parameterizes the Reduce phase.
type ReducerConfig struct {
	Kind          ReducerKind
	Merge         MergeStrategy
	VoteThreshold float64
	VoteTiebreak  VoteTiebreak
	Synthesize    SynthesisFunc
}

// Budgets caps orchestration scale (spec §4.11).
type Budgets struct {
	MaxAgents         int // panel: cap on |agents|
	MaxChainDepth     int // chain: cap on serial invocation depth
	MaxProposalsTotal int // enforced at reduce
	MaxWorkers        int // bounded worker pool size for parallel Map
	TimeoutMS         int // wall-clock timeout across all agents in parallel Map
}

// DefaultBudgets mirrors spec §6's documented defaults.
func DefaultBudgets() Budgets {
	return Budgets{MaxAgents: 8, MaxChainDepth: 8, MaxProposalsTotal: 20, MaxWorkers: 4, TimeoutMS: 30000}
}

// Result is the outcome of Execute.
type Result struct {
	FinalPacket   agent.Packet
	AgentsInvoked []string // invocation order: alphabetical when parallel, caller's order when serial
	Proposals     []proposal.Proposal
	Err           *kernelerr.Error
}

// Orchestrator runs the Map/Validate/Reduce pipeline over agents.
type Orchestrator struct {
	budgets Budgets
}

// New constructs an Orchestrator. A zero-value field in budgets is replaced
// with its DefaultBudgets() counterpart.
func New(budgets Budgets) *Orchestrator {
	d := DefaultBudgets()
	if budgets.MaxAgents <= 0 {
		budgets.MaxAgents = d.MaxAgents
	}
	if budgets.MaxChainDepth <= 0 {
		budgets.MaxChainDepth = d.MaxChainDepth
	}
	if budgets.MaxProposalsTotal <= 0 {
		budgets.MaxProposalsTotal = d.MaxProposalsTotal
	}
	if budgets.MaxWorkers <= 0 {
		budgets.MaxWorkers = d.MaxWorkers
	}
	if budgets.TimeoutMS <= 0 {
		budgets.TimeoutMS = d.TimeoutMS
	}
	return &Orchestrator{budgets: budgets}
}

type mapOutput struct {
	agentID string
	packet  agent.Packet
	err     error
}

// Execute runs Map, Validate, then Reduce over agentIDs.
func (o *Orchestrator) Execute(ctx context.Context, agentIDs []string, processor AgentProcessor, actx agent.Context, parallel bool, reducer ReducerConfig) Result {
	ids := make([]string, len(agentIDs))
	copy(ids, agentIDs)
	// Panel (parallel) orchestration sorts agent_ids alphabetically so the
	// merge is deterministic regardless of completion order; chain (serial)
	// orchestration preserves caller-specified sequence, since order is the
	// whole point of a chain.
	if parallel {
		sort.Strings(ids)
	}

	if len(ids) > o.budgets.MaxAgents {
		ids = ids[:o.budgets.MaxAgents]
	}
	if !parallel && len(ids) > o.budgets.MaxChainDepth {
		ids = ids[:o.budgets.MaxChainDepth]
	}

	var (
		outputs []mapOutput
		err     *kernelerr.Error
	)
	if parallel && len(ids) > 1 {
		outputs, err = o.mapParallel(ctx, ids, processor, actx)
	} else {
		outputs = o.mapSerial(ctx, ids, processor, actx)
	}
	if err != nil {
		return Result{AgentsInvoked: ids, Err: err}
	}

	valid, verr := validateOutputs(outputs)
	if verr != nil {
		return Result{AgentsInvoked: ids, Err: verr}
	}

	final, proposals, rerr := o.reduce(valid, reducer)
	if rerr != nil {
		return Result{AgentsInvoked: ids, Err: rerr}
	}
	return Result{FinalPacket: final, AgentsInvoked: ids, Proposals: proposals}
}

// mapSerial invokes agents one at a time, threading each output as the next
// invocation's previous_output (spec §4.11 step 1).
func (o *Orchestrator) mapSerial(ctx context.Context, ids []string, processor AgentProcessor, actx agent.Context) []mapOutput {
	outputs := make([]mapOutput, 0, len(ids))
	prev := actx.PreviousOutput
	for _, id := range ids {
		callCtx := actx
		callCtx.PreviousOutput = prev
		pkt, err := processor(ctx, id, callCtx)
		outputs = append(outputs, mapOutput{agentID: id, packet: pkt, err: err})
		if err == nil {
			p := pkt
			prev = &p
		}
	}
	return outputs
}

// mapParallel invokes agents concurrently bounded by MaxWorkers, aborting
// outstanding calls once TimeoutMS elapses. A per-agent exception is
// captured as an error-tagged output rather than failing the whole phase;
// a timeout discards whatever has not yet completed and surfaces
// agent_timeout.
func (o *Orchestrator) mapParallel(ctx context.Context, ids []string, processor AgentProcessor, actx agent.Context) ([]mapOutput, *kernelerr.Error) {
	timeout := time.Duration(o.budgets.TimeoutMS) * time.Millisecond
	groupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(groupCtx)
	g.SetLimit(o.budgets.MaxWorkers)

	results := make(chan mapOutput, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			pkt, err := processor(gctx, id, actx)
			select {
			case results <- mapOutput{agentID: id, packet: pkt, err: err}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
		close(results)
	}()

	var outputs []mapOutput
	for {
		select {
		case out, ok := <-results:
			if !ok {
				sortByAgentID(outputs)
				return outputs, nil
			}
			outputs = append(outputs, out)
		case <-groupCtx.Done():
			<-done
			sortByAgentID(outputs)
			return outputs, kernelerr.New(kernelerr.AgentTimeout, "parallel map wall-clock timeout exceeded", map[string]any{
				"completed": len(outputs), "total": len(ids),
			})
		}
	}
}

func sortByAgentID(outputs []mapOutput) {
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].agentID < outputs[j].agentID })
}

// decisionStyleMarkers flags content that claims decision authority an
// advisory agent must never hold (spec §4.11 step 2: contains_decision()).
var decisionStyleMarkers = []string{
	"final decision:",
	"i decide",
	"the gate is now",
	"stance transitions to",
	"commitment is now force",
}

func containsDecision(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range decisionStyleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// validateOutputs applies is_valid_packet() and contains_decision() to every
// successful output (error-tagged outputs pass through untouched; the
// reducer decides what to do with them). Any violation fails the whole
// turn with agent_violation, per spec §4.11.
func validateOutputs(outputs []mapOutput) ([]mapOutput, *kernelerr.Error) {
	for _, out := range outputs {
		if out.err != nil {
			continue
		}
		if out.packet.AgentID == "" {
			return nil, kernelerr.New(kernelerr.AgentViolation, "agent output missing agent_id", map[string]any{"agent_id": out.agentID})
		}
		if containsDecision(out.packet.Message) {
			return nil, kernelerr.New(kernelerr.AgentViolation, "agent output contains decision-style content", map[string]any{"agent_id": out.agentID})
		}
	}
	return outputs, nil
}

func (o *Orchestrator) reduce(outputs []mapOutput, cfg ReducerConfig) (agent.Packet, []proposal.Proposal, *kernelerr.Error) {
	ok := make([]agent.Packet, 0, len(outputs))
	for _, out := range outputs {
		if out.err == nil {
			ok = append(ok, out.packet)
		}
	}

	proposals := o.collectProposals(ok)

	var (
		final agent.Packet
		rerr  *kernelerr.Error
	)
	switch cfg.Kind {
	case ReducerMerge:
		final = reduceMerge(ok, cfg.Merge)
	case ReducerVote:
		final, rerr = reduceVote(ok, cfg.VoteThreshold, cfg.VoteTiebreak)
	case ReducerSynthesize:
		final, rerr = reduceSynthesize(ok, cfg.Synthesize)
	default:
		final = reducePassThrough(ok)
	}
	if rerr != nil {
		return agent.Packet{}, nil, rerr
	}
	final.Proposals = proposals
	return final, proposals, nil
}

func reducePassThrough(outputs []agent.Packet) agent.Packet {
	if len(outputs) == 0 {
		return agent.Packet{}
	}
	return outputs[len(outputs)-1]
}

func reduceMerge(outputs []agent.Packet, strategy MergeStrategy) agent.Packet {
	if len(outputs) == 0 {
		return agent.Packet{}
	}
	switch strategy {
	case MergeSelectBest:
		best := outputs[0]
		for _, o := range outputs[1:] {
			if o.Confidence > best.Confidence {
				best = o
			}
		}
		return best
	case MergeDedupe:
		seen := map[string]struct{}{}
		var parts []string
		var confSum float64
		for _, o := range outputs {
			confSum += o.Confidence
			if _, dup := seen[o.Message]; dup {
				continue
			}
			seen[o.Message] = struct{}{}
			if o.Message != "" {
				parts = append(parts, o.Message)
			}
		}
		return agent.Packet{AgentID: "merge", Message: strings.Join(parts, "\n"), Confidence: confSum / float64(len(outputs))}
	default: // MergeConcatenate
		var parts []string
		var confSum float64
		for _, o := range outputs {
			confSum += o.Confidence
			if o.Message != "" {
				parts = append(parts, o.Message)
			}
		}
		return agent.Packet{AgentID: "merge", Message: strings.Join(parts, "\n"), Confidence: confSum / float64(len(outputs))}
	}
}

func reduceVote(outputs []agent.Packet, threshold float64, tiebreak VoteTiebreak) (agent.Packet, *kernelerr.Error) {
	if len(outputs) == 0 {
		return agent.Packet{}, kernelerr.New(kernelerr.GateDenied, "vote reducer has no outputs to tally", nil)
	}
	type bucket struct {
		content string
		count   int
		first   agent.Packet
	}
	var order []string
	buckets := map[string]*bucket{}
	for _, o := range outputs {
		b, ok := buckets[o.Message]
		if !ok {
			b = &bucket{content: o.Message, first: o}
			buckets[o.Message] = b
			order = append(order, o.Message)
		}
		b.count++
	}
	total := len(outputs)
	for _, content := range order {
		b := buckets[content]
		if float64(b.count)/float64(total) >= threshold {
			return b.first, nil
		}
	}
	switch tiebreak {
	case VoteTiebreakEscalate:
		return agent.Packet{}, kernelerr.New(kernelerr.AgentViolation, "vote reducer: no bucket reached threshold and tiebreaker is escalate", map[string]any{"threshold": threshold, "total": total})
	default: // VoteTiebreakFirst
		return outputs[0], nil
	}
}

func reduceSynthesize(outputs []agent.Packet, fn SynthesisFunc) (agent.Packet, *kernelerr.Error) {
	if fn == nil {
		return agent.Packet{}, kernelerr.New(kernelerr.AgentViolation, "synthesize reducer requires a synthesis function", nil)
	}
	pkt, err := fn(outputs)
	if err != nil {
		return agent.Packet{}, kernelerr.New(kernelerr.AgentViolation, fmt.Sprintf("synthesis function failed: %v", err), nil)
	}
	return pkt, nil
}

// collectProposals unions proposals across all surviving outputs, dedupes
// by structural content (ignoring ID, which is always unique), and caps
// the result at MaxProposalsTotal (spec §4.11 "Orchestration budgets").
func (o *Orchestrator) collectProposals(outputs []agent.Packet) []proposal.Proposal {
	seen := map[string]struct{}{}
	var out []proposal.Proposal
	for _, pkt := range outputs {
		for _, p := range pkt.Proposals {
			key := proposalKey(p)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
			if len(out) >= o.budgets.MaxProposalsTotal {
				return out
			}
		}
	}
	return out
}

func proposalKey(p proposal.Proposal) string {
	switch p.Kind {
	case proposal.KindGateRequest:
		if p.GateRequest != nil {
			return fmt.Sprintf("gate:%s:%s:%s", p.GateRequest.Gate, p.GateRequest.Target, p.GateRequest.Severity)
		}
	case proposal.KindToolRequest:
		if p.ToolRequest != nil {
			return fmt.Sprintf("tool:%s:%v", p.ToolRequest.ToolID, p.ToolRequest.Args)
		}
	case proposal.KindLaneAction:
		if p.LaneAction != nil {
			return fmt.Sprintf("lane:%s:%v", p.LaneAction.Kind, p.LaneAction.Payload)
		}
	case proposal.KindContrastReport:
		if p.ContrastReport != nil {
			return fmt.Sprintf("contrast:%s:%s", p.ContrastReport.GapSeverity, p.ContrastReport.Description)
		}
	case proposal.KindPerceptionSignal:
		if p.PerceptionSignal != nil {
			return fmt.Sprintf("perception:%s:%v", p.PerceptionSignal.Kind, p.PerceptionSignal.Payload)
		}
	}
	return fmt.Sprintf("%s:%s", p.Kind, p.Source)
}
