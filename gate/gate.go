// Package gate implements the Gate Controller (spec §4.3): the sole
// arbiter of authority. It is the only component permitted to drive the
// Stance Machine and the Commitment Manager; every attempt, successful or
// denied, is recorded to History and to the Episodic Trace.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/ctrlplane/kernel/commitment"
	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/proposal"
	"github.com/ctrlplane/kernel/stance"
	"github.com/ctrlplane/kernel/telemetry"
	"github.com/ctrlplane/kernel/trace"
)

// Kind enumerates every gate checkpoint in the kernel (spec §3). Framing,
// Commitment, Evaluation, and Emergency drive stance transitions; the
// remaining three are checkpoints owned by other components (policy's
// write-approval, the lane store's lane-switch, and work declaration before
// a commitment is framed) that still flow through Attempt so they share one
// audit trail.
type Kind string

const (
	Framing          Kind = "framing"
	Commitment       Kind = "commitment"
	Evaluation       Kind = "evaluation"
	Emergency        Kind = "emergency"
	WriteApproval    Kind = "write_approval"
	LaneSwitch       Kind = "lane_switch"
	WorkDeclaration  Kind = "work_declaration"
)

func (k Kind) stanceGate() (stance.GateKind, bool) {
	switch k {
	case Framing:
		return stance.Framing, true
	case Commitment:
		return stance.Commitment, true
	case Evaluation:
		return stance.Evaluation, true
	case Emergency:
		return stance.Emergency, true
	default:
		return "", false
	}
}

// Result captures the outcome of a single gate attempt (success or denial).
type Result struct {
	Kind       Kind
	Reason     string
	Approved   bool
	FromStance stance.Stance
	ToStance   stance.Stance
	Err        error
	At         time.Time
}

// Controller is the sole arbiter of authority state. Construct with New,
// passing the components it is permitted to mutate.
type Controller struct {
	stance     *stance.Machine
	commitment *commitment.Manager
	trace      *trace.Trace
	tel        telemetry.Ports

	cooldownTurns     int
	cooldownRemaining int
	defaultLeaseTurns int

	history    []Result
	historyCap int
}

// Option configures a new Controller.
type Option func(*Controller)

// WithTelemetry wires logging/metrics/tracing ports.
func WithTelemetry(p telemetry.Ports) Option {
	return func(c *Controller) { c.tel = p.WithDefaults() }
}

// WithHistoryCap bounds the in-memory gate-attempt history ring (default 200).
func WithHistoryCap(n int) Option {
	return func(c *Controller) { c.historyCap = n }
}

// WithDefaultLeaseTurns sets the turn count the Emergency gate resets the
// active commitment's clock to (spec §4.3: "resets commitment clock but
// does not clear commitment"). Defaults to the cooldown window's length if
// unset.
func WithDefaultLeaseTurns(n int) Option {
	return func(c *Controller) { c.defaultLeaseTurns = n }
}

// New constructs a Controller. cooldownTurns is the Emergency gate's
// cooldown window (spec §4.1, default 3 per spec §6).
func New(sm *stance.Machine, cm *commitment.Manager, tr *trace.Trace, cooldownTurns int, opts ...Option) *Controller {
	c := &Controller{
		stance:     sm,
		commitment: cm,
		trace:      tr,
		tel:        telemetry.Ports{}.WithDefaults(),
		historyCap: 200,

		cooldownTurns: cooldownTurns,
	}
	for _, o := range opts {
		o(c)
	}
	if c.defaultLeaseTurns == 0 {
		c.defaultLeaseTurns = cooldownTurns
	}
	return c
}

// History returns the most recent gate attempts, oldest first, bounded by
// the configured cap.
func (c *Controller) History() []Result {
	out := make([]Result, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) record(r Result) {
	c.history = append(c.history, r)
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
	payload := map[string]any{
		"kind":     string(r.Kind),
		"reason":   r.Reason,
		"approved": r.Approved,
		"from":     string(r.FromStance),
		"to":       string(r.ToStance),
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
	}
	ctx := context.Background()
	if _, err := c.trace.Log("gate_attempt", payload, "", nil); err != nil {
		c.tel.Logger.Error(ctx, "failed to record gate_attempt", "err", err)
	}
	if _, ok := r.Kind.stanceGate(); ok && r.Approved {
		change := map[string]any{
			"from":   string(r.FromStance),
			"to":     string(r.ToStance),
			"gate":   string(r.Kind),
			"reason": r.Reason,
		}
		if _, err := c.trace.Log("stance_change", change, "", nil); err != nil {
			c.tel.Logger.Error(ctx, "failed to record stance_change", "err", err)
		}
	}
	if r.Approved {
		c.tel.Logger.Info(ctx, "gate approved", "kind", r.Kind, "to", r.ToStance)
		c.tel.Metrics.IncCounter("kernel.gate.approved", 1, "kind", string(r.Kind))
	} else {
		c.tel.Logger.Warn(ctx, "gate denied", "kind", r.Kind, "reason", r.Reason)
		c.tel.Metrics.IncCounter("kernel.gate.denied", 1, "kind", string(r.Kind))
	}
}

func defaultTarget(sg stance.GateKind, current stance.Stance) stance.Stance {
	switch sg {
	case stance.Framing:
		return stance.Discovery
	case stance.Commitment:
		return stance.Execution
	case stance.Evaluation:
		if current == stance.Evaluation {
			return stance.Execution
		}
		return stance.Evaluation
	case stance.Emergency:
		return stance.Sensemaking
	default:
		return current
	}
}

// AttemptGate tries a non-emergency stance-affecting gate. target, if
// empty, uses the gate's documented default (spec §4.1).
func (c *Controller) AttemptGate(kind Kind, target stance.Stance, reason string) (Result, error) {
	if kind == Emergency {
		return c.AttemptEmergency(reason)
	}
	sg, ok := kind.stanceGate()
	if !ok {
		return c.attemptCheckpoint(kind, reason)
	}

	from := c.stance.Current()
	if target == "" {
		target = defaultTarget(sg, from)
	}

	err := c.stance.Transition(target, sg, reason)
	res := Result{Kind: kind, Reason: reason, FromStance: from, ToStance: target, At: time.Now().UTC()}
	if err != nil {
		res.Err = err
		c.record(res)
		return res, err
	}
	if kind == Commitment {
		c.commitment.AuthorizeCreate()
	}
	if kind == Evaluation {
		c.commitment.AuthorizeClear()
	}
	res.Approved = true
	c.record(res)
	return res, nil
}

// attemptCheckpoint handles WriteApproval/LaneSwitch/WorkDeclaration, which
// never touch stance. It always records the attempt as approved; callers
// that need to record a denial use RecordCheckpoint instead.
func (c *Controller) attemptCheckpoint(kind Kind, reason string) (Result, error) {
	from := c.stance.Current()
	res := Result{Kind: kind, Reason: reason, FromStance: from, ToStance: from, Approved: true, At: time.Now().UTC()}
	c.record(res)
	return res, nil
}

// RecordCheckpoint lets other authoritative components (policy's
// write-approval gate, the lane store's lane-switch gate) record their own
// approve/deny decision for kinds that don't map to a stance transition,
// keeping every gate's audit trail in one place.
func (c *Controller) RecordCheckpoint(kind Kind, reason string, approved bool) Result {
	from := c.stance.Current()
	res := Result{Kind: kind, Reason: reason, FromStance: from, ToStance: from, Approved: approved, At: time.Now().UTC()}
	if !approved {
		res.Err = kernelerr.New(kernelerr.GateDenied, reason, map[string]any{"kind": string(kind)})
	}
	c.record(res)
	return res
}

// AttemptEmergency tries the Emergency gate. Honored only if the cooldown
// has been satisfied; forces Sensemaking, resets (but does not clear) the
// commitment clock, and restarts the cooldown (spec §4.1, §4.3).
func (c *Controller) AttemptEmergency(reason string) (Result, error) {
	from := c.stance.Current()
	if c.cooldownRemaining > 0 {
		err := kernelerr.New(kernelerr.GateDenied,
			fmt.Sprintf("emergency gate on cooldown, %d turns remaining", c.cooldownRemaining),
			map[string]any{"cooldown_remaining": c.cooldownRemaining})
		res := Result{Kind: Emergency, Reason: reason, FromStance: from, ToStance: from, Err: err, At: time.Now().UTC()}
		c.record(res)
		return res, err
	}

	if err := c.stance.Transition(stance.Sensemaking, stance.Emergency, reason); err != nil {
		res := Result{Kind: Emergency, Reason: reason, FromStance: from, ToStance: from, Err: err, At: time.Now().UTC()}
		c.record(res)
		return res, err
	}

	if _, ok := c.commitment.Current(); ok {
		// Emergency resets the clock but must not clear the commitment.
		c.commitment.ResetClock(c.defaultLeaseTurns)
	}

	c.cooldownRemaining = c.cooldownTurns
	res := Result{Kind: Emergency, Reason: reason, FromStance: from, ToStance: stance.Sensemaking, Approved: true, At: time.Now().UTC()}
	c.record(res)
	return res, nil
}

// Tick advances the emergency cooldown by one turn. Must be called exactly
// once per turn by the Turn Driver (spec §4.3).
func (c *Controller) Tick() {
	if c.cooldownRemaining > 0 {
		c.cooldownRemaining--
	}
}

// CooldownRemaining reports how many turns remain before the Emergency gate
// can be attempted again.
func (c *Controller) CooldownRemaining() int {
	return c.cooldownRemaining
}

// ProcessProposals evaluates buffered proposals in the order mandated by
// spec §4.3: at most one Emergency gate first (if any emergency-severity
// proposal is buffered), then the remaining GateRequest proposals grouped
// by source in priorityOrder, deduped by the buffer.
func (c *Controller) ProcessProposals(buf *proposal.Buffer, priorityOrder []string) []Result {
	var results []Result

	if emergencies := buf.EmergencyProposals(); len(emergencies) > 0 {
		first := emergencies[0]
		res, _ := c.AttemptEmergency(first.GateRequest.Reason)
		results = append(results, res)
	}

	for _, p := range buf.GetGateProposals(priorityOrder) {
		kind := Kind(p.GateRequest.Gate)
		var target stance.Stance
		if p.GateRequest.Target != "" {
			target = stance.Stance(p.GateRequest.Target)
		}
		res, _ := c.AttemptGate(kind, target, p.GateRequest.Reason)
		results = append(results, res)
	}
	return results
}
