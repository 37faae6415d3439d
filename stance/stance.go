// Package stance implements the Stance Machine (spec §4.1): the sole owner
// of the kernel's current authority mode. No other component may mutate
// stance directly; every successful transition is recorded to the Episodic
// Trace by the caller (the Gate Controller), never by the machine itself,
// keeping the state machine free of a back-reference to trace.Trace (spec
// §9's ownership note).
package stance

import (
	"fmt"

	"github.com/ctrlplane/kernel/kernelerr"
)

// Stance is the kernel's current authority mode. Exactly one is current.
type Stance string

const (
	Sensemaking Stance = "sensemaking"
	Discovery   Stance = "discovery"
	Execution   Stance = "execution"
	Evaluation  Stance = "evaluation"
)

// GateKind enumerates the kernel gates that can request a stance
// transition. WriteApproval, LaneSwitch, and WorkDeclaration gates never
// touch stance, so they are not columns in the transition table.
type GateKind string

const (
	Framing    GateKind = "framing"
	Commitment GateKind = "commitment"
	Evaluation GateKind = "evaluation"
	Emergency  GateKind = "emergency"
)

// transitions is the table from spec §4.1: rows are the current stance,
// columns are the gate kind, cells list the permitted target stances.
var transitions = map[Stance]map[GateKind][]Stance{
	Sensemaking: {
		Framing:    {Sensemaking, Discovery},
		Commitment: {Execution},
		Evaluation: {Evaluation},
		Emergency:  {Sensemaking},
	},
	Discovery: {
		Framing:    {Sensemaking, Discovery},
		Commitment: {Execution},
		Evaluation: {Evaluation},
		Emergency:  {Sensemaking},
	},
	Execution: {
		Framing:    {Sensemaking, Discovery},
		Commitment: {Execution},
		Evaluation: {Evaluation},
		Emergency:  {Sensemaking},
	},
	Evaluation: {
		Framing:    {Sensemaking, Discovery},
		Commitment: {Execution},
		Evaluation: {Sensemaking, Execution},
		Emergency:  {Sensemaking},
	},
}

// Machine is the sole owner of the current stance. Construct with New; the
// zero value is not usable.
type Machine struct {
	current Stance
}

// New constructs a Machine initialized to Sensemaking, per spec §3.
func New() *Machine {
	return &Machine{current: Sensemaking}
}

// Current returns the stance currently in effect.
func (m *Machine) Current() Stance {
	return m.current
}

// Permitted reports the targets a gate of the given kind may move to from
// the current stance, and whether that gate kind is valid from here at all.
func (m *Machine) Permitted(gate GateKind) ([]Stance, bool) {
	row, ok := transitions[m.current]
	if !ok {
		return nil, false
	}
	targets, ok := row[gate]
	return targets, ok
}

// Transition attempts to move the machine to target via the named gate.
// Returns kernelerr.InvalidTransition if target is not a permitted cell for
// (current, gate). The caller is responsible for emitting the
// stance_change trace record on success (spec §4.1).
func (m *Machine) Transition(target Stance, gate GateKind, reason string) error {
	targets, ok := m.Permitted(gate)
	if !ok {
		return kernelerr.New(kernelerr.InvalidTransition,
			fmt.Sprintf("gate %q is not valid from stance %q", gate, m.current),
			map[string]any{"from": m.current, "gate": gate})
	}
	for _, t := range targets {
		if t == target {
			m.current = target
			return nil
		}
	}
	return kernelerr.New(kernelerr.InvalidTransition,
		fmt.Sprintf("stance %q is not a permitted target of gate %q from %q", target, gate, m.current),
		map[string]any{"from": m.current, "to": target, "gate": gate, "reason": reason})
}
