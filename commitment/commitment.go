// Package commitment implements the Commitment Manager (spec §4.2): at most
// one active Lease, created only by the Gate Controller on a successful
// Commitment transition and cleared only by Evaluation or Emergency gates.
package commitment

import (
	"fmt"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/proposal"
)

// Horizon categorizes how far out a commitment's frame looks.
type Horizon string

const (
	Near Horizon = "near"
	Mid  Horizon = "mid"
	Far  Horizon = "far"
)

// Lease is the active commitment: a leased focus bounded by turns, with
// success criteria and non-goals that are advisory to the Executor, never
// enforced by the kernel (spec §4.2).
type Lease struct {
	Frame           string
	Horizon         Horizon
	SuccessCriteria []string
	NonGoals        []string
	TurnsRemaining  int
	RenewalPrompt   string
}

// Manager owns the single active Lease, if any.
type Manager struct {
	lease *Lease
	// createAuthorized and clearAuthorized are one-shot permissions set by
	// the Gate Controller through AuthorizeCreate/AuthorizeClear after a
	// successful gate transition; Create and Expire fail unless the matching
	// flag is set, and consume it.
	createAuthorized bool
	clearAuthorized  bool
}

// New constructs an empty Manager (no active lease).
func New() *Manager {
	return &Manager{}
}

// Current returns the active lease and whether one exists.
func (m *Manager) Current() (Lease, bool) {
	if m.lease == nil {
		return Lease{}, false
	}
	return *m.lease, true
}

// AuthorizeCreate flips a one-shot permission allowing the next Create call
// to succeed. Called by the Gate Controller immediately after a successful
// Commitment gate transition.
func (m *Manager) AuthorizeCreate() { m.createAuthorized = true }

// AuthorizeClear flips a one-shot permission allowing the next Expire call
// to succeed. Called by the Gate Controller after an Evaluation or
// Emergency gate transition that should clear the commitment.
func (m *Manager) AuthorizeClear() { m.clearAuthorized = true }

// Create installs a new active lease. Fails with kernelerr.Unauthorized
// unless AuthorizeCreate was called since the last Create/Expire.
func (m *Manager) Create(frame string, horizon Horizon, criteria, nonGoals []string, turns int) (Lease, error) {
	if !m.createAuthorized {
		return Lease{}, kernelerr.New(kernelerr.Unauthorized,
			"commitment creation requires a successful Commitment gate transition", nil)
	}
	m.createAuthorized = false
	l := Lease{
		Frame:           frame,
		Horizon:         horizon,
		SuccessCriteria: append([]string(nil), criteria...),
		NonGoals:        append([]string(nil), nonGoals...),
		TurnsRemaining:  turns,
	}
	m.lease = &l
	return l, nil
}

// Renew adds turns to the active lease's remaining count. No-op if no
// lease is active.
func (m *Manager) Renew(turns int) {
	if m.lease != nil {
		m.lease.TurnsRemaining += turns
	}
}

// Expire clears the active lease. Fails with kernelerr.Unauthorized unless
// AuthorizeClear was called since the last Create/Expire.
func (m *Manager) Expire() error {
	if !m.clearAuthorized {
		return kernelerr.New(kernelerr.Unauthorized,
			"commitment expiry requires an Evaluation or Emergency gate transition", nil)
	}
	m.clearAuthorized = false
	m.lease = nil
	return nil
}

// ResetClock resets turns_remaining without clearing the lease, used by the
// Emergency gate (spec §4.3: "resets commitment clock but does not clear
// commitment").
func (m *Manager) ResetClock(turns int) {
	if m.lease != nil {
		m.lease.TurnsRemaining = turns
	}
}

// Tick decrements turns_remaining by exactly one while the lease is active
// and reports whether it remains active (> 0) afterward. No-op, returning
// false, if no lease is active.
func (m *Manager) Tick() bool {
	if m.lease == nil {
		return false
	}
	if m.lease.TurnsRemaining > 0 {
		m.lease.TurnsRemaining--
	}
	return m.lease.TurnsRemaining > 0
}

// CheckExpiry emits a GateRequest proposal (severity high, suggesting
// Evaluation) when the active lease's turns_remaining has just hit 0.
func (m *Manager) CheckExpiry() (proposal.Proposal, bool) {
	if m.lease == nil || m.lease.TurnsRemaining > 0 {
		return proposal.Proposal{}, false
	}
	return proposal.Proposal{
		Kind:   proposal.KindGateRequest,
		Source: proposal.SourceCommitmentExpiry,
		GateRequest: &proposal.GateRequest{
			Gate:     "evaluation",
			Reason:   fmt.Sprintf("commitment %q expired", m.lease.Frame),
			Severity: proposal.SeverityHigh,
		},
	}, true
}
