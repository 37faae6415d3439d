// Package delegation implements the Delegation Manager (spec §4.10):
// capability leases, the only mechanism by which non-kernel code may invoke
// a capability. Accessed only from the turn loop (spec §5); no internal
// locking.
package delegation

import (
	"time"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/proposal"
)

// Lease is a capability grant (spec glossary).
type Lease struct {
	Grantee      string
	Scope        map[string]struct{}
	ExpiresTurns int
	CreatedAt    time.Time
}

// Summary reports the current set of active leases, keyed by grantee.
type Summary map[string]Lease

// Manager tracks capability leases and their per-turn decay.
type Manager struct {
	leases map[string]*Lease // grantee -> lease
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{leases: map[string]*Lease{}}
}

// Grant records a new (or replaces an existing) lease for grantee.
func (m *Manager) Grant(grantee string, scope map[string]struct{}, expiresTurns int) Lease {
	l := &Lease{Grantee: grantee, Scope: cloneScope(scope), ExpiresTurns: expiresTurns, CreatedAt: time.Now().UTC()}
	m.leases[grantee] = l
	return *l
}

// Revoke removes capability from grantee's lease. When capability is empty,
// the entire lease is dropped.
func (m *Manager) Revoke(grantee, capability string) {
	l, ok := m.leases[grantee]
	if !ok {
		return
	}
	if capability == "" {
		delete(m.leases, grantee)
		return
	}
	delete(l.Scope, capability)
	if len(l.Scope) == 0 {
		delete(m.leases, grantee)
	}
}

// Check reports whether grantee currently holds an active lease granting
// capability.
func (m *Manager) Check(grantee, capability string) bool {
	l, ok := m.leases[grantee]
	if !ok {
		return false
	}
	_, granted := l.Scope[capability]
	return granted
}

// AttemptResult is returned by Attempt: either the capability was authorized
// or a Framing-gate proposal is raised so the user/authority can grant it
// (spec §4.10).
type AttemptResult struct {
	Authorized  bool
	Err         *kernelerr.Error
	GateRequest *proposal.Proposal
}

// Attempt checks grantee's authorization for capability. On failure it
// returns both an `unauthorized` error and a low-severity Framing gate
// proposal, matching spec §4.10 verbatim.
func (m *Manager) Attempt(grantee, capability string) AttemptResult {
	if m.Check(grantee, capability) {
		return AttemptResult{Authorized: true}
	}
	prop := proposal.Proposal{
		Kind:   proposal.KindGateRequest,
		Source: proposal.SourceAgent,
		GateRequest: &proposal.GateRequest{
			Gate:     "framing",
			Reason:   "capability " + capability + " requested by " + grantee + " without an active lease",
			Severity: proposal.SeverityLow,
		},
	}
	return AttemptResult{
		Authorized: false,
		Err:        kernelerr.New(kernelerr.Unauthorized, "capability not granted", map[string]any{"grantee": grantee, "capability": capability}),
		GateRequest: &prop,
	}
}

// Tick decrements ExpiresTurns on every lease, dropping any that reach 0.
func (m *Manager) Tick() {
	for grantee, l := range m.leases {
		l.ExpiresTurns--
		if l.ExpiresTurns <= 0 {
			delete(m.leases, grantee)
		}
	}
}

// GetSummary returns a defensive-copy snapshot of all active leases.
func (m *Manager) GetSummary() Summary {
	out := make(Summary, len(m.leases))
	for grantee, l := range m.leases {
		out[grantee] = Lease{Grantee: l.Grantee, Scope: cloneScope(l.Scope), ExpiresTurns: l.ExpiresTurns, CreatedAt: l.CreatedAt}
	}
	return out
}

func cloneScope(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}
