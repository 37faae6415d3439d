// Package kernelerr defines the closed set of error kinds the governance
// kernel can produce. Policy outcomes are values, never exceptions: every
// denial, budget exhaustion, or invariant rejection is returned as an *Error
// carrying a stable Code a caller can switch on.
package kernelerr

import "fmt"

// Code enumerates the error kinds a kernel component can raise. Values match
// the "Kind" column of spec §7 verbatim.
type Code string

const (
	InvalidTransition Code = "invalid_transition"
	GateDenied        Code = "gate_denied"
	FirewallViolation Code = "firewall_violation"
	UnauthorizedTool  Code = "unauthorized_tool"
	MissingScopes     Code = "missing_scopes"
	BudgetExceeded    Code = "budget_exceeded"
	ApprovalRequired  Code = "approval_required"
	ConnectorError    Code = "connector_error"
	AgentTimeout      Code = "agent_timeout"
	AgentViolation    Code = "agent_violation"
	WriteDenied       Code = "write_denied"
	LaneInvariant     Code = "lane_invariant"
	Unauthorized      Code = "unauthorized"
)

// Error is the concrete error value returned by kernel components. Reason is
// a human-readable explanation safe to show a user for advisory-layer
// errors; Meta carries structured context (e.g. lane_id, tool_id) for audit
// and logging without requiring callers to parse Reason.
type Error struct {
	Code   Code
	Reason string
	Meta   map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// New constructs an *Error with the given code and reason.
func New(code Code, reason string, meta map[string]any) *Error {
	return &Error{Code: code, Reason: reason, Meta: meta}
}

// Is reports whether err is a *Error with the given code, so callers can use
// errors.Is-style checks without importing this package's struct shape.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e != nil && e.Code == code
}
