// Package policy implements the Policy Decision Point (spec §4.6): a pure
// function from a tool invocation request, its spec, and the caller's
// context to an allow/deny decision. The PDP never executes anything and
// never calls out to storage — Evaluate is the single function a reviewer
// needs to read to understand every authorization rule the kernel enforces.
package policy

import (
	"sort"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/toolspec"
)

// Request is one tool invocation request under evaluation.
type Request struct {
	ProposalID string
	ToolID     string
	Args       map[string]any
}

// Context carries everything the PDP needs beyond the request and spec
// (spec §4.6). EmotionalSignals is metadata only: Evaluate reads every other
// field but must never branch on it.
type Context struct {
	GrantedScopes        map[string]struct{}
	LaneMaxToolsPerTurn  int
	ToolRequestsThisTurn int
	PendingApprovals     map[string]struct{}
	WriteApprovalGranted bool
	DeniedTools          map[string]struct{}
	DeniedPathPrefixes   []string
	EmotionalSignals     map[string]any
}

// Decision is the PDP's verdict.
type Decision struct {
	Allowed       bool
	Reason        string
	NeedsApproval bool
	Obligations   []string
	Err           *kernelerr.Error
}

// Evaluate runs the ordered checks from spec §4.6, short-circuiting on the
// first denial. spec is nil when the tool is unknown.
func Evaluate(req Request, spec *toolspec.ToolSpec, ctx Context) Decision {
	if spec == nil {
		return deny(kernelerr.New(kernelerr.GateDenied, "unknown_tool", map[string]any{"tool_id": req.ToolID}))
	}

	for scope := range spec.RequiredScopes {
		if _, ok := ctx.GrantedScopes[scope]; !ok {
			return deny(kernelerr.New(kernelerr.MissingScopes, "missing_scopes", map[string]any{
				"tool_id": req.ToolID, "scope": scope,
			}))
		}
	}

	if ctx.LaneMaxToolsPerTurn > 0 && ctx.ToolRequestsThisTurn >= ctx.LaneMaxToolsPerTurn {
		return deny(kernelerr.New(kernelerr.BudgetExceeded, "tool_requests_this_turn exceeds lane budget", map[string]any{
			"tool_id": req.ToolID,
		}))
	}

	if spec.SideEffect == toolspec.SideEffectWrite {
		_, preApproved := ctx.PendingApprovals[req.ToolID]
		if !ctx.WriteApprovalGranted && !preApproved {
			return Decision{
				Allowed: false, NeedsApproval: true,
				Reason:      "write tool requires approval",
				Obligations: []string{"approval_required"},
				Err: kernelerr.New(kernelerr.ApprovalRequired, "approval_required", map[string]any{
					"tool_id": req.ToolID,
				}),
			}
		}
	}

	if spec.SideEffect == toolspec.SideEffectNetwork || spec.SideEffect == toolspec.SideEffectExternal {
		return deny(kernelerr.New(kernelerr.GateDenied, "network/external tools are reserved for later", map[string]any{
			"tool_id": req.ToolID,
		}))
	}

	if _, denied := ctx.DeniedTools[req.ToolID]; denied {
		return deny(kernelerr.New(kernelerr.GateDenied, "tool denied by constitution rule", map[string]any{
			"tool_id": req.ToolID,
		}))
	}
	for _, prefix := range ctx.DeniedPathPrefixes {
		if path, ok := req.Args["path"].(string); ok && hasPrefix(path, prefix) {
			return deny(kernelerr.New(kernelerr.GateDenied, "path denied by constitution rule", map[string]any{
				"tool_id": req.ToolID, "path": path,
			}))
		}
	}

	return Decision{Allowed: true, Reason: "allowed", Obligations: []string{"audit"}}
}

// EvaluateBatch evaluates requests in proposal_id lexical order (spec §4.6's
// determinism requirement) and threads tool_requests_this_turn across the
// batch so later requests see earlier allows.
func EvaluateBatch(reqs []Request, specs map[string]*toolspec.ToolSpec, ctx Context) []Decision {
	ordered := make([]Request, len(reqs))
	copy(ordered, reqs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProposalID < ordered[j].ProposalID })

	decisions := make([]Decision, len(ordered))
	for i, req := range ordered {
		d := Evaluate(req, specs[req.ToolID], ctx)
		decisions[i] = d
		if d.Allowed {
			ctx.ToolRequestsThisTurn++
		}
	}
	return decisions
}

func deny(err *kernelerr.Error) Decision {
	return Decision{Allowed: false, Reason: err.Reason, Err: err}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
