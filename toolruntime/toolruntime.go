// Package toolruntime implements the Tool Runtime (PEP, spec §4.7): it
// enforces Policy Decision Point verdicts and dispatches approved calls to a
// Connector, auditing every attempt regardless of outcome.
package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ctrlplane/kernel/kernelerr"
	"github.com/ctrlplane/kernel/policy"
	"github.com/ctrlplane/kernel/toolspec"
	"github.com/ctrlplane/kernel/trace"
)

// Connector is the sandboxed driver a tool's spec.Connector name resolves
// to (spec §6). Execute receives the last path segment of the tool ID as
// operation (e.g. "fs.read_file" -> "read_file").
type Connector interface {
	Name() string
	ValidateArgs(op string, args map[string]any) error
	Execute(ctx context.Context, op string, args map[string]any) (any, error)
}

// Result is returned for every invocation, successful or not.
type Result struct {
	OK          bool
	Value       any
	ExecutionMS int64
	AuditID     string
	Error       *kernelerr.Error
}

// Runtime wires tool specs, the PDP, and connectors together.
type Runtime struct {
	specs      map[string]*toolspec.ToolSpec
	connectors map[string]Connector
	trace      *trace.Trace
}

// New constructs a Runtime. tr is optional; when nil, audit events are not
// written to a trace (useful for unit tests of the pipeline in isolation).
func New(specs map[string]*toolspec.ToolSpec, connectors map[string]Connector, tr *trace.Trace) *Runtime {
	return &Runtime{specs: specs, connectors: connectors, trace: tr}
}

// Invoke runs the full pipeline from spec §4.7 for a single request.
func (r *Runtime) Invoke(ctx context.Context, req policy.Request, pctx policy.Context) Result {
	spec, ok := r.specs[req.ToolID]
	if !ok {
		return r.denyAudit(req, nil, pctx, kernelerr.New(kernelerr.GateDenied, "unknown_tool", map[string]any{"tool_id": req.ToolID}))
	}

	if err := validateArgsAgainstSchema(req.Args, spec.InputSchema); err != nil {
		return r.denyAudit(req, spec, pctx, kernelerr.New(kernelerr.GateDenied, fmt.Sprintf("invalid args: %v", err), map[string]any{"tool_id": req.ToolID}))
	}

	decision := policy.Evaluate(req, spec, pctx)
	if !decision.Allowed {
		code := kernelerr.GateDenied
		if decision.NeedsApproval {
			code = kernelerr.ApprovalRequired
		}
		return r.denyAudit(req, spec, pctx, kernelerr.New(code, decision.Reason, map[string]any{"tool_id": req.ToolID}))
	}

	connector, ok := r.connectors[spec.Connector]
	if !ok {
		return r.denyAudit(req, spec, pctx, kernelerr.New(kernelerr.ConnectorError, "connector not found: "+spec.Connector, map[string]any{"tool_id": req.ToolID}))
	}

	op := lastSegment(req.ToolID)
	start := time.Now()
	value, err := connector.Execute(ctx, op, req.Args)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return r.denyAudit(req, spec, pctx, kernelerr.New(kernelerr.ConnectorError, err.Error(), map[string]any{"tool_id": req.ToolID}))
	}

	auditID := r.audit(req, spec, pctx, true, "allowed", elapsed)
	return Result{OK: true, Value: value, ExecutionMS: elapsed, AuditID: auditID}
}

// InvokeWithApproval behaves like Invoke but forces WriteApprovalGranted
// when the caller supplies an explicit user approval for this call.
func (r *Runtime) InvokeWithApproval(ctx context.Context, req policy.Request, pctx policy.Context, userApproved bool) Result {
	if userApproved {
		pctx.WriteApprovalGranted = true
	}
	return r.Invoke(ctx, req, pctx)
}

// InvokeBatch evaluates requests via policy.EvaluateBatch ordering, then
// executes each allowed request through the normal pipeline, threading the
// per-turn tool-request counter across the batch.
func (r *Runtime) InvokeBatch(ctx context.Context, reqs []policy.Request, pctx policy.Context) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range sortedByProposalID(reqs) {
		res := r.Invoke(ctx, req, pctx)
		if res.OK {
			pctx.ToolRequestsThisTurn++
		}
		results = append(results, res)
	}
	return results
}

func (r *Runtime) denyAudit(req policy.Request, spec *toolspec.ToolSpec, pctx policy.Context, err *kernelerr.Error) Result {
	r.audit(req, spec, pctx, false, err.Reason, 0)
	return Result{OK: false, Error: err}
}

// audit emits the AuditEvent trace record for one invocation attempt.
// EmotionalSignals is copied verbatim from pctx into the record for
// downstream observability; the PDP decision above never read it.
func (r *Runtime) audit(req policy.Request, spec *toolspec.ToolSpec, pctx policy.Context, allowed bool, reason string, elapsedMS int64) string {
	auditID := uuid.NewString()
	if r.trace == nil {
		return auditID
	}
	decision := "Deny"
	if allowed {
		decision = "Allow"
	}
	connector := ""
	if spec != nil {
		connector = spec.Connector
	}
	eventType := "write_denied"
	if allowed {
		eventType = "write_completed"
	}
	_, _ = r.trace.Log(eventType, map[string]any{
		"audit_id":          auditID,
		"decision":          decision,
		"tool_id":           req.ToolID,
		"request_id":        req.ProposalID,
		"reason":            reason,
		"connector":         connector,
		"execution_ms":      elapsedMS,
		"emotional_signals": pctx.EmotionalSignals,
	}, "", nil)
	return auditID
}

func lastSegment(toolID string) string {
	idx := strings.LastIndex(toolID, ".")
	if idx < 0 {
		return toolID
	}
	return toolID[idx+1:]
}

func sortedByProposalID(reqs []policy.Request) []policy.Request {
	ordered := make([]policy.Request, len(reqs))
	copy(ordered, reqs)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].ProposalID < ordered[j-1].ProposalID; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}

func validateArgsAgainstSchema(args map[string]any, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	payloadJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	var payloadDoc any
	if err := json.Unmarshal(payloadJSON, &payloadDoc); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	return compiled.Validate(payloadDoc)
}
