package toolruntime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/policy"
	"github.com/ctrlplane/kernel/toolruntime"
	"github.com/ctrlplane/kernel/toolspec"
	"github.com/ctrlplane/kernel/trace"
)

type stubConnector struct {
	name   string
	result any
	err    error
}

func (s *stubConnector) Name() string                                  { return s.name }
func (s *stubConnector) ValidateArgs(op string, args map[string]any) error { return nil }
func (s *stubConnector) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	return s.result, s.err
}

func readSpec() *toolspec.ToolSpec {
	return &toolspec.ToolSpec{
		ID: "fs.read_file", SideEffect: toolspec.SideEffectRead, Connector: "fs",
		RequiredScopes: map[string]struct{}{"fs.read": {}},
	}
}

func TestInvokeSucceedsAndAudits(t *testing.T) {
	tr := trace.New()
	specs := map[string]*toolspec.ToolSpec{"fs.read_file": readSpec()}
	connectors := map[string]toolruntime.Connector{"fs": &stubConnector{name: "fs", result: "contents"}}
	rt := toolruntime.New(specs, connectors, tr)

	res := rt.Invoke(context.Background(), policy.Request{ProposalID: "p1", ToolID: "fs.read_file"}, policy.Context{
		GrantedScopes: map[string]struct{}{"fs.read": {}},
	})
	require.True(t, res.OK)
	assert.Equal(t, "contents", res.Value)
	assert.NotEmpty(t, res.AuditID)

	events := tr.Query(trace.QueryFilter{Type: "write_completed"})
	assert.Len(t, events, 1)
}

func TestInvokeDeniesUnknownTool(t *testing.T) {
	rt := toolruntime.New(nil, nil, nil)
	res := rt.Invoke(context.Background(), policy.Request{ToolID: "ghost"}, policy.Context{})
	assert.False(t, res.OK)
	assert.NotNil(t, res.Error)
}

func TestInvokeDeniesMissingConnector(t *testing.T) {
	specs := map[string]*toolspec.ToolSpec{"fs.read_file": readSpec()}
	rt := toolruntime.New(specs, map[string]toolruntime.Connector{}, nil)
	res := rt.Invoke(context.Background(), policy.Request{ToolID: "fs.read_file"}, policy.Context{
		GrantedScopes: map[string]struct{}{"fs.read": {}},
	})
	assert.False(t, res.OK)
}

func TestInvokeSurfacesConnectorError(t *testing.T) {
	specs := map[string]*toolspec.ToolSpec{"fs.read_file": readSpec()}
	connectors := map[string]toolruntime.Connector{"fs": &stubConnector{name: "fs", err: errors.New("boom")}}
	rt := toolruntime.New(specs, connectors, nil)
	res := rt.Invoke(context.Background(), policy.Request{ToolID: "fs.read_file"}, policy.Context{
		GrantedScopes: map[string]struct{}{"fs.read": {}},
	})
	assert.False(t, res.OK)
}

func TestInvokeBatchOrdersByProposalID(t *testing.T) {
	specs := map[string]*toolspec.ToolSpec{"fs.read_file": readSpec()}
	connectors := map[string]toolruntime.Connector{"fs": &stubConnector{name: "fs", result: "x"}}
	rt := toolruntime.New(specs, connectors, nil)
	reqs := []policy.Request{
		{ProposalID: "b", ToolID: "fs.read_file"},
		{ProposalID: "a", ToolID: "fs.read_file"},
	}
	results := rt.InvokeBatch(context.Background(), reqs, policy.Context{
		GrantedScopes: map[string]struct{}{"fs.read": {}},
	})
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)
}
