// Command demo wires the governance kernel's components together end to
// end: one agent backed by a stub llm.Port proposes a sandboxed file write,
// the Tool Runtime holds it for approval, and a second turn executes it
// once approval is supplied.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ctrlplane/kernel/agent"
	"github.com/ctrlplane/kernel/commitment"
	"github.com/ctrlplane/kernel/delegation"
	"github.com/ctrlplane/kernel/firewall"
	"github.com/ctrlplane/kernel/gate"
	"github.com/ctrlplane/kernel/kernelconfig"
	"github.com/ctrlplane/kernel/lane"
	"github.com/ctrlplane/kernel/llm"
	"github.com/ctrlplane/kernel/memory"
	"github.com/ctrlplane/kernel/orchestrator"
	"github.com/ctrlplane/kernel/proposal"
	"github.com/ctrlplane/kernel/stance"
	"github.com/ctrlplane/kernel/telemetry"
	"github.com/ctrlplane/kernel/toolruntime"
	"github.com/ctrlplane/kernel/toolruntime/localfs"
	"github.com/ctrlplane/kernel/toolspec"
	"github.com/ctrlplane/kernel/trace"
	"github.com/ctrlplane/kernel/turn"
)

// stubPort stands in for a real model call: it always proposes the same
// sandboxed write, annotated by whatever system prompt the processor below
// compiles for it.
var stubPort = llm.PortFunc(func(ctx context.Context, system string, messages []llm.Message) (string, error) {
	return "plan: write notes.txt with today's summary", nil
})

// writerProcessor adapts stubPort into an orchestrator.AgentProcessor: it
// calls the port for a message and always proposes the same write tool
// request, mirroring how a real agent would turn a model's plan into a
// ToolRequest proposal.
func writerProcessor(ctx context.Context, agentID string, actx agent.Context) (agent.Packet, error) {
	text, err := stubPort.Complete(ctx, "You are a careful note-taking assistant.", nil)
	if err != nil {
		return agent.Packet{}, err
	}
	return agent.Packet{
		AgentID: agentID,
		Message: text,
		Proposals: []proposal.Proposal{{
			Kind:   proposal.KindToolRequest,
			Source: proposal.SourceAgent,
			ID:     "write-notes",
			ToolRequest: &proposal.ToolRequest{
				ToolID: "fs.write_file",
				Args:   map[string]any{"path": "notes.txt", "content": text},
			},
		}},
	}, nil
}

func main() {
	ctx := context.Background()
	cfg := kernelconfig.Default()

	root, err := os.MkdirTemp("", "kernel-demo")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(root)

	connector, err := localfs.New(root)
	if err != nil {
		panic(err)
	}

	tr := trace.New()
	sm := stance.New()
	cm := commitment.New()
	gc := gate.New(sm, cm, tr, cfg.EmergencyCooldownTurns)
	lanes := lane.New(cfg.Lane.MaxPausedLanes, 0)
	mbus := memory.New(memory.DefaultGateConfig(), tr)
	dm := delegation.New()
	fw := firewall.New(firewall.DefaultConfig())

	specs := map[string]*toolspec.ToolSpec{
		"fs.write_file": {ID: "fs.write_file", SideEffect: toolspec.SideEffectWrite, Connector: "fs"},
	}
	rt := toolruntime.New(specs, map[string]toolruntime.Connector{"fs": connector}, tr)
	orch := orchestrator.New(orchestrator.DefaultBudgets())

	driver := turn.New(cfg, turn.Deps{
		Trace:      tr,
		MemoryBus:  mbus,
		Delegation: dm,
		Lanes:      lanes,
		Stance:     sm,
		Commitment: cm,
		Gate:       gc,
		Firewall:   fw,
		ToolRT:     rt,
		Orch:       orch,
	}, telemetry.Ports{})

	in := turn.Input{
		ProblemID: "demo-problem",
		AgentIDs:  []string{"writer"},
		Processor: writerProcessor,
		Reducer:   orchestrator.ReducerConfig{Kind: orchestrator.ReducerPassThrough},
	}

	first := driver.ExecuteTurn(ctx, in)
	fmt.Println("turn 1 tool results:", summarize(first.ToolResults))

	// The write was held for approval; supply it and run a second turn with
	// the same proposal.
	in.PendingApprovals = map[string]struct{}{"fs.write_file": {}}
	second := driver.ExecuteTurn(ctx, in)
	fmt.Println("turn 2 tool results:", summarize(second.ToolResults))

	content, err := os.ReadFile(root + "/notes.txt")
	if err != nil {
		panic(err)
	}
	fmt.Println("notes.txt:", string(content))
}

func summarize(results []toolruntime.Result) string {
	if len(results) == 0 {
		return "(none)"
	}
	out := ""
	for _, r := range results {
		if r.OK {
			out += "ok "
		} else {
			out += "denied:" + string(r.Error.Code) + " "
		}
	}
	return out
}
