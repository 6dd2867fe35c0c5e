package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/protocol"
	"github.com/changeware/flowgate/internal/provider"
	"github.com/changeware/flowgate/internal/tools"
)

// GateChecks are the check results a gate step summarizes
var GateChecks = []string{"linter", "typecheck", "tests", "smoke"}

// Executor runs a single step according to its kind. It owns no run state;
// everything it touches lives on the RunState passed in.
type Executor struct {
	provider provider.Provider
	invoker  tools.Invoker
	observer Observer
}

// NewExecutor creates a step executor
func NewExecutor(p provider.Provider, inv tools.Invoker, obs Observer) *Executor {
	if obs == nil {
		obs = NoopObserver{}
	}
	return &Executor{provider: p, invoker: inv, observer: obs}
}

// Execute runs one step to completion. On return the run state's status is
// success, waiting (human approval created) or error. A non-nil error aborts
// the run.
func (e *Executor) Execute(ctx context.Context, step manifest.Step, st *RunState) error {
	switch step.Kind {
	case manifest.KindInput:
		st.SetStatus(StatusSuccess)
		return nil
	case manifest.KindAgent:
		return e.executeAgent(ctx, step, st)
	case manifest.KindTool:
		return e.executeTool(ctx, step, st)
	case manifest.KindGate:
		e.executeGate(step, st)
		return nil
	case manifest.KindApproval:
		e.executeApproval(step, st)
		return nil
	case manifest.KindOutput:
		st.SetStatus(StatusSuccess)
		outcome, _ := st.Var("outcome")
		e.emit("assistant", fmt.Sprintf("Run finished: %s", cast.ToString(outcome)), nil, string(StatusSuccess))
		return nil
	default:
		return fmt.Errorf("step %s: unknown kind %q", step.ID, step.Kind)
	}
}

// executeAgent dispatches the step's instructions through the completion
// provider and executes any requested tool calls sequentially, in the order
// returned, each awaited before the next begins.
func (e *Executor) executeAgent(ctx context.Context, step manifest.Step, st *RunState) error {
	instruction, _ := st.Var("instruction")
	req := &provider.Request{
		System: step.Instructions,
		Model:  step.Model,
		Tools:  e.invoker.Definitions(),
		Messages: []protocol.Message{
			{Role: "user", Content: cast.ToString(instruction), Timestamp: time.Now().UnixMilli()},
		},
	}

	completion, err := e.provider.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("step %s: provider: %w", step.ID, err)
	}

	if step.Capture != "" && completion.Content != "" {
		st.SetVar(step.Capture, firstLine(completion.Content))
	}

	var records []protocol.ToolCallRecord
	for _, call := range completion.ToolCalls {
		args := decodeToolArgs(call)
		rec := e.invoker.Invoke(ctx, call.Name, args)
		st.AppendRecord(rec)
		records = append(records, rec)
	}

	if completion.Content != "" || len(records) > 0 {
		e.emit("assistant", completion.Content, records, "")
	}

	st.SetStatus(StatusSuccess)
	return nil
}

// executeTool resolves the step's default arguments, substituting {{var}}
// placeholders, and invokes the tool. A failing call aborts the run; the
// record still lands in history first.
func (e *Executor) executeTool(ctx context.Context, step manifest.Step, st *RunState) error {
	name := step.ToolName()
	args := resolveArgs(step.Defaults, st)

	rec := e.invoker.Invoke(ctx, name, args)
	st.AppendRecord(rec)

	if !rec.OK {
		st.SetStatus(StatusError)
		if rec.Error != "" {
			return fmt.Errorf("step %s: tool %s: %s", step.ID, name, rec.Error)
		}
		return fmt.Errorf("step %s: tool %s failed", step.ID, name)
	}

	st.SetStatus(StatusSuccess)
	return nil
}

// executeGate is purely observational: it summarizes the latest check
// results and emits them. Branching on the outcome belongs to the edges
// leaving the gate, never to the gate itself.
func (e *Executor) executeGate(step manifest.Step, st *RunState) {
	var parts []string
	for _, check := range GateChecks {
		rec, ok := st.LatestCall(check)
		switch {
		case !ok:
			parts = append(parts, check+": not run")
		case checkPassed(rec):
			parts = append(parts, check+": pass")
		default:
			parts = append(parts, check+": FAIL")
		}
	}
	summary := fmt.Sprintf("%s — %s", step.Label, strings.Join(parts, ", "))
	log.Printf("[Engine] %s", summary)
	e.emit("assistant", summary, nil, "gate")
	st.SetStatus(StatusSuccess)
}

// executeApproval snapshots the latest diff and check results into an
// approval request and parks the run. The resolver will find no satisfiable
// edge until the request is approved, which is exactly the suspension the
// control loop expects.
func (e *Executor) executeApproval(step manifest.Step, st *RunState) {
	checks := make(map[string]bool, len(GateChecks))
	for _, check := range GateChecks {
		if rec, ok := st.LatestCall(check); ok {
			checks[check] = checkPassed(rec)
		}
	}

	req := &protocol.ApprovalRequest{
		ID:        uuid.NewString(),
		StepID:    step.ID,
		Title:     step.Label,
		Diff:      latestDiff(st),
		Checks:    checks,
		Status:    protocol.ApprovalPending,
		CreatedAt: time.Now(),
	}
	st.SetApproval(req)
	st.SetStatus(StatusWaiting)

	e.emit("assistant", fmt.Sprintf("Awaiting approval: %s", step.Label), nil, string(StatusWaiting))
}

func (e *Executor) emit(role, content string, records []protocol.ToolCallRecord, status string) {
	e.observer.OnMessage(protocol.Message{
		Role:      role,
		Content:   content,
		ToolCalls: records,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

// checkPassed reads a check tool's verdict: the result payload's ok field
// when present, the invocation flag otherwise.
func checkPassed(rec protocol.ToolCallRecord) bool {
	if payload, ok := rec.Result.(map[string]interface{}); ok {
		if verdict, ok := payload["ok"].(bool); ok {
			return verdict
		}
	}
	return rec.OK
}

// latestDiff returns the diff payload of the most recent diff tool call
func latestDiff(st *RunState) string {
	rec, ok := st.LatestCall("diff")
	if !ok {
		return ""
	}
	if payload, ok := rec.Result.(map[string]interface{}); ok {
		return cast.ToString(payload["diff"])
	}
	return cast.ToString(rec.Result)
}

// resolveArgs copies a step's default arguments, substituting {{name}}
// placeholders with current run variables. A value that is exactly one
// placeholder keeps the variable's type; embedded placeholders interpolate
// as strings. The reserved "tool" default names the tool and is not an
// argument.
func resolveArgs(defaults map[string]interface{}, st *RunState) map[string]interface{} {
	args := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		if k == "tool" {
			continue
		}
		args[k] = resolveValue(v, st)
	}
	return args
}

func resolveValue(v interface{}, st *RunState) interface{} {
	s, isString := v.(string)
	if !isString || !strings.Contains(s, "{{") {
		return v
	}

	// Whole-value placeholder: keep the variable's native type.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		name := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if !strings.Contains(name, "{{") {
			if val, ok := st.Var(name); ok {
				return val
			}
			return ""
		}
	}

	for name, val := range st.Vars() {
		s = strings.ReplaceAll(s, "{{"+name+"}}", cast.ToString(val))
	}
	return s
}

func decodeToolArgs(call protocol.ToolUseBlock) map[string]interface{} {
	args := make(map[string]interface{})
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			log.Printf("[Engine] Tool call %s: bad arguments: %v", call.Name, err)
		}
	}
	return args
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
