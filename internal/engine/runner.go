package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/protocol"
	"github.com/changeware/flowgate/internal/provider"
	"github.com/changeware/flowgate/internal/tools"
)

// Runner drives one run of a manifest: it executes the entry step, then
// loops resolver → executor until the terminal step is reached or the run
// suspends. It owns the RunState; there is no engine-level global.
//
// A Runner is not reentrant. Run, Approve and Reject serialize on an
// internal mutex, but a caller juggling several concurrent runs must use
// one Runner per run.
type Runner struct {
	mu       sync.Mutex
	manifest *manifest.Manifest
	state    *RunState
	executor *Executor
	eval     Evaluator
	observer Observer
}

// NewRunner validates the manifest against the invoker's tool surface and
// builds a runner with a fresh run state. Unknown tool references are
// rejected here, at load time, never at run time.
func NewRunner(m *manifest.Manifest, p provider.Provider, inv tools.Invoker, obs Observer) (*Runner, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, def := range inv.Definitions() {
		known[def.Name] = true
	}
	for _, name := range m.ToolNames() {
		if !known[name] {
			return nil, fmt.Errorf("manifest %s: references unknown tool %q", m.ID, name)
		}
	}

	if obs == nil {
		obs = NoopObserver{}
	}
	return &Runner{
		manifest: m,
		state:    NewRunState(m.ID, m.Variables),
		executor: NewExecutor(p, inv, obs),
		observer: obs,
	}, nil
}

// State exposes the run state for snapshots and inspection
func (r *Runner) State() *RunState {
	return r.state
}

// Run starts the run from the entry step with the initiating user message
// and loops until the terminal step or a suspension.
func (r *Runner) Run(ctx context.Context, userMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.manifest.Entry()
	if !ok {
		return fmt.Errorf("manifest %s: no entry step", r.manifest.ID)
	}

	r.state.SetVar("instruction", userMessage)
	r.emit("user", userMessage, "")

	log.Printf("[Engine] Run %s starting at %s", r.state.RunID(), entry.ID)
	if err := r.executeStep(ctx, entry); err != nil {
		return err
	}
	return r.loop(ctx)
}

// Approve resolves the pending approval request and re-enters the loop from
// the step that created it. With no pending request it is a no-op.
func (r *Runner) Approve(ctx context.Context, approver string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.ResolveApproval(protocol.ApprovalApproved, approver, "") {
		return nil
	}

	log.Printf("[Engine] Run %s approved by %s", r.state.RunID(), approver)
	r.emit("system", fmt.Sprintf("Change approved by %s", approver), string(StatusRunning))
	r.observer.OnStateChange(r.state.Snapshot())

	return r.loop(ctx)
}

// Reject resolves the pending approval request as rejected and forces the
// run straight to the terminal step with an error status. No further edges
// are evaluated; effects already applied stay applied. With no pending
// request it is a no-op: state unchanged, nothing emitted.
func (r *Runner) Reject(_ context.Context, approver, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.ResolveApproval(protocol.ApprovalRejected, approver, reason) {
		return nil
	}

	msg := fmt.Sprintf("Change rejected by %s", approver)
	if reason != "" {
		msg += ": " + reason
	}
	log.Printf("[Engine] Run %s rejected by %s", r.state.RunID(), approver)
	r.emit("system", msg, string(StatusError))

	if terminal, ok := r.manifest.Terminal(); ok {
		r.state.SetStep(terminal.ID, StatusError)
	} else {
		r.state.SetStatus(StatusError)
	}
	r.observer.OnStateChange(r.state.Snapshot())
	return nil
}

// loop advances the run edge by edge until the terminal step executes, a
// step fails, or no edge is satisfiable (suspension, the expected state
// while an approval is pending).
func (r *Runner) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			r.state.SetStatus(StatusError)
			return err
		}

		current := r.state.StepID()
		edge, ok := resolveNext(r.manifest, current, r.state, r.eval)
		if !ok {
			log.Printf("[Engine] Run %s suspended at %s", r.state.RunID(), current)
			r.observer.OnStateChange(r.state.Snapshot())
			return nil
		}

		// Effects fire exactly once, after the match and before the
		// destination step runs.
		applyEffects(edge.Effects, r.state)

		step, found := r.manifest.Step(edge.To)
		if !found {
			return fmt.Errorf("manifest %s: edge to unknown step %q", r.manifest.ID, edge.To)
		}

		if err := r.executeStep(ctx, step); err != nil {
			return err
		}

		if step.Kind == manifest.KindOutput {
			r.observer.OnStateChange(r.state.Snapshot())
			return nil
		}
	}
}

func (r *Runner) executeStep(ctx context.Context, step manifest.Step) error {
	r.state.SetStep(step.ID, StatusRunning)
	r.observer.OnStateChange(r.state.Snapshot())

	if err := r.executor.Execute(ctx, step, r.state); err != nil {
		r.state.SetStatus(StatusError)
		r.emit("system", fmt.Sprintf("Run aborted at %s: %v", step.ID, err), string(StatusError))
		r.observer.OnStateChange(r.state.Snapshot())
		return err
	}

	r.observer.OnStateChange(r.state.Snapshot())
	return nil
}

func (r *Runner) emit(role, content, status string) {
	r.observer.OnMessage(protocol.Message{
		Role:      role,
		Content:   content,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}
