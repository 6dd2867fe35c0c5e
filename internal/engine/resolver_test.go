package engine

import (
	"testing"
	"time"

	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/protocol"
)

func branchManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ID:      "branch",
		Version: "1",
		Nodes: []manifest.Step{
			{ID: "in", Kind: manifest.KindInput},
			{ID: "gate", Kind: manifest.KindGate},
			{ID: "a", Kind: manifest.KindTool},
			{ID: "b", Kind: manifest.KindTool},
			{ID: "review", Kind: manifest.KindApproval},
			{ID: "out", Kind: manifest.KindOutput},
		},
		Edges: []manifest.Edge{
			{From: "in", To: "gate"},
			{From: "gate", To: "a", Condition: "retry < 3"},
			{From: "gate", To: "b", Condition: "retry < 10"},
			{From: "gate", To: "out", Condition: manifest.CondOtherwise},
			{From: "review", To: "out", Condition: manifest.CondApproved},
		},
	}
}

func TestResolveNextDeclarationOrder(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(map[string]interface{}{"retry": 0})
	var eval Evaluator

	// Both guarded edges hold; the first declared one wins.
	edge, ok := resolveNext(m, "gate", st, eval)
	if !ok || edge.To != "a" {
		t.Fatalf("resolveNext = %v, %v; want edge to a", edge, ok)
	}

	// Same state, same answer.
	again, ok := resolveNext(m, "gate", st, eval)
	if !ok || again.To != "a" {
		t.Fatalf("resolution not deterministic: got %v", again)
	}
}

func TestResolveNextFallback(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(map[string]interface{}{"retry": 10})
	var eval Evaluator

	edge, ok := resolveNext(m, "gate", st, eval)
	if !ok || edge.To != "out" {
		t.Fatalf("expected fallback edge to out, got %v, %v", edge, ok)
	}
}

func TestResolveNextUnconditional(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(nil)
	var eval Evaluator

	edge, ok := resolveNext(m, "in", st, eval)
	if !ok || edge.To != "gate" {
		t.Fatalf("expected unconditional edge to gate, got %v, %v", edge, ok)
	}
}

func TestResolveNextApprovalSuspends(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(nil)
	var eval Evaluator

	// No approval request yet: nothing satisfiable, run suspends.
	if edge, ok := resolveNext(m, "review", st, eval); ok {
		t.Fatalf("expected suspension, got edge to %s", edge.To)
	}

	// Pending is still not approved.
	st.SetApproval(&protocol.ApprovalRequest{
		ID:        "req-1",
		StepID:    "review",
		Status:    protocol.ApprovalPending,
		CreatedAt: time.Now(),
	})
	if edge, ok := resolveNext(m, "review", st, eval); ok {
		t.Fatalf("pending approval should suspend, got edge to %s", edge.To)
	}

	// Approved unlocks the reserved edge.
	if !st.ResolveApproval(protocol.ApprovalApproved, "tester", "") {
		t.Fatal("ResolveApproval refused a pending request")
	}
	edge, ok := resolveNext(m, "review", st, eval)
	if !ok || edge.To != "out" {
		t.Fatalf("expected approved edge to out, got %v, %v", edge, ok)
	}
}

func TestResolveNextRejectedDoesNotMatch(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(nil)
	var eval Evaluator

	st.SetApproval(&protocol.ApprovalRequest{
		ID:     "req-1",
		StepID: "review",
		Status: protocol.ApprovalPending,
	})
	st.ResolveApproval(protocol.ApprovalRejected, "tester", "nope")

	if edge, ok := resolveNext(m, "review", st, eval); ok {
		t.Fatalf("rejected approval must not satisfy the approved edge, got %s", edge.To)
	}
}

func TestResolveNextNoEdges(t *testing.T) {
	m := branchManifest()
	st := stateWithVars(nil)
	var eval Evaluator

	if _, ok := resolveNext(m, "out", st, eval); ok {
		t.Error("terminal step should have no outgoing edge")
	}
}
