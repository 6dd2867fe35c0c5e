package manifest

import (
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		ID:      "test",
		Version: "1",
		Nodes: []Step{
			{ID: "in", Kind: KindInput},
			{ID: "work", Kind: KindTool},
			{ID: "out", Kind: KindOutput},
		},
		Edges: []Edge{
			{From: "in", To: "work"},
			{From: "work", To: "out"},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validManifest().Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{
			name:   "missing id",
			mutate: func(m *Manifest) { m.Nodes[1].ID = "" },
		},
		{
			name:   "duplicate id",
			mutate: func(m *Manifest) { m.Nodes[1].ID = "in" },
		},
		{
			name:   "unknown kind",
			mutate: func(m *Manifest) { m.Nodes[1].Kind = "teleport" },
		},
		{
			name:   "no input step",
			mutate: func(m *Manifest) { m.Nodes[0].Kind = KindTool },
		},
		{
			name:   "two output steps",
			mutate: func(m *Manifest) { m.Nodes[1].Kind = KindOutput },
		},
		{
			name:   "edge from unknown step",
			mutate: func(m *Manifest) { m.Edges[0].From = "ghost" },
		},
		{
			name:   "edge to unknown step",
			mutate: func(m *Manifest) { m.Edges[1].To = "ghost" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEdgesFromPreservesOrder(t *testing.T) {
	m := validManifest()
	m.Edges = append(m.Edges,
		Edge{From: "work", To: "out", Condition: "retry < 3"},
		Edge{From: "work", To: "out", Condition: CondOtherwise},
	)

	edges := m.EdgesFrom("work")
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges from work, got %d", len(edges))
	}
	if edges[0].Condition != "" || edges[1].Condition != "retry < 3" || edges[2].Condition != CondOtherwise {
		t.Errorf("edges out of declaration order: %+v", edges)
	}
}

func TestEntryAndTerminal(t *testing.T) {
	m := validManifest()

	entry, ok := m.Entry()
	if !ok || entry.ID != "in" {
		t.Errorf("Entry() = %v, %v; want in", entry.ID, ok)
	}
	terminal, ok := m.Terminal()
	if !ok || terminal.ID != "out" {
		t.Errorf("Terminal() = %v, %v; want out", terminal.ID, ok)
	}
}

func TestToolName(t *testing.T) {
	withDefault := Step{ID: "sandbox", Kind: KindTool, Defaults: map[string]interface{}{"tool": "sandbox_apply"}}
	if got := withDefault.ToolName(); got != "sandbox_apply" {
		t.Errorf("ToolName() = %q, want sandbox_apply", got)
	}

	bare := Step{ID: "linter", Kind: KindTool}
	if got := bare.ToolName(); got != "linter" {
		t.Errorf("ToolName() = %q, want linter", got)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	m := ChangePipeline()

	data, err := m.EncodeYAML()
	if err != nil {
		t.Fatalf("EncodeYAML failed: %v", err)
	}

	decoded, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}

	if decoded.ID != m.ID || decoded.Version != m.Version {
		t.Errorf("identity lost: got %s/%s, want %s/%s", decoded.ID, decoded.Version, m.ID, m.Version)
	}
	if len(decoded.Nodes) != len(m.Nodes) {
		t.Errorf("got %d nodes, want %d", len(decoded.Nodes), len(m.Nodes))
	}
	if len(decoded.Edges) != len(m.Edges) {
		t.Errorf("got %d edges, want %d", len(decoded.Edges), len(m.Edges))
	}

	step, ok := decoded.Step("review")
	if !ok || step.Kind != KindApproval {
		t.Errorf("review step lost in round trip: %+v", step)
	}
}

func TestChangePipelineValid(t *testing.T) {
	m := ChangePipeline()
	if err := m.Validate(); err != nil {
		t.Fatalf("built-in pipeline invalid: %v", err)
	}

	// The gate's edges carry the whole retry policy; make sure the order
	// that resolution depends on survives construction.
	edges := m.EdgesFrom("checks")
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges from checks, got %d", len(edges))
	}
	if edges[0].To != "review" || edges[1].To != "reflect" || edges[2].To != "done" {
		t.Errorf("gate edges out of order: %s, %s, %s", edges[0].To, edges[1].To, edges[2].To)
	}
	if edges[1].Effects["retry"] != "retry + 1" {
		t.Errorf("reflect edge missing retry increment: %v", edges[1].Effects)
	}
	if edges[2].Condition != CondOtherwise {
		t.Errorf("last gate edge should be the fallback, got %q", edges[2].Condition)
	}
}
