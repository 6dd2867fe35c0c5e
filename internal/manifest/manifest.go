package manifest

// StepKind identifies the behavior of a step in the DAG
type StepKind string

const (
	KindInput    StepKind = "input"
	KindAgent    StepKind = "agent"
	KindTool     StepKind = "tool"
	KindGate     StepKind = "gate"
	KindApproval StepKind = "human_approval"
	KindOutput   StepKind = "output"
)

// Reserved edge conditions handled by the resolver, never by the expression
// evaluator.
const (
	CondApproved  = "approved"
	CondOtherwise = "otherwise"
)

// Manifest is an immutable DAG definition driving one workflow type.
// It is loaded once and never mutated; all mutable state lives on the run.
type Manifest struct {
	ID        string                 `json:"id" yaml:"id"`
	Version   string                 `json:"version" yaml:"version"`
	Variables map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`
	Nodes     []Step                 `json:"nodes" yaml:"nodes"`
	Edges     []Edge                 `json:"edges" yaml:"edges"`
}

// Step is a single typed node in the DAG
type Step struct {
	ID           string                 `json:"id" yaml:"id"`
	Kind         StepKind               `json:"kind" yaml:"kind"`
	Label        string                 `json:"label" yaml:"label"`
	Model        string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Instructions string                 `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Defaults     map[string]interface{} `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Capture      string                 `json:"capture,omitempty" yaml:"capture,omitempty"` // agent steps: variable to store the response text in
}

// Edge is a guarded transition between two steps
type Edge struct {
	From      string            `json:"from" yaml:"from"`
	To        string            `json:"to" yaml:"to"`
	Condition string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	Effects   map[string]string `json:"effects,omitempty" yaml:"effects,omitempty"`
}

// Step returns the step with the given id
func (m *Manifest) Step(id string) (Step, bool) {
	for _, s := range m.Nodes {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// EdgesFrom returns the outgoing edges of a step in declaration order
func (m *Manifest) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range m.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Entry returns the designated entry step (the input step)
func (m *Manifest) Entry() (Step, bool) {
	return m.firstOfKind(KindInput)
}

// Terminal returns the terminal step (the output step)
func (m *Manifest) Terminal() (Step, bool) {
	return m.firstOfKind(KindOutput)
}

func (m *Manifest) firstOfKind(kind StepKind) (Step, bool) {
	for _, s := range m.Nodes {
		if s.Kind == kind {
			return s, true
		}
	}
	return Step{}, false
}

// ToolNames returns the tool referenced by every tool step, deduplicated,
// in declaration order. Used for load-time validation against the invoker.
func (m *Manifest) ToolNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.Nodes {
		if s.Kind != KindTool {
			continue
		}
		name := s.ToolName()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ToolName returns the tool a tool step invokes. The "tool" default names it;
// falling back to the step id keeps small manifests terse.
func (s Step) ToolName() string {
	if v, ok := s.Defaults["tool"]; ok {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return s.ID
}
