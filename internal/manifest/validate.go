package manifest

import (
	"fmt"
)

var knownKinds = map[StepKind]bool{
	KindInput:    true,
	KindAgent:    true,
	KindTool:     true,
	KindGate:     true,
	KindApproval: true,
	KindOutput:   true,
}

// Validate performs structural validation. Manifests that reference
// nonexistent steps, carry duplicate ids, or lack an entry/terminal step are
// rejected here so the engine never has to deal with them at run time.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest: missing id")
	}
	if len(m.Nodes) == 0 {
		return fmt.Errorf("manifest %s: no steps", m.ID)
	}

	ids := make(map[string]bool, len(m.Nodes))
	var inputs, outputs int
	for _, s := range m.Nodes {
		if s.ID == "" {
			return fmt.Errorf("manifest %s: step with empty id", m.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("manifest %s: duplicate step id %q", m.ID, s.ID)
		}
		ids[s.ID] = true

		if !knownKinds[s.Kind] {
			return fmt.Errorf("manifest %s: step %q has unknown kind %q", m.ID, s.ID, s.Kind)
		}
		switch s.Kind {
		case KindInput:
			inputs++
		case KindOutput:
			outputs++
		}
	}

	if inputs != 1 {
		return fmt.Errorf("manifest %s: expected exactly one input step, found %d", m.ID, inputs)
	}
	if outputs != 1 {
		return fmt.Errorf("manifest %s: expected exactly one output step, found %d", m.ID, outputs)
	}

	for i, e := range m.Edges {
		if !ids[e.From] {
			return fmt.Errorf("manifest %s: edge %d references unknown step %q", m.ID, i, e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("manifest %s: edge %d references unknown step %q", m.ID, i, e.To)
		}
	}

	return nil
}
