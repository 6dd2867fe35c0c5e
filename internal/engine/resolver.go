package engine

import (
	"github.com/changeware/flowgate/internal/manifest"
	"github.com/changeware/flowgate/internal/protocol"
)

// resolveNext selects the edge to take out of the current step, scanning the
// outgoing edges in declaration order:
//
//   - an edge with no condition is satisfied unconditionally
//   - the reserved condition "approved" is satisfied only when the run's
//     outstanding approval request has been approved
//   - the reserved condition "otherwise" never matches in the primary scan;
//     it is the designated fallback when nothing else matched
//   - any other condition goes through the expression evaluator
//
// A nil edge with ok=false means no transition is satisfiable: the run
// suspends. That is the expected state while waiting for approval, not an
// error. resolveNext is a pure function of the current state; it applies no
// effects itself.
func resolveNext(m *manifest.Manifest, currentID string, st *RunState, eval Evaluator) (*manifest.Edge, bool) {
	edges := m.EdgesFrom(currentID)

	var fallback *manifest.Edge
	for i := range edges {
		e := &edges[i]
		switch e.Condition {
		case "":
			return e, true
		case manifest.CondApproved:
			if approved(st) {
				return e, true
			}
		case manifest.CondOtherwise:
			if fallback == nil {
				fallback = e
			}
		default:
			if eval.Eval(e.Condition, st) {
				return e, true
			}
		}
	}

	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

func approved(st *RunState) bool {
	req := st.Approval()
	return req != nil && req.Status == protocol.ApprovalApproved
}
