package engine

import (
	"testing"

	"github.com/changeware/flowgate/internal/protocol"
)

func stateWithVars(vars map[string]interface{}) *RunState {
	return NewRunState("test", vars)
}

func TestEvalVariables(t *testing.T) {
	st := stateWithVars(map[string]interface{}{
		"retry":         2,
		"scope":         "ui-safe",
		"error_ceiling": 1.0,
	})

	tests := []struct {
		condition string
		want      bool
	}{
		{"retry < 3", true},
		{"retry < 2", false},
		{"retry >= 2", true},
		{"scope == 'ui-safe'", true},
		{"scope == 'data-only'", false},
		{"scope != 'data-only'", true},
		{"retry < 3 && scope == 'ui-safe'", true},
		{"retry > 3 || scope == 'ui-safe'", true},
		{"retry > 3 && scope == 'ui-safe'", false},
		{"error_ceiling <= 1.0", true},
	}

	var eval Evaluator
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			if got := eval.Eval(tt.condition, st); got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestEvalCheckResults(t *testing.T) {
	st := stateWithVars(map[string]interface{}{
		"error_ceiling": 1.0,
		"vitals_floor":  -5.0,
	})
	st.AppendRecord(protocol.ToolCallRecord{
		Tool: "linter",
		OK:   true,
		Result: map[string]interface{}{
			"ok":     false,
			"issues": 4,
		},
	})
	st.AppendRecord(protocol.ToolCallRecord{
		Tool: "metrics",
		OK:   true,
		Result: map[string]interface{}{
			"ok":           true,
			"error_rate":   0.4,
			"vitals_delta": -1.2,
		},
	})

	tests := []struct {
		condition string
		want      bool
	}{
		// The payload's ok verdict overrides the invocation flag.
		{"linter.ok", false},
		{"!linter.ok", true},
		{"linter.issues > 0", true},
		{"metrics.ok", true},
		{"metrics.error_rate <= error_ceiling", true},
		{"metrics.vitals_delta >= vitals_floor", true},
		{"metrics.error_rate <= error_ceiling && metrics.vitals_delta >= vitals_floor", true},
		{"metrics.error_rate > error_ceiling", false},
	}

	var eval Evaluator
	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			if got := eval.Eval(tt.condition, st); got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.condition, got, tt.want)
			}
		})
	}
}

func TestEvalLatestRecordWins(t *testing.T) {
	st := stateWithVars(nil)
	st.AppendRecord(protocol.ToolCallRecord{
		Tool: "tests", OK: true,
		Result: map[string]interface{}{"ok": false},
	})
	st.AppendRecord(protocol.ToolCallRecord{
		Tool: "tests", OK: true,
		Result: map[string]interface{}{"ok": true},
	})

	var eval Evaluator
	if !eval.Eval("tests.ok", st) {
		t.Error("expected the most recent tests record to win")
	}
}

// Anything that can't compile, run or produce a bool is false. Never an
// error, never a panic.
func TestEvalFailsClosed(t *testing.T) {
	st := stateWithVars(map[string]interface{}{"retry": 1})

	tests := []struct {
		name      string
		condition string
	}{
		{"empty", ""},
		{"syntax error", "retry <"},
		{"unknown variable", "no_such_var > 1"},
		{"unknown check field", "linter.ok"},
		{"non-bool result", "retry + 1"},
		{"type mismatch", "retry < 'three'"},
	}

	var eval Evaluator
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if eval.Eval(tt.condition, st) {
				t.Errorf("Eval(%q) = true, want fail-closed false", tt.condition)
			}
		})
	}
}
