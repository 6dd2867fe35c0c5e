package engine

import (
	"testing"
)

func TestApplyEffectsIncrement(t *testing.T) {
	st := stateWithVars(map[string]interface{}{"retry": 0})

	applyEffects(map[string]string{"retry": "retry + 1"}, st)
	if v, _ := st.Var("retry"); v != 1 {
		t.Errorf("retry = %v, want 1", v)
	}

	applyEffects(map[string]string{"retry": "retry + 1"}, st)
	applyEffects(map[string]string{"retry": "retry + 1"}, st)
	if v, _ := st.Var("retry"); v != 3 {
		t.Errorf("retry = %v, want 3 after three applications", v)
	}
}

func TestApplyEffectsNegativeIncrement(t *testing.T) {
	st := stateWithVars(map[string]interface{}{"quota": 10})
	applyEffects(map[string]string{"quota": "quota + -2"}, st)
	if v, _ := st.Var("quota"); v != 8 {
		t.Errorf("quota = %v, want 8", v)
	}
}

func TestApplyEffectsLiterals(t *testing.T) {
	st := stateWithVars(nil)

	applyEffects(map[string]string{
		"outcome": "committed",
		"count":   "42",
		"ratio":   "0.5",
		"flag":    "true",
		"quoted":  `"hello"`,
	}, st)

	tests := []struct {
		name string
		want interface{}
	}{
		{"outcome", "committed"},
		{"count", 42},
		{"ratio", 0.5},
		{"flag", true},
		{"quoted", "hello"},
	}
	for _, tt := range tests {
		if v, _ := st.Var(tt.name); v != tt.want {
			t.Errorf("%s = %v (%T), want %v (%T)", tt.name, v, v, tt.want, tt.want)
		}
	}
}

// Only "var + literal" with a matching variable name counts as an
// increment; anything else is a plain literal assignment.
func TestApplyEffectsIncrementRequiresSameVariable(t *testing.T) {
	st := stateWithVars(map[string]interface{}{"retry": 5, "other": 1})

	applyEffects(map[string]string{"retry": "other + 1"}, st)

	if v, _ := st.Var("retry"); v != "other + 1" {
		t.Errorf("retry = %v, want the raw literal string", v)
	}
	if v, _ := st.Var("other"); v != 1 {
		t.Errorf("other = %v, want untouched 1", v)
	}
}

func TestApplyEffectsCreatesVariable(t *testing.T) {
	st := stateWithVars(nil)
	applyEffects(map[string]string{"attempts": "attempts + 1"}, st)
	// Missing variable coerces to zero before the increment.
	if v, _ := st.Var("attempts"); v != 1 {
		t.Errorf("attempts = %v, want 1", v)
	}
}
