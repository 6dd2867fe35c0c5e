package engine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// incrementExpr matches the integer increment form "var + literal"
var incrementExpr = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\+\s*(-?\d+)$`)

// applyEffects applies a taken edge's variable assignments onto the run
// state. The only recognized expression form is the integer increment
// "var + literal"; everything else is a literal assignment. Effects run
// exactly once per taken edge, after the condition matched and before the
// destination step executes.
func applyEffects(effects map[string]string, st *RunState) {
	for name, raw := range effects {
		expr := strings.TrimSpace(raw)

		if m := incrementExpr.FindStringSubmatch(expr); m != nil && m[1] == name {
			current, _ := st.Var(name)
			delta, _ := strconv.Atoi(m[2])
			st.SetVar(name, cast.ToInt(current)+delta)
			continue
		}

		st.SetVar(name, parseLiteral(expr))
	}
}

// parseLiteral coerces an effect literal into its natural type so that
// subsequent guard comparisons don't have to fight strings.
func parseLiteral(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return strings.Trim(s, `"'`)
}
