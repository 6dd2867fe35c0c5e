package engine

import (
	"log"

	"github.com/expr-lang/expr"
)

// CheckTools are the tool names whose latest result the condition evaluator
// exposes as dotted fields (e.g. linter.ok, metrics.error_rate).
var CheckTools = []string{"linter", "typecheck", "tests", "smoke", "metrics"}

// Evaluator evaluates guard expressions against run variables and the latest
// tool call records. Expressions are compiled to an AST by expr-lang and run
// against a read-only env map; nothing in a guard can execute host code.
type Evaluator struct{}

// Eval evaluates a boolean guard expression. It fails closed: an empty,
// unparsable or erroring expression, or one that yields a non-bool, is false.
// Evaluation never panics into the caller.
func (Evaluator) Eval(condition string, st *RunState) bool {
	if condition == "" {
		return false
	}

	env := buildEnv(st)
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		log.Printf("[Engine] Condition %q failed to compile: %v", condition, err)
		return false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		log.Printf("[Engine] Condition %q failed to evaluate: %v", condition, err)
		return false
	}
	result, ok := out.(bool)
	if !ok {
		return false
	}
	return result
}

// buildEnv assembles the evaluation context: all run variables at the top
// level, plus one map per known check tool holding its ok flag and, when the
// result payload is itself a map, its fields (error_rate, vitals_delta, ...).
func buildEnv(st *RunState) map[string]interface{} {
	env := st.Vars()

	for _, tool := range CheckTools {
		rec, ok := st.LatestCall(tool)
		if !ok {
			continue
		}
		fields := map[string]interface{}{"ok": rec.OK}
		if payload, isMap := rec.Result.(map[string]interface{}); isMap {
			for k, v := range payload {
				fields[k] = v
			}
		}
		env[tool] = fields
	}

	return env
}
