package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cast"

	"github.com/changeware/flowgate/internal/protocol"
)

// SimConfig controls the simulated pipeline toolset. Zero value: everything
// passes, metrics stay healthy.
type SimConfig struct {
	LinterFailures    int     // fail the first N linter passes
	TypecheckFailures int     // fail the first N typecheck passes
	TestFailures      int     // fail the first N test passes
	SmokeFailures     int     // fail the first N smoke passes
	SandboxError      bool    // sandbox_apply returns a hard error
	CommitError       bool    // commit returns a hard error
	ErrorRate         float64 // reported by metrics
	VitalsDelta       float64 // reported by metrics
}

// simState tracks per-tool pass counters across invocations
type simState struct {
	mu     sync.Mutex
	passes map[string]int
}

func (s *simState) next(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes[tool]++
	return s.passes[tool]
}

// NewSimToolset builds a registry of deterministic in-process implementations
// of the pipeline tools, so the whole DAG can run in mock mode without any
// external collaborator. Check tools report their verdict in the result
// payload's ok field; the invocation itself succeeds either way, only hard
// tool errors (sandbox, commit) abort a run.
func NewSimToolset(cfg SimConfig) *Registry {
	r := NewRegistry()
	st := &simState{passes: make(map[string]int)}

	r.Register(simDef("search", "Search the codebase for code affected by the change"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"query": cast.ToString(args["query"]),
			"files": []string{"web/banner.tsx", "web/banner.test.tsx"},
		}, nil
	})

	r.Register(simDef("diff", "Produce a unified diff implementing the change"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		diff := fmt.Sprintf("--- a/web/banner.tsx\n+++ b/web/banner.tsx\n@@ -1,3 +1,3 @@\n-// before\n+// %s\n", cast.ToString(args["instruction"]))
		return map[string]interface{}{"diff": diff, "files": 1}, nil
	})

	r.Register(simDef("sandbox_apply", "Apply the proposed diff inside an isolated sandbox"), func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		if cfg.SandboxError {
			return nil, fmt.Errorf("sandbox provisioning failed")
		}
		return map[string]interface{}{"applied": true, "sandbox": fmt.Sprintf("sbx-%d", st.next("sandbox"))}, nil
	})

	registerCheck := func(name, desc string, failures int, detail map[string]interface{}) {
		r.Register(simDef(name, desc), func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			pass := st.next(name)
			result := map[string]interface{}{"ok": pass > failures}
			for k, v := range detail {
				result[k] = v
			}
			return result, nil
		})
	}
	registerCheck("linter", "Run the linter against the sandbox", cfg.LinterFailures, map[string]interface{}{"issues": 0})
	registerCheck("typecheck", "Run the type checker against the sandbox", cfg.TypecheckFailures, nil)
	registerCheck("tests", "Run the test suite in the sandbox", cfg.TestFailures, map[string]interface{}{"failed": 0})
	registerCheck("smoke", "Probe the sandboxed deployment", cfg.SmokeFailures, nil)

	r.Register(simDef("metrics", "Collect rollout metrics for the active cohort"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"ok":           true,
			"window":       cast.ToString(args["window"]),
			"error_rate":   cfg.ErrorRate,
			"vitals_delta": cfg.VitalsDelta,
		}, nil
	})

	r.Register(simDef("flag_enable", "Enable the feature flag for a percentage of traffic"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"feature": cast.ToString(args["feature"]),
			"percent": cast.ToInt(args["percent"]),
			"enabled": true,
		}, nil
	})

	r.Register(simDef("flag_disable", "Disable the feature flag everywhere"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"feature": cast.ToString(args["feature"]),
			"enabled": false,
		}, nil
	})

	r.Register(simDef("commit", "Commit the approved change and open a PR"), func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		if cfg.CommitError {
			return nil, fmt.Errorf("commit rejected by remote")
		}
		return map[string]interface{}{
			"commit":  "a1b2c3d",
			"message": cast.ToString(args["message"]),
		}, nil
	})

	return r
}

func simDef(name, desc string) protocol.Tool {
	return protocol.Tool{
		Name:        name,
		Description: desc,
		InputSchema: map[string]interface{}{"type": "object"},
	}
}
