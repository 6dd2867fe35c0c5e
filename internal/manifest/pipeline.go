package manifest

// ChangePipeline returns the built-in manifest for the automated change
// pipeline: classify the request, search the codebase, propose a diff, apply
// it in a sandbox, run the quality checks with a bounded reflect loop, wait
// for human approval, then roll out progressively behind a feature flag and
// commit. Retry bounding and rollback routing live entirely in the edges.
func ChangePipeline() *Manifest {
	return &Manifest{
		ID:      "change-pipeline",
		Version: "1",
		Variables: map[string]interface{}{
			"scope":         "",
			"feature":       "change-pipeline",
			"retry":         0,
			"error_ceiling": 1.0,
			"vitals_floor":  -5.0,
			"outcome":       "",
		},
		Nodes: []Step{
			{ID: "intake", Kind: KindInput, Label: "Change request"},
			{
				ID:      "classify",
				Kind:    KindAgent,
				Label:   "Classify change scope",
				Capture: "scope",
				Instructions: "Classify the requested change into exactly one scope level: " +
					"data-only, ui-safe or unrestricted. Respond with the level and nothing else.",
			},
			{
				ID:       "search",
				Kind:     KindTool,
				Label:    "Locate affected code",
				Defaults: map[string]interface{}{"query": "{{instruction}}", "scope": "{{scope}}"},
			},
			{
				ID:       "diff",
				Kind:     KindTool,
				Label:    "Propose change diff",
				Defaults: map[string]interface{}{"instruction": "{{instruction}}", "scope": "{{scope}}"},
			},
			{
				ID:       "sandbox",
				Kind:     KindTool,
				Label:    "Apply diff in sandbox",
				Defaults: map[string]interface{}{"tool": "sandbox_apply"},
			},
			{ID: "linter", Kind: KindTool, Label: "Run linter"},
			{ID: "typecheck", Kind: KindTool, Label: "Run type checker"},
			{ID: "tests", Kind: KindTool, Label: "Run test suite"},
			{ID: "smoke", Kind: KindTool, Label: "Run smoke probe"},
			{ID: "checks", Kind: KindGate, Label: "Quality gate"},
			{
				ID:    "reflect",
				Kind:  KindAgent,
				Label: "Analyze check failures",
				Instructions: "One or more quality checks failed in the sandbox. Analyze the " +
					"failures and revise the proposed change before the next attempt.",
			},
			{ID: "review", Kind: KindApproval, Label: "Human review of proposed change"},
			{
				ID:       "canary",
				Kind:     KindTool,
				Label:    "Enable flag for canary cohort",
				Defaults: map[string]interface{}{"tool": "flag_enable", "feature": "{{feature}}", "percent": 5},
			},
			{
				ID:       "canary_metrics",
				Kind:     KindTool,
				Label:    "Collect canary metrics",
				Defaults: map[string]interface{}{"tool": "metrics", "window": "15m"},
			},
			{
				ID:       "expand",
				Kind:     KindTool,
				Label:    "Expand rollout to half",
				Defaults: map[string]interface{}{"tool": "flag_enable", "feature": "{{feature}}", "percent": 50},
			},
			{
				ID:       "expand_metrics",
				Kind:     KindTool,
				Label:    "Collect expanded-rollout metrics",
				Defaults: map[string]interface{}{"tool": "metrics", "window": "15m"},
			},
			{
				ID:       "full",
				Kind:     KindTool,
				Label:    "Enable flag everywhere",
				Defaults: map[string]interface{}{"tool": "flag_enable", "feature": "{{feature}}", "percent": 100},
			},
			{
				ID:       "rollback",
				Kind:     KindTool,
				Label:    "Disable flag",
				Defaults: map[string]interface{}{"tool": "flag_disable", "feature": "{{feature}}"},
			},
			{
				ID:       "commit",
				Kind:     KindTool,
				Label:    "Commit change",
				Defaults: map[string]interface{}{"message": "{{instruction}}"},
			},
			{ID: "done", Kind: KindOutput, Label: "Pipeline finished"},
		},
		Edges: []Edge{
			{From: "intake", To: "classify"},
			{From: "classify", To: "search"},
			{From: "search", To: "diff"},
			{From: "diff", To: "sandbox"},
			{From: "sandbox", To: "linter"},
			{From: "linter", To: "typecheck"},
			{From: "typecheck", To: "tests"},
			{From: "tests", To: "smoke"},
			{From: "smoke", To: "checks"},

			// Quality gate: all green goes to review, failures retry through
			// the reflect loop until the ceiling, then give up.
			{From: "checks", To: "review", Condition: "linter.ok && typecheck.ok && tests.ok && smoke.ok"},
			{From: "checks", To: "reflect", Condition: "retry < 3", Effects: map[string]string{"retry": "retry + 1"}},
			{From: "checks", To: "done", Condition: CondOtherwise, Effects: map[string]string{"outcome": "checks_failed"}},
			{From: "reflect", To: "sandbox"},

			// Suspends here until the approval request is resolved.
			{From: "review", To: "canary", Condition: CondApproved},

			{From: "canary", To: "canary_metrics"},
			{From: "canary_metrics", To: "expand", Condition: "metrics.error_rate <= error_ceiling && metrics.vitals_delta >= vitals_floor"},
			{From: "canary_metrics", To: "rollback", Condition: CondOtherwise},
			{From: "expand", To: "expand_metrics"},
			{From: "expand_metrics", To: "full", Condition: "metrics.error_rate <= error_ceiling && metrics.vitals_delta >= vitals_floor"},
			{From: "expand_metrics", To: "rollback", Condition: CondOtherwise},
			{From: "full", To: "commit"},
			{From: "commit", To: "done", Effects: map[string]string{"outcome": "committed"}},
			{From: "rollback", To: "done", Effects: map[string]string{"outcome": "rolled_back"}},
		},
	}
}
