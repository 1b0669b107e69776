package builtins

import (
	"context"
	"regexp"

	"github.com/coflow/coflow/pkg/steptype"
)

// ---------------------------------------------------------------------------
// Branch (if/else)
// ---------------------------------------------------------------------------

type branchExecutor struct{}

func newBranchExecutor() *branchExecutor { return &branchExecutor{} }

func (e *branchExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "branch", Name: "Branch (if/else)", Category: "control_flow",
		Description: "Routes a token to true or false based on a condition.",
		Icon:        "git-branch", Kind: steptype.KindControlFlow,
	}
}

func (e *branchExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if _, ok := config["condition"]; !ok {
		return []steptype.FieldError{{Field: "condition", Message: "condition is required"}}
	}
	return nil
}

// truthyConfigValue applies the fixed truthiness rules of §4.3: false, the
// literal strings "false"/"0"/"", nil, and the number 0 are false.
func truthyConfigValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	default:
		return true
	}
}

func (e *branchExecutor) Execute(_ context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	passData := configBool(config, "pass_data", true)
	route := "false"
	if truthyConfigValue(config["condition"]) {
		route = "true"
	}
	var out interface{}
	if passData {
		out = input
	}
	return steptype.OK(map[string]interface{}{"route": route, "data": out}), nil
}

// ---------------------------------------------------------------------------
// Switch
// ---------------------------------------------------------------------------

type switchExecutor struct{}

func newSwitchExecutor() *switchExecutor { return &switchExecutor{} }

func (e *switchExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "switch", Name: "Switch", Category: "control_flow",
		Description: "Routes a token to the first matching case's output.",
		Icon:        "shuffle", Kind: steptype.KindControlFlow,
	}
}

func (e *switchExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if _, ok := config["value"]; !ok {
		return []steptype.FieldError{{Field: "value", Message: "value is required"}}
	}
	return nil
}

func (e *switchExecutor) Execute(_ context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	value := config["value"]
	mode := configString(config, "mode", "equals")
	defaultOutput := configString(config, "default_output", "default")

	cases, _ := config["cases"].([]interface{})
	for _, c := range cases {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		match := cm["match"]
		output, _ := cm["output"].(string)
		if switchMatches(mode, value, match) {
			return steptype.OK(map[string]interface{}{"route": output}), nil
		}
	}
	return steptype.OK(map[string]interface{}{"route": defaultOutput}), nil
}

func switchMatches(mode string, value, match interface{}) bool {
	switch mode {
	case "equals":
		return valuesEqual(value, match)
	case "contains":
		vs, vok := value.(string)
		ms, mok := match.(string)
		return vok && mok && containsSubstring(vs, ms)
	case "regex":
		vs, vok := value.(string)
		ms, mok := match.(string)
		if !vok || !mok {
			return false
		}
		re, err := regexp.Compile(ms)
		if err != nil {
			return false
		}
		return re.MatchString(vs)
	case "expression":
		return truthyConfigValue(match)
	default:
		return false
	}
}

func containsSubstring(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func valuesEqual(a, b interface{}) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

type mergeExecutor struct{}

func newMergeExecutor() *mergeExecutor { return &mergeExecutor{} }

func (e *mergeExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "merge", Name: "Merge", Category: "control_flow",
		Description: "Joins multiple parent outputs by mode and combine strategy.",
		Icon:        "git-merge", Kind: steptype.KindControlFlow,
	}
}

func (e *mergeExecutor) ValidateConfig(map[string]interface{}) []steptype.FieldError { return nil }

// Execute expects input to be a map from parent step id to produced value
// (possibly a skip-marker map {"__skip": true}). The engine's join logic
// (pkg/engine) is responsible for assembling this mapping and for the
// wait_any/wait_all gating described in §4.3 before invoking this executor.
func (e *mergeExecutor) Execute(_ context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	parents, ok := input.(map[string]interface{})
	if !ok {
		return steptype.Err("merge: input is not a parent-keyed mapping"), nil
	}
	strategy := configString(config, "combine_strategy", "merge")

	switch strategy {
	case "first":
		for _, v := range parents {
			if !isSkipValue(v) {
				return steptype.OK(v), nil
			}
		}
		return steptype.Skip("all parents skipped"), nil
	case "merge":
		out := make(map[string]interface{})
		for _, v := range parents {
			if m, ok := v.(map[string]interface{}); ok {
				for k, vv := range m {
					out[k] = vv
				}
			}
		}
		return steptype.OK(out), nil
	case "append":
		var out []interface{}
		for _, v := range parents {
			if list, ok := v.([]interface{}); ok {
				out = append(out, list...)
			} else {
				out = append(out, v)
			}
		}
		return steptype.OK(out), nil
	case "object":
		return steptype.OK(parents), nil
	default:
		return steptype.Err("merge: unknown combine_strategy " + strategy), nil
	}
}

func isSkipValue(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	skip, _ := m["__skip"].(bool)
	return skip
}
