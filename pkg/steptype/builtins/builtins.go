// Package builtins implements the fixed set of step-type executors the
// execution engine ships with (§4.3): HTTP, math, text ops, transform,
// debug, wait, split/aggregate items, branch, switch, merge, and triggers.
//
// Grounded on evalgo-org-eve/executor/executor.go's Executor/Result shape
// for the handler contract, and on the other_examples n8n-work engine
// reference for the split/aggregate "item" fan-out semantics.
package builtins

import "github.com/coflow/coflow/pkg/steptype"

// RegisterAll registers every built-in executor into reg. Called once at
// process startup; the step-type set is closed after this point (§9).
func RegisterAll(reg steptype.Registry) error {
	executors := []steptype.Executor{
		newHTTPRequestExecutor(),
		newMathExecutor(),
		newBranchExecutor(),
		newSwitchExecutor(),
		newMergeExecutor(),
		newSplitItemsExecutor(),
		newAggregateItemsExecutor(),
		newDebugExecutor(),
		newWaitExecutor(),
		newJSONParserExecutor(),
		newDataTransformExecutor(),
		newFormatStringExecutor(),
		newStringOpsExecutor(),
		newManualTriggerExecutor(),
		newWebhookTriggerExecutor(),
		newScheduleTriggerExecutor(),
	}
	for _, e := range executors {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}

func configString(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func configFloat(cfg map[string]interface{}, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func configBool(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
