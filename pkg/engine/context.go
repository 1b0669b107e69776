package engine

import (
	"time"

	"github.com/coflow/coflow/pkg/template"
)

// execInfo is the read-only execution/workflow identity baked into every
// step's template context (§4.2's fixed "execution"/"workflow" keys).
type execInfo struct {
	ExecutionID     string
	ExecutionType   string
	WorkflowID      string
	WorkflowVersion string
}

// buildContext assembles the fixed-key template context for one step
// (§4.2): json, nodes, execution, workflow, variables, now, today. nodes
// contains only entries for ids in upstream — the "upstream visibility
// rule" of §4.4 that keeps a step's config from depending on siblings or
// descendants.
func buildContext(info execInfo, input interface{}, upstream map[string]bool, outputs map[string]stepOutput, variables map[string]interface{}) map[string]interface{} {
	nodes := make(map[string]interface{}, len(upstream))
	for id := range upstream {
		if out, ok := outputs[id]; ok {
			nodes[id] = map[string]interface{}{"json": out.token.Data}
		}
	}
	now := time.Now().UTC()
	return map[string]interface{}{
		"json": input,
		"nodes": nodes,
		"execution": map[string]interface{}{
			"id": info.ExecutionID, "type": info.ExecutionType,
		},
		"workflow": map[string]interface{}{
			"id": info.WorkflowID, "version": info.WorkflowVersion,
		},
		"variables": variables,
		"now":       now.Format(time.RFC3339),
		"today":     now.Format("2006-01-02"),
	}
}

// resolveConfig deep-evaluates a step's raw configuration against ctxData,
// producing resolved_config — the only data an executor's golden rule
// permits it to consume (§4.3).
func resolveConfig(tmpl *template.Engine, ctxData map[string]interface{}, raw map[string]interface{}) (map[string]interface{}, error) {
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	resolved, err := tmpl.EvaluateDeep(ctxData, raw)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, nil
	}
	return out, nil
}
