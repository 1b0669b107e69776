package engine

import (
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/graph"
)

// errorRoute looks among a step's own outgoing connections for one whose
// source_output label equals the error category, implementing the §4.4
// step-3g routing policy ("if the step has a downstream branch whose route
// label equals the error category, the error flows there").
func errorRoute(g *graph.Graph, stepID, reason string) (string, bool) {
	for _, c := range g.Children(stepID) {
		if c.SourceOutput == reason {
			return reason, true
		}
	}
	return "", false
}

// outcomeToToken interprets a successful Outcome.Output as a routed token.
// By convention a step that wants to route (branch, switch) returns a map
// carrying a "route" string key; "data" if present becomes the token
// payload, otherwise the step's own input passes through unchanged. Any
// other output shape is a plain, unrouted ("main") data token.
func outcomeToToken(output interface{}, fallbackInput interface{}) workflow.Token {
	if m, ok := output.(map[string]interface{}); ok {
		if route, hasRoute := m["route"].(string); hasRoute {
			data := fallbackInput
			if d, hasData := m["data"]; hasData {
				data = d
			}
			return workflow.Token{Kind: workflow.TokenData, Route: route, Data: data}
		}
	}
	return workflow.NewDataToken(output)
}

// splitOutputToToken turns a split_items executor's {"items": [...]} output
// into the items Token that fans out downstream execution. Converting the
// step's declared "items" list into engine-level item bookkeeping is the
// engine's job, not the executor's (§4.3's golden rule commentary on
// split_items).
func splitOutputToToken(output interface{}) workflow.Token {
	m, ok := output.(map[string]interface{})
	if !ok {
		return workflow.NewItemsToken(nil)
	}
	raw, _ := m["items"].([]interface{})
	items := make([]workflow.Item, len(raw))
	for i, v := range raw {
		items[i] = workflow.Item{Index: i, Value: v}
	}
	return workflow.NewItemsToken(items)
}

// itemValues extracts item payloads from an items token, for consumers
// (notably aggregate_items) that want the plain value list. An errored item
// is dropped unless includeErrors is set, in which case it is carried
// through as {"value": ..., "__error": ...} rather than its bare value, so
// a downstream consumer can still tell it apart from a successful item.
func itemValues(tok workflow.Token, includeErrors bool) []interface{} {
	out := make([]interface{}, 0, len(tok.Items))
	for _, it := range tok.Items {
		if it.Error != "" {
			if !includeErrors {
				continue
			}
			out = append(out, map[string]interface{}{"value": it.Value, "__error": it.Error})
			continue
		}
		out = append(out, it.Value)
	}
	return out
}
