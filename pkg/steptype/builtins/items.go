package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/coflow/coflow/pkg/steptype"
)

// ---------------------------------------------------------------------------
// Split items
// ---------------------------------------------------------------------------

type splitItemsExecutor struct{}

func newSplitItemsExecutor() *splitItemsExecutor { return &splitItemsExecutor{} }

func (e *splitItemsExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "split_items", Name: "Split Items", Category: "items",
		Description: "Fans a list field out into one item token per element.",
		Icon:        "split", Kind: steptype.KindTransform,
	}
}

func (e *splitItemsExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configString(config, "field", "") == "" {
		return []steptype.FieldError{{Field: "field", Message: "field is required"}}
	}
	return nil
}

// Execute returns the resolved list under "items" in its output; the engine
// (not this executor) is responsible for turning that list into an items
// Token fan-out, since item-token bookkeeping is engine state, not step
// behavior (golden rule, §4.3).
func (e *splitItemsExecutor) Execute(_ context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	field := configString(config, "field", "")
	includeParent := configBool(config, "include_parent", false)
	flatten := configBool(config, "flatten", false)
	keyField := configString(config, "key_field", "")

	raw, _ := config["__resolved_field_value"]
	list, ok := raw.([]interface{})
	if !ok {
		return steptype.Err("split_items: field " + field + " is not a list"), nil
	}

	if flatten {
		var flat []interface{}
		for _, v := range list {
			if sub, ok := v.([]interface{}); ok {
				flat = append(flat, sub...)
			} else {
				flat = append(flat, v)
			}
		}
		list = flat
	}

	var parent map[string]interface{}
	if includeParent {
		if m, ok := input.(map[string]interface{}); ok {
			parent = m
		}
	}

	items := make([]interface{}, 0, len(list))
	for i, v := range list {
		items = append(items, wrapSplitElement(v, i, keyField, parent))
	}
	return steptype.OK(map[string]interface{}{"items": items, "count": float64(len(items))}), nil
}

// wrapSplitElement turns one split_items list element into the map that
// becomes that item's value, per §4.3: a non-map element is always wrapped
// as {"value": e}; include_parent merges the parent's scalar fields in
// underneath (item fields win on conflict); key_field stores the element's
// original index.
func wrapSplitElement(v interface{}, index int, keyField string, parent map[string]interface{}) map[string]interface{} {
	m, isMap := v.(map[string]interface{})
	wrapped := make(map[string]interface{})
	if isMap {
		for k, val := range m {
			wrapped[k] = val
		}
	} else {
		wrapped["value"] = v
	}

	for k, val := range parent {
		if isScalar(val) {
			if _, exists := wrapped[k]; !exists {
				wrapped[k] = val
			}
		}
	}

	if keyField != "" {
		wrapped[keyField] = float64(index)
	}
	return wrapped
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return false
	default:
		return true
	}
}

// ---------------------------------------------------------------------------
// Aggregate items
// ---------------------------------------------------------------------------

type aggregateItemsExecutor struct{}

func newAggregateItemsExecutor() *aggregateItemsExecutor { return &aggregateItemsExecutor{} }

func (e *aggregateItemsExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "aggregate_items", Name: "Aggregate Items", Category: "items",
		Description: "Collapses a set of item tokens back into a single value.",
		Icon:        "merge", Kind: steptype.KindTransform,
	}
}

func (e *aggregateItemsExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	mode := configString(config, "mode", "array")
	switch mode {
	case "array", "first", "last", "group_by", "summarize":
		return nil
	default:
		return []steptype.FieldError{{Field: "mode", Message: "unknown aggregate mode"}}
	}
}

// Execute expects input to be the ordered set of resolved item values/errors
// for this aggregation point, assembled by the engine from the upstream
// items token (§4.4's "join" phase).
func (e *aggregateItemsExecutor) Execute(_ context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	items, ok := input.([]interface{})
	if !ok {
		return steptype.Err("aggregate_items: input is not an item list"), nil
	}
	includeErrors := configBool(config, "include_errors", false)
	if !includeErrors {
		filtered := make([]interface{}, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]interface{}); ok {
				if _, hasErr := m["__error"]; hasErr {
					continue
				}
			}
			filtered = append(filtered, it)
		}
		items = filtered
	}

	mode := configString(config, "mode", "array")
	switch mode {
	case "array":
		if outputField := configString(config, "output_field", ""); outputField != "" {
			return steptype.OK(map[string]interface{}{outputField: items}), nil
		}
		return steptype.OK(items), nil
	case "first":
		if len(items) == 0 {
			return steptype.Skip("no items to aggregate"), nil
		}
		return steptype.OK(items[0]), nil
	case "last":
		if len(items) == 0 {
			return steptype.Skip("no items to aggregate"), nil
		}
		return steptype.OK(items[len(items)-1]), nil
	case "group_by":
		groupField := configString(config, "group_field", "")
		groups := make(map[string][]interface{})
		var order []string
		for _, it := range items {
			key := groupKey(it, groupField)
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], it)
		}
		out := make(map[string]interface{}, len(groups))
		for k, v := range groups {
			out[k] = v
		}
		return steptype.OK(out), nil
	case "summarize":
		return summarizeItems(config, items), nil
	default:
		return steptype.Err("unknown aggregate mode " + mode), nil
	}
}

func groupKey(item interface{}, field string) string {
	if field == "" {
		return stringifyKey(item)
	}
	m, ok := item.(map[string]interface{})
	if !ok {
		return ""
	}
	return stringifyKey(m[field])
}

func stringifyKey(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return stringify(val)
	}
}

// stringify renders any value the way the template engine embeds it into
// interpolated strings: strings pass through, numbers use their shortest
// form, everything else falls back to JSON.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func summarizeItems(config map[string]interface{}, items []interface{}) steptype.Outcome {
	field := configString(config, "field", "")
	outputField := configString(config, "output_field", "result")
	ops, _ := config["operations"].([]interface{})
	if len(ops) == 0 {
		ops = []interface{}{"count"}
	}

	var nums []float64
	for _, it := range items {
		v := it
		if field != "" {
			if m, ok := it.(map[string]interface{}); ok {
				v = m[field]
			}
		}
		if f, ok := v.(float64); ok {
			nums = append(nums, f)
		}
	}

	out := make(map[string]interface{})
	for _, opRaw := range ops {
		op, _ := opRaw.(string)
		switch op {
		case "count":
			out["count"] = float64(len(items))
		case "sum":
			out["sum"] = sumFloats(nums)
		case "avg":
			if len(nums) == 0 {
				out["avg"] = float64(0)
			} else {
				out["avg"] = sumFloats(nums) / float64(len(nums))
			}
		case "min":
			out["min"] = minFloat(nums)
		case "max":
			out["max"] = maxFloat(nums)
		}
	}
	return steptype.OK(map[string]interface{}{outputField: out})
}

func sumFloats(nums []float64) float64 {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s
}

func minFloat(nums []float64) float64 {
	if len(nums) == 0 {
		return 0
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n < m {
			m = n
		}
	}
	return m
}

func maxFloat(nums []float64) float64 {
	if len(nums) == 0 {
		return 0
	}
	m := nums[0]
	for _, n := range nums[1:] {
		if n > m {
			m = n
		}
	}
	return m
}
