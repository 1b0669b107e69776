package builtins

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/coflow/coflow/pkg/steptype"
)

// ---------------------------------------------------------------------------
// Debug
// ---------------------------------------------------------------------------

type debugExecutor struct{}

func newDebugExecutor() *debugExecutor { return &debugExecutor{} }

func (e *debugExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "debug", Name: "Debug", Category: "utility",
		Description: "Passes its input through unchanged, for inspection.",
		Icon:        "bug", Kind: steptype.KindTransform,
	}
}

func (e *debugExecutor) ValidateConfig(map[string]interface{}) []steptype.FieldError { return nil }

// Execute is one of the documented golden-rule exceptions: a passthrough
// step reads input directly instead of resolved_config (§4.3).
func (e *debugExecutor) Execute(_ context.Context, _ map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	return steptype.OK(input), nil
}

// ---------------------------------------------------------------------------
// Wait
// ---------------------------------------------------------------------------

type waitExecutor struct{}

func newWaitExecutor() *waitExecutor { return &waitExecutor{} }

func (e *waitExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "wait", Name: "Wait", Category: "utility",
		Description: "Pauses for a fixed duration before continuing.",
		Icon:        "clock", Kind: steptype.KindAction,
	}
}

func (e *waitExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configFloat(config, "duration_ms", 0) < 0 {
		return []steptype.FieldError{{Field: "duration_ms", Message: "duration_ms must be >= 0"}}
	}
	return nil
}

func (e *waitExecutor) Execute(ctx context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	durationMS := configFloat(config, "duration_ms", 0)
	timer := time.NewTimer(time.Duration(durationMS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return steptype.OK(input), nil
	case <-ctx.Done():
		return steptype.Err("wait cancelled: " + ctx.Err().Error()), nil
	}
}

// ---------------------------------------------------------------------------
// JSON parser
// ---------------------------------------------------------------------------

type jsonParserExecutor struct{}

func newJSONParserExecutor() *jsonParserExecutor { return &jsonParserExecutor{} }

func (e *jsonParserExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "json_parser", Name: "JSON Parser", Category: "transform",
		Description: "Parses a string field into structured JSON.",
		Icon:        "braces", Kind: steptype.KindTransform,
	}
}

func (e *jsonParserExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configString(config, "text", "") == "" {
		return []steptype.FieldError{{Field: "text", Message: "text is required"}}
	}
	return nil
}

func (e *jsonParserExecutor) Execute(_ context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	text := configString(config, "text", "")
	var out interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return steptype.Err("invalid json: " + err.Error()), nil
	}
	return steptype.OK(out), nil
}

// ---------------------------------------------------------------------------
// Data transform
// ---------------------------------------------------------------------------

type dataTransformExecutor struct{}

func newDataTransformExecutor() *dataTransformExecutor { return &dataTransformExecutor{} }

func (e *dataTransformExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "data_transform", Name: "Data Transform", Category: "transform",
		Description: "Reshapes an object: pick, omit, merge, set, rename, flatten.",
		Icon:        "shuffle", Kind: steptype.KindTransform,
	}
}

func (e *dataTransformExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	switch configString(config, "mode", "passthrough") {
	case "pick", "omit", "merge", "set", "rename", "flatten", "passthrough":
		return nil
	default:
		return []steptype.FieldError{{Field: "mode", Message: "unknown data_transform mode"}}
	}
}

// Execute reads the object to transform from resolved_config["object"] —
// populated by the engine from the template-resolved source expression —
// rather than from input, since the golden rule routes all step data through
// resolved_config except for the documented identity-transform case
// ("passthrough", handled below by returning input unchanged).
func (e *dataTransformExecutor) Execute(_ context.Context, config map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	mode := configString(config, "mode", "passthrough")
	if mode == "passthrough" {
		return steptype.OK(input), nil
	}

	obj, _ := config["object"].(map[string]interface{})
	if obj == nil {
		obj = map[string]interface{}{}
	}

	switch mode {
	case "pick":
		fields, _ := config["fields"].([]interface{})
		out := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			if key, ok := f.(string); ok {
				if v, present := obj[key]; present {
					out[key] = v
				}
			}
		}
		return steptype.OK(out), nil
	case "omit":
		fields, _ := config["fields"].([]interface{})
		drop := make(map[string]bool, len(fields))
		for _, f := range fields {
			if key, ok := f.(string); ok {
				drop[key] = true
			}
		}
		out := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			if !drop[k] {
				out[k] = v
			}
		}
		return steptype.OK(out), nil
	case "merge":
		with, _ := config["with"].(map[string]interface{})
		out := make(map[string]interface{}, len(obj)+len(with))
		for k, v := range obj {
			out[k] = v
		}
		for k, v := range with {
			out[k] = v
		}
		return steptype.OK(out), nil
	case "set":
		key := configString(config, "key", "")
		out := make(map[string]interface{}, len(obj)+1)
		for k, v := range obj {
			out[k] = v
		}
		if key != "" {
			out[key] = config["value"]
		}
		return steptype.OK(out), nil
	case "rename":
		mapping, _ := config["mapping"].(map[string]interface{})
		out := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			newKey := k
			if target, ok := mapping[k].(string); ok {
				newKey = target
			}
			out[newKey] = v
		}
		return steptype.OK(out), nil
	case "flatten":
		out := make(map[string]interface{})
		flattenInto(out, "", obj)
		return steptype.OK(out), nil
	default:
		return steptype.Err("unknown data_transform mode " + mode), nil
	}
}

func flattenInto(out map[string]interface{}, prefix string, obj map[string]interface{}) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flattenInto(out, key, sub)
		} else {
			out[key] = v
		}
	}
}

// ---------------------------------------------------------------------------
// Format string
// ---------------------------------------------------------------------------

type formatStringExecutor struct{}

func newFormatStringExecutor() *formatStringExecutor { return &formatStringExecutor{} }

func (e *formatStringExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "format_string", Name: "Format String", Category: "transform",
		Description: "Substitutes {field} placeholders in a resolved template string.",
		Icon:        "text", Kind: steptype.KindTransform,
	}
}

func (e *formatStringExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configString(config, "template", "") == "" {
		return []steptype.FieldError{{Field: "template", Message: "template is required"}}
	}
	return nil
}

// Execute expects "template" to already be the engine-resolved interpolation
// result (the template engine, not this executor, performs {{ }} expansion
// per the golden rule); this step exists for cases where the resolved value
// still needs literal placeholder substitution against a values map.
func (e *formatStringExecutor) Execute(_ context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	tmpl := configString(config, "template", "")
	values, _ := config["values"].(map[string]interface{})
	out := tmpl
	for k, v := range values {
		out = strings.ReplaceAll(out, "{"+k+"}", stringify(v))
	}
	return steptype.OK(map[string]interface{}{"text": out}), nil
}

// ---------------------------------------------------------------------------
// String ops
// ---------------------------------------------------------------------------

type stringOpsExecutor struct{}

func newStringOpsExecutor() *stringOpsExecutor { return &stringOpsExecutor{} }

func (e *stringOpsExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "string_ops", Name: "String Operations", Category: "transform",
		Description: "Case conversion, concatenation, split, replace, trim.",
		Icon:        "type", Kind: steptype.KindTransform,
	}
}

func (e *stringOpsExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	switch configString(config, "operation", "") {
	case "upcase", "downcase", "concatenate", "split", "replace", "trim":
		return nil
	default:
		return []steptype.FieldError{{Field: "operation", Message: "unknown string_ops operation"}}
	}
}

func (e *stringOpsExecutor) Execute(_ context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	op := configString(config, "operation", "")
	value := configString(config, "value", "")

	switch op {
	case "upcase":
		return steptype.OK(map[string]interface{}{"result": strings.ToUpper(value)}), nil
	case "downcase":
		return steptype.OK(map[string]interface{}{"result": strings.ToLower(value)}), nil
	case "trim":
		return steptype.OK(map[string]interface{}{"result": strings.TrimSpace(value)}), nil
	case "concatenate":
		parts, _ := config["parts"].([]interface{})
		sep := configString(config, "separator", "")
		strs := make([]string, 0, len(parts))
		for _, p := range parts {
			strs = append(strs, stringify(p))
		}
		return steptype.OK(map[string]interface{}{"result": strings.Join(strs, sep)}), nil
	case "split":
		sep := configString(config, "separator", ",")
		parts := strings.Split(value, sep)
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return steptype.OK(map[string]interface{}{"result": out}), nil
	case "replace":
		from := configString(config, "from", "")
		to := configString(config, "to", "")
		return steptype.OK(map[string]interface{}{"result": strings.ReplaceAll(value, from, to)}), nil
	default:
		return steptype.Err("unknown string_ops operation " + op), nil
	}
}
