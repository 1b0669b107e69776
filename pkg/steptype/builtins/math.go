package builtins

import (
	"context"
	"math"

	"github.com/coflow/coflow/pkg/steptype"
)

type mathExecutor struct{}

func newMathExecutor() *mathExecutor { return &mathExecutor{} }

func (e *mathExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "math", Name: "Math", Category: "transform",
		Description: "Applies a unary or binary arithmetic operation.",
		Icon:        "calculator", Kind: steptype.KindTransform,
	}
}

var binaryMathOps = map[string]func(a, b float64) float64{
	"add":      func(a, b float64) float64 { return a + b },
	"subtract": func(a, b float64) float64 { return a - b },
	"multiply": func(a, b float64) float64 { return a * b },
	"divide":   func(a, b float64) float64 { return a / b },
	"modulo":   math.Mod,
	"power":    math.Pow,
	"min":      math.Min,
	"max":      math.Max,
}

var unaryMathOps = map[string]func(a float64) float64{
	"abs":   math.Abs,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"round": math.Round,
	"sqrt":  math.Sqrt,
	"negate": func(a float64) float64 { return -a },
}

func (e *mathExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	op := configString(config, "operation", "")
	var errs []steptype.FieldError
	_, isBinary := binaryMathOps[op]
	_, isUnary := unaryMathOps[op]
	if !isBinary && !isUnary {
		errs = append(errs, steptype.FieldError{Field: "operation", Message: "unknown math operation"})
		return errs
	}
	if _, ok := config["value"]; !ok {
		errs = append(errs, steptype.FieldError{Field: "value", Message: "value is required"})
	}
	if isBinary {
		if _, ok := config["operand"]; !ok {
			errs = append(errs, steptype.FieldError{Field: "operand", Message: "operand is required for binary operations"})
		}
	}
	return errs
}

// Execute reads its operands from the "value"/"operand" config fields
// (the golden-rule pattern: behavior data comes from resolved_config, not
// input).
func (e *mathExecutor) Execute(_ context.Context, config map[string]interface{}, _ interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	op := configString(config, "operation", "")
	value := configFloat(config, "value", 0)

	if fn, ok := binaryMathOps[op]; ok {
		operand := configFloat(config, "operand", 0)
		if op == "divide" && operand == 0 {
			return steptype.Err("division by zero"), nil
		}
		return steptype.OK(map[string]interface{}{"result": fn(value, operand)}), nil
	}
	if fn, ok := unaryMathOps[op]; ok {
		return steptype.OK(map[string]interface{}{"result": fn(value)}), nil
	}
	return steptype.Err("unknown math operation " + op), nil
}
