package template

import "fmt"

// node is any evaluable expression AST node.
type node interface {
	eval(ctx map[string]interface{}) (interface{}, error)
}

// literal wraps a constant value.
type literal struct{ value interface{} }

func (l literal) eval(map[string]interface{}) (interface{}, error) { return l.value, nil }

// pathExpr walks a dotted/indexed path from the context root.
type pathExpr struct{ parts []pathPart }

type pathPart struct {
	key   string // set when this part is a map key
	index node   // set when this part is a bracket index expression
}

func (p pathExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	var cur interface{} = ctx
	for _, part := range p.parts {
		if cur == nil {
			return nil, nil
		}
		if part.index != nil {
			idx, err := part.index.eval(ctx)
			if err != nil {
				return nil, err
			}
			cur = indexInto(cur, idx)
			continue
		}
		cur = lookupKey(cur, part.key)
	}
	return cur, nil
}

func lookupKey(v interface{}, key string) interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m[key]
	default:
		return nil
	}
}

func indexInto(v interface{}, idx interface{}) interface{} {
	switch arr := v.(type) {
	case []interface{}:
		n, ok := toInt(idx)
		if !ok || n < 0 || n >= len(arr) {
			return nil
		}
		return arr[n]
	case map[string]interface{}:
		if s, ok := idx.(string); ok {
			return arr[s]
		}
		return nil
	default:
		return nil
	}
}

// binaryExpr applies a comparison or arithmetic operator.
type binaryExpr struct {
	op          string
	left, right node
}

func (b binaryExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	lv, err := b.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	rv, err := b.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return applyBinary(b.op, lv, rv)
}

func applyBinary(op string, lv, rv interface{}) (interface{}, error) {
	switch op {
	case "==":
		return looseEqual(lv, rv), nil
	case "!=":
		return !looseEqual(lv, rv), nil
	case "<", "<=", ">", ">=":
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	case "+", "-", "*", "/", "%":
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			if op == "+" {
				return fmt.Sprintf("%v%v", stringify(lv), stringify(rv)), nil
			}
			return nil, fmt.Errorf("arithmetic on non-numeric operand")
		}
		switch op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return lf / rf, nil
		default:
			if rf == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			mod := int64(lf) % int64(rf)
			return float64(mod), nil
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// andExpr / orExpr / notExpr implement boolean logic with the truthiness
// rules from §4.3: false, "false", "0", "", nil, 0 are false; else true.
type andExpr struct{ left, right node }

func (e andExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	lv, err := e.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	if !truthy(lv) {
		return false, nil
	}
	rv, err := e.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type orExpr struct{ left, right node }

func (e orExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	lv, err := e.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	if truthy(lv) {
		return true, nil
	}
	rv, err := e.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type notExpr struct{ inner node }

func (e notExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	v, err := e.inner.eval(ctx)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type negateExpr struct{ inner node }

func (e negateExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	v, err := e.inner.eval(ctx)
	if err != nil {
		return nil, err
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot negate non-numeric value")
	}
	return -f, nil
}

// filterExpr pipes a value through a named filter with evaluated arguments.
type filterExpr struct {
	inner node
	name  string
	args  []node
}

func (f filterExpr) eval(ctx map[string]interface{}) (interface{}, error) {
	v, err := f.inner.eval(ctx)
	if err != nil {
		return nil, err
	}
	fn, ok := filters[f.name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", f.name)
	}
	args := make([]interface{}, len(f.args))
	for i, a := range f.args {
		av, err := a.eval(ctx)
		if err != nil {
			return nil, err
		}
		args[i] = av
	}
	return fn(v, args)
}

// truthy implements the fixed truthiness rules of §4.3.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

func looseEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
