// Package template implements the restricted string-templating language used
// to evaluate step configuration against a per-step execution context:
// interpolations `{{ path | filter: arg }}` and block tags
// `{% if %}...{% endif %}` / `{% for x in list %}...{% endfor %}`.
//
// The overall shape — an Engine wrapping an LRU cache of compiled programs,
// with a distinction between "standalone expression" (returns the native
// value) and "interpolation" (returns a string) rendering modes — is
// grounded on rashadism-openchoreo/internal/template's CEL-based Engine.
// The expression language itself is hand-written: CEL has no pipe-filter
// chain or {% %} block-tag notion, so reusing it would not produce the
// templating language this engine is required to speak.
package template

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout is the per-template evaluation deadline (§4.2).
const DefaultTimeout = 5 * time.Second

// Engine compiles and evaluates templates against a context map.
type Engine struct {
	cache   *lruCache[[]tplNode]
	timeout time.Duration
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithTimeout overrides the default per-template evaluation deadline.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithCacheSize overrides the compiled-program cache capacity.
func WithCacheSize(n int) EngineOption {
	return func(e *Engine) { e.cache = newLRUCache[[]tplNode](n) }
}

// DisableCache turns off program caching — every Render recompiles.
func DisableCache() EngineOption {
	return func(e *Engine) { e.cache = nil }
}

// NewEngine constructs an Engine with the default cache size and timeout.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		cache:   newLRUCache[[]tplNode](defaultProgramCacheSize),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) compile(src string) ([]tplNode, error) {
	if e.cache != nil {
		if nodes, ok := e.cache.get(src); ok {
			return nodes, nil
		}
	}
	nodes, err := parseTemplate(src)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.put(src, nodes)
	}
	return nodes, nil
}

// IsStandaloneExpression reports whether src is exactly one `{{ ... }}`
// interpolation with no surrounding text — in that case Render returns the
// expression's native value type rather than a stringified interpolation.
func IsStandaloneExpression(src string) bool {
	trimmed := strings.TrimSpace(src)
	return strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1
}

// Render evaluates src against data. When src is a standalone expression the
// result is the expression's native Go value (string/float64/bool/map/...);
// otherwise it is the fully interpolated string.
func (e *Engine) Render(data map[string]interface{}, src string) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	nodes, err := e.compile(src)
	if err != nil {
		return nil, err
	}

	if IsStandaloneExpression(src) && len(nodes) == 1 {
		if en, ok := nodes[0].(*exprNode); ok {
			v, err := evalWithDeadline(ctx, en.expr, data)
			if err != nil {
				return nil, &RenderError{Message: err.Error()}
			}
			return v, nil
		}
	}

	var sb strings.Builder
	for _, n := range nodes {
		s, err := n.render(ctx, data)
		if err != nil {
			return nil, err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// RenderString is a convenience wrapper for call sites that always want a
// string result (most of them — see the golden rule in §4.3).
func (e *Engine) RenderString(data map[string]interface{}, src string) (string, error) {
	v, err := e.Render(data, src)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// EvaluateDeep walks a nested structure, evaluating any string leaves that
// contain "{{" or "{%"; all other leaves pass through unchanged.
func (e *Engine) EvaluateDeep(data map[string]interface{}, value interface{}) (interface{}, error) {
	switch val := value.(type) {
	case string:
		if strings.Contains(val, "{{") || strings.Contains(val, "{%") {
			return e.Render(data, val)
		}
		return val, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			rv, err := e.EvaluateDeep(data, v)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			rv, err := e.EvaluateDeep(data, v)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return value, nil
	}
}

func evalWithDeadline(ctx context.Context, n node, data map[string]interface{}) (interface{}, error) {
	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := n.eval(data)
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout")
	case r := <-done:
		return r.v, r.err
	}
}
