package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderStandaloneExpressionReturnsNativeType(t *testing.T) {
	e := NewEngine()
	v, err := e.Render(map[string]interface{}{"json": map[string]interface{}{"n": 3.0}}, "{{ json.n }}")
	require.NoError(t, err)
	require.Equal(t, 3.0, v)
}

func TestRenderInterpolation(t *testing.T) {
	e := NewEngine()
	v, err := e.Render(map[string]interface{}{"json": map[string]interface{}{"name": "ada"}}, "hello {{ json.name | upcase }}!")
	require.NoError(t, err)
	require.Equal(t, "hello ADA!", v)
}

func TestRenderMissingPathIsEmpty(t *testing.T) {
	e := NewEngine()
	v, err := e.Render(map[string]interface{}{"json": map[string]interface{}{}}, "x={{ json.missing.deep }}y")
	require.NoError(t, err)
	require.Equal(t, "x=y", v)
}

func TestRenderIfElse(t *testing.T) {
	e := NewEngine()
	tpl := "{% if json.status >= 400 %}err{% else %}ok{% endif %}"
	v, err := e.Render(map[string]interface{}{"json": map[string]interface{}{"status": 500.0}}, tpl)
	require.NoError(t, err)
	require.Equal(t, "err", v)

	v, err = e.Render(map[string]interface{}{"json": map[string]interface{}{"status": 200.0}}, tpl)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestRenderFor(t *testing.T) {
	e := NewEngine()
	tpl := "{% for x in json.items %}[{{ x }}]{% endfor %}"
	v, err := e.Render(map[string]interface{}{"json": map[string]interface{}{"items": []interface{}{1.0, 2.0, 3.0}}}, tpl)
	require.NoError(t, err)
	require.Equal(t, "[1][2][3]", v)
}

func TestFiltersDigAndDefault(t *testing.T) {
	e := NewEngine()
	ctx := map[string]interface{}{"json": map[string]interface{}{"a": map[string]interface{}{"b": "value"}}}
	v, err := e.Render(ctx, "{{ json | dig: 'a.b' }}")
	require.NoError(t, err)
	require.Equal(t, "value", v)

	v, err = e.Render(map[string]interface{}{"json": map[string]interface{}{}}, "{{ json.missing | default: 'fallback' }}")
	require.NoError(t, err)
	require.Equal(t, "fallback", v)
}

func TestTruthinessRules(t *testing.T) {
	cases := []struct {
		v    interface{}
		want bool
	}{
		{false, false}, {"false", false}, {"0", false}, {"", false}, {nil, false}, {0.0, false},
		{true, true}, {"yes", true}, {1.0, true}, {"0.0", true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, truthy(c.v), "value=%v", c.v)
	}
}

func TestParseErrorUnterminatedExpression(t *testing.T) {
	e := NewEngine()
	_, err := e.Render(nil, "{{ json.a")
	require.Error(t, err)
}

func TestEvaluateDeepWalksNestedStructures(t *testing.T) {
	e := NewEngine()
	ctx := map[string]interface{}{"json": map[string]interface{}{"n": "ok"}}
	in := map[string]interface{}{
		"literal": 5.0,
		"nested": map[string]interface{}{
			"templated": "{{ json.n }}",
		},
		"list": []interface{}{"{{ json.n }}", "plain"},
	}
	out, err := e.EvaluateDeep(ctx, in)
	require.NoError(t, err)
	m := out.(map[string]interface{})
	require.Equal(t, 5.0, m["literal"])
	require.Equal(t, "ok", m["nested"].(map[string]interface{})["templated"])
	require.Equal(t, []interface{}{"ok", "plain"}, m["list"])
}
