package engine

import (
	"strings"
	"sync"

	"github.com/coflow/coflow/pkg/domain/workflow"
)

// stepOutput is the last computed result for a step within one Run.
type stepOutput struct {
	token workflow.Token
}

// inputKind classifies how a step's input was assembled, driving which
// execution path the Drive loop takes.
type inputKind string

const (
	inputSkip   inputKind = "skip"   // a required parent did not fire or cascaded a skip
	inputScalar inputKind = "scalar" // a single value (direct, zipped, or no parents)
	inputMerge  inputKind = "merge"  // parent-id-keyed mapping, for merge steps only
	inputItems  inputKind = "items"  // a single fired parent emitted an items token
)

type stepInput struct {
	kind        inputKind
	scalar      interface{}
	mergeInput  map[string]interface{}
	itemsToken  workflow.Token
}

// joinCache memoizes the zipped scalar list for a given ordered parent-id
// set so sibling children sharing the same parent set do not each redo the
// zip (§4.4 "joins are cached"). Safe for concurrent use: siblings at the
// same topological level may resolve their inputs from separate goroutines.
type joinCache struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func newJoinCache() *joinCache { return &joinCache{values: make(map[string]interface{})} }

func (c *joinCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *joinCache) put(key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

func joinKey(ids []string) string {
	return strings.Join(ids, "\x1f")
}

// resolveStepInput gathers a step's input from its direct parents' already
//-computed outputs, implementing the auto-join / routing / cascading-skip
// rules of §4.3/§4.4.
//
// merge steps receive the full parent-id-keyed mapping regardless of route
// (§4.3's "Input is a mapping from parent step id to produced value").
// Other step types only see parents whose emitted route matches the
// connection's source_output label (default "main"); a skip token on any
// matching parent fires unconditionally (skip cascades through every port,
// mirroring the disabled-step skip-propagation rule of §4.4 step 3a) and
// causes the whole step to cascade to skip rather than run with a missing
// input.
func resolveStepInput(step workflow.Step, parents []workflow.Connection, outputs map[string]stepOutput, cache *joinCache) stepInput {
	if len(parents) == 0 {
		return stepInput{kind: inputScalar, scalar: nil}
	}

	if step.TypeID == "merge" {
		m := make(map[string]interface{}, len(parents))
		for _, c := range parents {
			out, ok := outputs[c.SourceStepID]
			if !ok {
				continue
			}
			if out.token.Kind == workflow.TokenSkip {
				m[c.SourceStepID] = map[string]interface{}{"__skip": true}
			} else {
				m[c.SourceStepID] = out.token.Data
			}
		}
		return stepInput{kind: inputMerge, mergeInput: m}
	}

	var fired []workflow.Connection
	for _, c := range parents {
		out, ok := outputs[c.SourceStepID]
		if !ok {
			continue
		}
		route := c.SourceOutput
		if route == "" {
			route = workflow.DefaultPort
		}
		if out.token.Kind == workflow.TokenSkip {
			fired = append(fired, c)
			continue
		}
		tokenRoute := out.token.Route
		if tokenRoute == "" {
			tokenRoute = workflow.DefaultPort
		}
		if tokenRoute == route {
			fired = append(fired, c)
		}
	}

	if len(fired) == 0 {
		return stepInput{kind: inputSkip}
	}
	for _, c := range fired {
		if outputs[c.SourceStepID].token.Kind == workflow.TokenSkip {
			return stepInput{kind: inputSkip}
		}
	}

	if len(fired) == 1 {
		out := outputs[fired[0].SourceStepID]
		if out.token.Kind == workflow.TokenItems {
			return stepInput{kind: inputItems, itemsToken: out.token}
		}
		return stepInput{kind: inputScalar, scalar: out.token.Data}
	}

	ids := make([]string, len(fired))
	for i, c := range fired {
		ids[i] = c.SourceStepID
	}
	key := joinKey(ids)
	if cache != nil {
		if v, ok := cache.get(key); ok {
			return stepInput{kind: inputScalar, scalar: v}
		}
	}
	list := make([]interface{}, 0, len(fired))
	for _, c := range fired {
		list = append(list, outputs[c.SourceStepID].token.Data)
	}
	if cache != nil {
		cache.put(key, list)
	}
	return stepInput{kind: inputScalar, scalar: list}
}
