package template

import (
	"context"
	"strings"
)

// tplNode is a top-level template AST node: literal text, an interpolation,
// or a control-flow block.
type tplNode interface {
	render(ctx context.Context, data map[string]interface{}) (string, error)
}

type textNode struct{ text string }

func (t *textNode) render(context.Context, map[string]interface{}) (string, error) {
	return t.text, nil
}

type exprNode struct {
	expr node
	pos  int
}

func (e *exprNode) render(ctx context.Context, data map[string]interface{}) (string, error) {
	v, err := evalWithDeadline(ctx, e.expr, data)
	if err != nil {
		return "", &RenderError{Message: err.Error()}
	}
	return stringify(v), nil
}

type ifNode struct {
	cond        node
	thenBranch  []tplNode
	elseBranch  []tplNode
}

func (n *ifNode) render(ctx context.Context, data map[string]interface{}) (string, error) {
	v, err := evalWithDeadline(ctx, n.cond, data)
	if err != nil {
		return "", &RenderError{Message: err.Error()}
	}
	branch := n.elseBranch
	if truthy(v) {
		branch = n.thenBranch
	}
	var sb strings.Builder
	for _, c := range branch {
		s, err := c.render(ctx, data)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

type forNode struct {
	varName string
	list    node
	body    []tplNode
}

func (n *forNode) render(ctx context.Context, data map[string]interface{}) (string, error) {
	v, err := evalWithDeadline(ctx, n.list, data)
	if err != nil {
		return "", &RenderError{Message: err.Error()}
	}
	list, ok := asList(v)
	if !ok {
		return "", &RenderError{Message: "for loop target is not a list"}
	}
	var sb strings.Builder
	for _, item := range list {
		select {
		case <-ctx.Done():
			return "", &RenderError{Message: "timeout"}
		default:
		}
		loopData := make(map[string]interface{}, len(data)+1)
		for k, v := range data {
			loopData[k] = v
		}
		loopData[n.varName] = item
		for _, c := range n.body {
			s, err := c.render(ctx, loopData)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
		}
	}
	return sb.String(), nil
}

// --- scanning raw {{ }} / {% %} segments out of the template text ---

type rawSegment struct {
	kind    string // "text", "expr", "if", "else", "endif", "for", "endfor"
	text    string
	exprSrc string
	pos     int
	forVar  string
	forListSrc string
}

func scanSegments(src string) ([]rawSegment, error) {
	var segs []rawSegment
	i := 0
	for i < len(src) {
		exprStart := strings.Index(src[i:], "{{")
		blockStart := strings.Index(src[i:], "{%")
		var next int
		var isBlock bool
		switch {
		case exprStart < 0 && blockStart < 0:
			segs = append(segs, rawSegment{kind: "text", text: src[i:]})
			return segs, nil
		case exprStart < 0:
			next, isBlock = blockStart, true
		case blockStart < 0:
			next, isBlock = exprStart, false
		case exprStart < blockStart:
			next, isBlock = exprStart, false
		default:
			next, isBlock = blockStart, true
		}

		if next > 0 {
			segs = append(segs, rawSegment{kind: "text", text: src[i : i+next]})
		}

		absStart := i + next
		if isBlock {
			end := strings.Index(src[absStart:], "%}")
			if end < 0 {
				line, col := lineCol(src, absStart)
				return nil, &ParseError{Line: line, Column: col, Message: "unterminated {% block %}"}
			}
			inner := strings.TrimSpace(src[absStart+2 : absStart+end])
			seg, err := parseBlockTag(inner, absStart+2)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			i = absStart + end + 2
		} else {
			end := strings.Index(src[absStart:], "}}")
			if end < 0 {
				line, col := lineCol(src, absStart)
				return nil, &ParseError{Line: line, Column: col, Message: "unterminated {{ expression }}"}
			}
			inner := strings.TrimSpace(src[absStart+2 : absStart+end])
			segs = append(segs, rawSegment{kind: "expr", exprSrc: inner, pos: absStart + 2})
			i = absStart + end + 2
		}
	}
	return segs, nil
}

func parseBlockTag(inner string, pos int) (rawSegment, error) {
	switch {
	case inner == "else":
		return rawSegment{kind: "else", pos: pos}, nil
	case inner == "endif":
		return rawSegment{kind: "endif", pos: pos}, nil
	case inner == "endfor":
		return rawSegment{kind: "endfor", pos: pos}, nil
	case strings.HasPrefix(inner, "if "):
		return rawSegment{kind: "if", exprSrc: strings.TrimSpace(inner[3:]), pos: pos}, nil
	case strings.HasPrefix(inner, "for "):
		rest := strings.TrimSpace(inner[4:])
		parts := strings.SplitN(rest, " in ", 2)
		if len(parts) != 2 {
			line, col := lineCol(inner, 0)
			return rawSegment{}, &ParseError{Line: line, Column: col, Message: "malformed for tag, expected 'for x in list'"}
		}
		return rawSegment{kind: "for", forVar: strings.TrimSpace(parts[0]), forListSrc: strings.TrimSpace(parts[1]), pos: pos}, nil
	default:
		line, col := lineCol(inner, 0)
		return rawSegment{}, &ParseError{Line: line, Column: col, Message: "unknown block tag: " + inner}
	}
}

// parseTemplate compiles template source into a tree of tplNode.
func parseTemplate(src string) ([]tplNode, error) {
	segs, err := scanSegments(src)
	if err != nil {
		return nil, err
	}
	idx := 0
	nodes, _, err := parseSegments(src, segs, &idx, "")
	if err != nil {
		return nil, err
	}
	if idx != len(segs) {
		return nil, &ParseError{Message: "unexpected trailing block tag"}
	}
	return nodes, nil
}

// parseSegments consumes segs[*idx:] building a node list, stopping at one
// of stopAt's terminator kinds (or EOF, when stopAt == "").
func parseSegments(src string, segs []rawSegment, idx *int, stopAt string) ([]tplNode, string, error) {
	var out []tplNode
	for *idx < len(segs) {
		seg := segs[*idx]
		if stopAt != "" && (seg.kind == "else" || seg.kind == "endif" || seg.kind == "endfor") {
			return out, seg.kind, nil
		}
		switch seg.kind {
		case "text":
			out = append(out, &textNode{text: seg.text})
			*idx++
		case "expr":
			n, err := parseExpr(seg.exprSrc, seg.pos)
			if err != nil {
				line, col := lineCol(src, seg.pos)
				return nil, "", &ParseError{Line: line, Column: col, Message: err.Error()}
			}
			out = append(out, &exprNode{expr: n, pos: seg.pos})
			*idx++
		case "if":
			cond, err := parseExpr(seg.exprSrc, seg.pos)
			if err != nil {
				line, col := lineCol(src, seg.pos)
				return nil, "", &ParseError{Line: line, Column: col, Message: err.Error()}
			}
			*idx++
			thenNodes, stop, err := parseSegments(src, segs, idx, "if")
			if err != nil {
				return nil, "", err
			}
			var elseNodes []tplNode
			if stop == "else" {
				*idx++
				elseNodes, stop, err = parseSegments(src, segs, idx, "if")
				if err != nil {
					return nil, "", err
				}
			}
			if stop != "endif" {
				return nil, "", &ParseError{Message: "expected {% endif %}"}
			}
			*idx++
			out = append(out, &ifNode{cond: cond, thenBranch: thenNodes, elseBranch: elseNodes})
		case "for":
			listExpr, err := parseExpr(seg.forListSrc, seg.pos)
			if err != nil {
				line, col := lineCol(src, seg.pos)
				return nil, "", &ParseError{Line: line, Column: col, Message: err.Error()}
			}
			*idx++
			body, stop, err := parseSegments(src, segs, idx, "for")
			if err != nil {
				return nil, "", err
			}
			if stop != "endfor" {
				return nil, "", &ParseError{Message: "expected {% endfor %}"}
			}
			*idx++
			out = append(out, &forNode{varName: seg.forVar, list: listExpr, body: body})
		default:
			return nil, "", &ParseError{Message: "unexpected block tag: " + seg.kind}
		}
	}
	return out, "", nil
}
