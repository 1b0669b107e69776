package template

import "fmt"

// ParseError reports a syntactic failure while compiling a template or an
// expression embedded in one, with a position in the original template text.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse_error: %d:%d: %s", e.Line, e.Column, e.Message)
}

// RenderError reports a failure while evaluating an otherwise well-formed
// template against a context (type mismatch, unknown filter, timeout).
type RenderError struct {
	Line    int
	Column  int
	Message string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render_error: %d:%d: %s", e.Line, e.Column, e.Message)
}

// lineCol converts a byte offset in src into a 1-based line/column pair.
func lineCol(src string, offset int) (int, int) {
	line, col := 1, 1
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
