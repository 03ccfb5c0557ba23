// spans.go — sidecar source spans for Lilith ASTs.
//
// AST nodes stay free of position fields; spans live in a sidecar
// SpanIndex keyed by a structural NodePath. The parser appends exactly
// one Span per node in strict post-order (children first, left to
// right) through its mk/mkLeaf helpers, and BuildSpanIndexPostOrder
// binds that stream to paths with a deterministic walk in the same
// order. Spans are half-open byte intervals into the original source;
// line/column can be derived on demand.
//
// Note on paths: element k of a path selects S[k+1], since S[0] is the
// tag. Payload slots that are not nodes (operator spellings, literal
// values) are skipped by the walk, exactly as they are skipped during
// span emission.
package lilith

import (
	"strconv"
	"strings"
)

// Span is a half-open byte interval [StartByte, EndByte) in the source.
type Span struct {
	StartByte int // inclusive
	EndByte   int // exclusive
}

// NodePath is a stable structural address into an AST: each element
// selects a child position (S[k+1]).
type NodePath []int

// SpanIndex maps NodePath → Span. Read-only after construction and safe
// for concurrent reads.
type SpanIndex struct {
	byPath map[string]Span
}

// Get returns the span recorded for the given path, if present.
func (si *SpanIndex) Get(p NodePath) (Span, bool) {
	if si == nil {
		return Span{}, false
	}
	sp, ok := si.byPath[pathKey(p)]
	return sp, ok
}

// BuildSpanIndexPostOrder binds one post-order span stream to the tree.
// If the stream is shorter than the tree, remaining nodes are left
// unindexed; extras are ignored.
func BuildSpanIndexPostOrder(root S, postorder []Span) *SpanIndex {
	si := &SpanIndex{byPath: make(map[string]Span, len(postorder))}
	i := 0
	var walk func(n S, path NodePath)
	walk = func(n S, path NodePath) {
		for ci := 1; ci < len(n); ci++ {
			if child, ok := n[ci].(S); ok {
				walk(child, append(path, ci-1))
			}
		}
		if i < len(postorder) {
			si.byPath[pathKey(path)] = postorder[i]
			i++
		}
	}
	walk(root, nil)
	return si
}

// lineColAt derives a 1-based line and 0-based column for a byte
// offset into src.
func lineColAt(src string, b int) (int, int) {
	if b < 0 {
		b = 0
	}
	if b > len(src) {
		b = len(src)
	}
	line := 1 + strings.Count(src[:b], "\n")
	lastNL := strings.LastIndex(src[:b], "\n")
	if lastNL < 0 {
		return line, b
	}
	return line, b - lastNL - 1
}

func pathKey(p NodePath) string {
	if len(p) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, x := range p {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(x))
	}
	return sb.String()
}
