// spans_test.go
package lilith

import "testing"

func mustParseSpans(t *testing.T, src string) (S, *SpanIndex) {
	t.Helper()
	ast, spans, err := ParseWithSpans(src)
	if err != nil {
		t.Fatalf("parse error: %v\nsource:\n%s", err, src)
	}
	return ast, spans
}

func wantSpan(t *testing.T, src string, si *SpanIndex, path NodePath, startByte, endByte int) {
	t.Helper()
	sp, ok := si.Get(path)
	if !ok {
		t.Fatalf("no span at path %v\nsource: %s", path, src)
	}
	if sp.StartByte != startByte || sp.EndByte != endByte {
		t.Fatalf("path %v: want [%d,%d) %q, got [%d,%d) %q",
			path, startByte, endByte, src[startByte:endByte],
			sp.StartByte, sp.EndByte, src[sp.StartByte:sp.EndByte])
	}
}

func Test_Spans_Assignment(t *testing.T) {
	src := `{[ $ [=] 1 ]}`
	_, si := mustParseSpans(t, src)

	wantSpan(t, src, si, nil, 0, len(src))           // program
	wantSpan(t, src, si, NodePath{0}, 3, 10)         // $ [=] 1
	wantSpan(t, src, si, NodePath{0, 0}, 3, 4)       // $
	wantSpan(t, src, si, NodePath{0, 1}, 9, 10)      // 1
}

func Test_Spans_Binop_Covers_Operands(t *testing.T) {
	src := `$_ ++ _$ ** __`
	ast, si := mustParseSpans(t, src)

	top := kid(ast, 0)
	wantTag(t, top, "binop")
	wantSpan(t, src, si, NodePath{0}, 0, len(src))
	// left id at path {0,1} (payload slot 0 is the operator spelling)
	wantSpan(t, src, si, NodePath{0, 1}, 0, 2)
	// right ** subtree
	wantSpan(t, src, si, NodePath{0, 2}, 6, len(src))
}

func Test_Spans_Multiline_Block(t *testing.T) {
	src := "<+ $\n[[\n]-!\n]]\n+>"
	ast, si := mustParseSpans(t, src)

	loop := kid(ast, 0)
	wantTag(t, loop, "while")
	wantSpan(t, src, si, NodePath{0}, 0, len(src))
	// the break statement sits at loop body child 0
	sp, ok := si.Get(NodePath{0, 1, 0})
	if !ok {
		t.Fatalf("no span for break statement")
	}
	line, col := lineColAt(src, sp.StartByte)
	if line != 3 || col != 0 {
		t.Fatalf("break position: want 3:0, got %d:%d", line, col)
	}
}

func Test_Spans_Macro_Splice_Gets_Placeholders(t *testing.T) {
	src := `<%| $$ (( $? )) %! [[ {@ $? =>> $? ++ $? @} ]] |%> ][ $$((3))`
	ast, si := mustParseSpans(t, src)

	// the spliced expansion replaced the call outright
	exp := kid(ast, 1)
	wantTag(t, exp, "binop")

	// spliced nodes carry placeholder spans, and alignment of the
	// surrounding tree survives the splice
	sp, ok := si.Get(NodePath{1})
	if !ok {
		t.Fatalf("spliced node should still be indexed")
	}
	if sp != (Span{}) {
		t.Fatalf("spliced node should have a placeholder span, got %+v", sp)
	}
	defSpan, ok := si.Get(NodePath{0})
	if !ok || src[defSpan.StartByte:defSpan.StartByte+3] != "<%|" {
		t.Fatalf("macrodef span misaligned: %+v", defSpan)
	}
}

func Test_Spans_Index_Is_PostOrder_Bound(t *testing.T) {
	// hand-built tree and stream exercise the binder directly
	tree := L("assign", L("id", "$"), L("num", int64(1)))
	post := []Span{{0, 1}, {6, 7}, {0, 7}}
	si := BuildSpanIndexPostOrder(tree, post)

	sp, _ := si.Get(NodePath{0})
	if sp.StartByte != 0 || sp.EndByte != 1 {
		t.Fatalf("leaf 0 span: %+v", sp)
	}
	sp, _ = si.Get(NodePath{1})
	if sp.StartByte != 6 {
		t.Fatalf("leaf 1 span: %+v", sp)
	}
	sp, _ = si.Get(nil)
	if sp.EndByte != 7 {
		t.Fatalf("root span: %+v", sp)
	}
}

func Test_LineColAt(t *testing.T) {
	src := "ab\ncd\nef"
	cases := []struct{ b, line, col int }{
		{0, 1, 0}, {1, 1, 1}, {3, 2, 0}, {4, 2, 1}, {6, 3, 0},
	}
	for _, c := range cases {
		line, col := lineColAt(src, c.b)
		if line != c.line || col != c.col {
			t.Fatalf("byte %d: want %d:%d, got %d:%d", c.b, c.line, c.col, line, col)
		}
	}
}
