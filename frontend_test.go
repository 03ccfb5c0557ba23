// frontend_test.go
package lilith

import (
	"context"
	"testing"
)

func Test_Frontend_Tokenize(t *testing.T) {
	toks, err := Tokenize(`{[ ]}`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if len(toks) != 3 || toks[0].Type != PROGRAM_START || toks[2].Type != EOF {
		t.Fatalf("unexpected tokens: %v", toks)
	}
}

func Test_Frontend_Compile_Unit_Fields(t *testing.T) {
	src := `{[ $ [=] 1 ]}`
	unit, err := Compile("unit.lil", src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if unit.Name != "unit.lil" || unit.Src != src {
		t.Fatalf("unit identity mismatch: %+v", unit)
	}
	if unit.Spans == nil || unit.Macros == nil {
		t.Fatalf("unit missing sidecars: %+v", unit)
	}
	// nothing to expand: trees agree
	if !EqualS(unit.Raw, unit.AST) {
		t.Fatalf("macro-free unit should expand to itself")
	}
}

func Test_Frontend_First_Error_Terminates(t *testing.T) {
	// the lexical error wins even though a parse error follows it
	_, err := Compile("t", `{[ $ [=] "unterminated`)
	if CodeOf(err) != CodeUnterminatedString {
		t.Fatalf("want lex error first, got %v", err)
	}
}

func Test_Frontend_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CompileCtx(ctx, "t", `{[ $ [=] 1 ]}`, Options{})
	if err == nil || CodeOf(err) != 0 {
		t.Fatalf("want a context error, got %v", err)
	}
	if ctx.Err() == nil || err.Error() != ctx.Err().Error() {
		t.Fatalf("want %v, got %v", ctx.Err(), err)
	}
}

func Test_Frontend_Seeded_Registry_Persists(t *testing.T) {
	reg := NewRegistry()
	_, err := CompileCtx(context.Background(), "defs", `<%| $$ (( $? )) [[ {@ $? =>> $? ++ $? @} ]] |%>`,
		Options{Macros: reg})
	if err != nil {
		t.Fatalf("defs: %v", err)
	}
	unit, err := CompileCtx(context.Background(), "use", `$$((2))`, Options{Macros: reg})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	want := L("binop", "++", L("num", int64(2)), L("num", int64(2)))
	if !EqualS(kid(unit.AST, 0), want) {
		t.Fatalf("macro did not survive across units:\n%s", dump(unit.AST))
	}
}

func Test_Frontend_MaxExpand_Option(t *testing.T) {
	src := `<%| && (( $? )) [[ {@ $? =>> &&(( $? )) @} ]] |%> ][ &&((1))`
	_, err := CompileCtx(context.Background(), "t", src, Options{MaxExpand: 2})
	if CodeOf(err) != CodeNonTermination {
		t.Fatalf("want NonTermination, got %v", err)
	}
}
