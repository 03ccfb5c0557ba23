// lexer_test.go
package lilith

import (
	"strings"
	"testing"
)

func mustScan(t *testing.T, src string) []Token {
	t.Helper()
	toks, err := NewLexer(src).Scan()
	if err != nil {
		t.Fatalf("Scan error: %v\nsource:\n%s", err, src)
	}
	return toks
}

func scanTypes(t *testing.T, src string) []TokenType {
	t.Helper()
	toks := mustScan(t, src)
	out := make([]TokenType, 0, len(toks))
	for _, tok := range toks {
		out = append(out, tok.Type)
	}
	return out
}

func wantTypes(t *testing.T, src string, want ...TokenType) {
	t.Helper()
	got := scanTypes(t, src)
	want = append(want, EOF)
	if len(got) != len(want) {
		t.Fatalf("want %d tokens, got %d\nsource: %s\ntokens: %v", len(want), len(got), src, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: want %s, got %s\nsource: %s",
				i, TokenName(want[i]), TokenName(got[i]), src)
		}
	}
}

func mustFailScan(t *testing.T, src string, code DiagCode) *LexError {
	t.Helper()
	_, err := NewLexer(src).Scan()
	if err == nil {
		t.Fatalf("expected lex error [%s], got nil\nsource: %s", code, src)
	}
	le, ok := err.(*LexError)
	if !ok || le.Code != code {
		t.Fatalf("expected LexError %s, got %v", code, err)
	}
	return le
}

// --- tests -----------------------------------------------------------------

func Test_Lexer_Reserved_Basics(t *testing.T) {
	wantTypes(t, `{[ ]}`, PROGRAM_START, PROGRAM_END)
	wantTypes(t, `[[ ][ ]]`, BLOCK_START, STMT_SEP, BLOCK_END)
	wantTypes(t, `[=] (( )) ,,`, ASSIGN, GROUP_START, GROUP_END, COMMA_COMMA)
	wantTypes(t, `[? :|: ?]`, IF_START, ELSE_INTRO, IF_END)
	wantTypes(t, `<+ +>`, WHILE_START, WHILE_END)
	wantTypes(t, `(| |) {| |}`, FUNC_START, FUNC_END, CLASS_START, CLASS_END)
	wantTypes(t, `)- -( )-? ?-(`, RETURN_START, RETURN_END, YIELD_START, YIELD_END)
	wantTypes(t, `{? ?} [! !] [/] [:~ ~:]`,
		TRY_START, TRY_END, EXCEPT_START, EXCEPT_END, EXCEPT_DIVIDER,
		FINALLY_START, FINALLY_END)
	wantTypes(t, `(-< >-)`, MATCH_START, MATCH_END)
	wantTypes(t, `<%| =>> |%>`, MACRO_DEF_START, RULE_ARROW, MACRO_DEF_END)
	wantTypes(t, `%! %% %? ^^ ^~ ^!`,
		PHASE_PARSE, PHASE_EXPAND, PHASE_COMPILE, HYG_CAPTURE, HYG_ISOLATE, HYG_INJECT)
	wantTypes(t, `%[ :: ]%`, IMPORT_START, PATH_SEP, IMPORT_END)
	wantTypes(t, `{@ @} @( )@`, QUOTE_START, QUOTE_END, UNQUOTE_START, UNQUOTE_END)
}

func Test_Lexer_Maximal_Munch(t *testing.T) {
	// 3-byte tokens win over their 2-byte prefixes
	wantTypes(t, `<%|`, MACRO_DEF_START)
	wantTypes(t, `<% $`, GPU_START, IDENT)
	wantTypes(t, `~(|`, ASYNC_FUNC_START)
	wantTypes(t, `~( $`, AWAIT_START, IDENT)
	wantTypes(t, `)-?`, YIELD_START)
	wantTypes(t, `)- ?`, RETURN_START, IDENT)
	wantTypes(t, `[?:`, IF_CLAUSE_START)
	wantTypes(t, `[? :`, IF_START, IDENT)
	wantTypes(t, `[:<`, FOR_CLAUSE_START)
	wantTypes(t, `[:]`, DICT_MAP)
}

func Test_Lexer_Identifier_Stops_At_Reserved(t *testing.T) {
	toks := mustScan(t, `$_++__`)
	if len(toks) != 4 {
		t.Fatalf("want IDENT ++ IDENT EOF, got %v", toks)
	}
	if toks[0].Type != IDENT || toks[0].Lexeme != "$_" {
		t.Fatalf("first ident mismatch: %+v", toks[0])
	}
	if toks[1].Type != PLUSPLUS {
		t.Fatalf("want ++, got %+v", toks[1])
	}
	if toks[2].Type != IDENT || toks[2].Lexeme != "__" {
		t.Fatalf("second ident mismatch: %+v", toks[2])
	}
}

func Test_Lexer_Identifier_Alphabet(t *testing.T) {
	// every alphabet symbol alone is a valid identifier except those
	// that begin a reserved token when combined; spaced out they are
	// all single-symbol identifiers
	for _, sym := range []string{"!", "@", "#", "$", "%", "^", "&", "*", "_", "=", "+", "-", "/", "?", ":", "~"} {
		toks := mustScan(t, sym)
		if toks[0].Type != IDENT || toks[0].Lexeme != sym {
			t.Fatalf("symbol %q: got %+v", sym, toks[0])
		}
	}
}

func Test_Lexer_Numbers(t *testing.T) {
	toks := mustScan(t, `0 42 1024`)
	want := []int64{0, 42, 1024}
	for i, w := range want {
		if toks[i].Type != NUMBER || toks[i].Literal.(int64) != w {
			t.Fatalf("number %d: want %d, got %+v", i, w, toks[i])
		}
	}
}

func Test_Lexer_Number_Out_Of_Range(t *testing.T) {
	le := mustFailScan(t, `$ [=] 99999999999999999999`, CodeNumberOutOfRange)
	if le.Line != 1 || le.Col != 6 {
		t.Fatalf("position: %+v", le)
	}
	// the widest literal that still fits
	toks := mustScan(t, `9223372036854775807`)
	if toks[0].Literal.(int64) != 9223372036854775807 {
		t.Fatalf("max int64: %+v", toks[0])
	}
}

func Test_Lexer_Strings(t *testing.T) {
	toks := mustScan(t, `"hello" "a\"b" "line\nnext" "tab\t" "back\\slash" "\q"`)
	want := []string{"hello", `a"b`, "line\nnext", "tab\t", `back\slash`, `\q`}
	for i, w := range want {
		if toks[i].Type != STRING || toks[i].Literal.(string) != w {
			t.Fatalf("string %d: want %q, got %q", i, w, toks[i].Literal)
		}
	}
}

func Test_Lexer_Unterminated_String(t *testing.T) {
	le := mustFailScan(t, `$ [=] "oops`, CodeUnterminatedString)
	if le.Line != 1 {
		t.Fatalf("want line 1, got %d", le.Line)
	}
}

func Test_Lexer_Unexpected_Character(t *testing.T) {
	le := mustFailScan(t, "$ [=] abc", CodeUnexpectedCharacter)
	if !strings.Contains(le.Msg, "'a'") {
		t.Fatalf("message should name the character: %v", le)
	}
	mustFailScan(t, `(`, CodeUnexpectedCharacter)
	mustFailScan(t, `|`, CodeUnexpectedCharacter)
}

func Test_Lexer_Comments(t *testing.T) {
	wantTypes(t, `/* ignored */ 7`, NUMBER)
	wantTypes(t, "1 /* multi\nline */ 2", NUMBER, NUMBER)
	// an unterminated comment silently eats the rest of the input
	wantTypes(t, `1 /* open`, NUMBER)
}

func Test_Lexer_Positions(t *testing.T) {
	toks := mustScan(t, "{[\n  $ [=] 1\n]}")
	// "{[" at 1:0
	if toks[0].Line != 1 || toks[0].Col != 0 || toks[0].StartByte != 0 || toks[0].EndByte != 2 {
		t.Fatalf("program start position: %+v", toks[0])
	}
	// "$" at 2:2
	if toks[1].Line != 2 || toks[1].Col != 2 || toks[1].StartByte != 5 {
		t.Fatalf("ident position: %+v", toks[1])
	}
	// "]}" at 3:0
	last := toks[len(toks)-2]
	if last.Line != 3 || last.Col != 0 {
		t.Fatalf("program end position: %+v", last)
	}
}

func Test_Lexer_Scenario_Stream(t *testing.T) {
	wantTypes(t, `{[ $ [=] 1 ]}`, PROGRAM_START, IDENT, ASSIGN, NUMBER, PROGRAM_END)
	wantTypes(t, `(| $& (( $_ ,, _$ )) [[ )- $_ ++ _$ -( ]] |)`,
		FUNC_START, IDENT, GROUP_START, IDENT, COMMA_COMMA, IDENT, GROUP_END,
		BLOCK_START, RETURN_START, IDENT, PLUSPLUS, IDENT, RETURN_END,
		BLOCK_END, FUNC_END)
}

// Re-scanning the concatenation of a stream's lexemes reproduces the
// stream: maximal munch makes token boundaries self-delimiting, except
// that adjacent identifier or number runs need a separating space.
func Test_Lexer_Lexeme_Concat_Round_Trip(t *testing.T) {
	sources := []string{
		`{[ $ [=] 1 ]}`,
		`(| $& (( $_ ,, _$ )) [[ )- $_ ++ _$ -( ]] |)`,
		`<%| $$ (( $? )) %% ^~ [[ {@ $? =>> $? ++ $? @} ]] |%>`,
		`[< 1 ,, "a\nb" ,, $_ >] ][ <~ 2 ,, 3 ~>`,
		`:-: $_ ** (( 1 ++ 2 ))`,
		`$_ __ 1 2`,
	}
	fusible := func(tt TokenType) bool { return tt == IDENT || tt == NUMBER }
	for _, src := range sources {
		toks := mustScan(t, src)
		var b strings.Builder
		for i, tok := range toks {
			if tok.Type == EOF {
				break
			}
			if i > 0 && fusible(toks[i-1].Type) && fusible(tok.Type) {
				b.WriteByte(' ')
			}
			b.WriteString(tok.Lexeme)
		}
		again := mustScan(t, b.String())
		if len(again) != len(toks) {
			t.Fatalf("want %d tokens, got %d\nconcat: %s", len(toks), len(again), b.String())
		}
		for i := range toks {
			if toks[i].Type != again[i].Type || toks[i].Lexeme != again[i].Lexeme {
				t.Fatalf("token %d: want %s %q, got %s %q\nconcat: %s",
					i, TokenName(toks[i].Type), toks[i].Lexeme,
					TokenName(again[i].Type), again[i].Lexeme, b.String())
			}
		}
	}
}
