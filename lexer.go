// lexer.go — tokenizer for the Lilith surface syntax.
//
// Lilith's entire lexical surface is punctuation: identifiers are drawn
// from a fixed sixteen-character symbol alphabet, and every reserved
// token (delimiters, operators) is itself a sequence of those same
// characters. The tokenizer resolves the overlap deterministically:
//
//  1. at each position, try the reserved-token table longest-first;
//  2. otherwise a digit run is a NUMBER, a '"' starts a STRING;
//  3. otherwise consume identifier characters one at a time,
//     re-checking the reserved table before each step, so an
//     identifier ends the moment the remaining input would begin a
//     reserved token (maximal munch for reserved tokens, greedy
//     character-stepped fallback for identifiers).
//
// Lookahead is bounded by the longest reserved spelling (3 bytes).
// Comments are /* ... */ and are skipped here, as in the original
// interpreter. Identical input always yields an identical token stream.
package lilith

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenType represents the kind of token.
type TokenType int

const (
	// Special
	EOF TokenType = iota
	NUMBER
	STRING
	IDENT

	// Program / blocks / separators
	PROGRAM_START // "{["
	PROGRAM_END   // "]}"
	BLOCK_START   // "[["
	BLOCK_END     // "]]"
	STMT_SEP      // "]["
	ASSIGN        // "[=]"
	GROUP_START   // "(("
	GROUP_END     // "))"
	COMMA_COMMA   // ",,"

	// Control flow
	IF_START   // "[?"
	IF_END     // "?]"
	ELSE_INTRO // ":|:"
	WHILE_START// "<+"
	WHILE_END  // "+>"
	BREAK      // "]-!"
	CONTINUE   // "]-?"

	// Definitions
	FUNC_START       // "(|"
	FUNC_END         // "|)"
	ASYNC_FUNC_START // "~(|"
	CLASS_START      // "{|"
	CLASS_END        // "|}"
	LAMBDA_START     // "(:<"
	LAMBDA_END       // ">:)"
	MACRO_DEF_START  // "<%|"
	MACRO_DEF_END    // "|%>"
	RULE_ARROW       // "=>>"

	// Return / yield / await
	RETURN_START // ")-"
	RETURN_END   // "-("
	YIELD_START  // ")-?"
	YIELD_END    // "?-("
	AWAIT_START  // "~("
	AWAIT_END    // ")~"

	// Exceptions
	TRY_START      // "{?"
	TRY_END        // "?}"
	EXCEPT_START   // "[!"
	EXCEPT_END     // "!]"
	EXCEPT_DIVIDER // "[/]"
	FINALLY_START  // "[:~"
	FINALLY_END    // "~:]"

	// Pattern matching
	MATCH_START // "(-<"
	MATCH_END   // ">-)"
	CASE_START  // "[<" (shared spelling with LIST_START; parser context decides)
	CASE_END    // ">]"

	// Types
	ARROW      // "->"
	TYPE_ANNOT // "(:)"

	// Conditional expression grouping
	COND_THEN_START // "[("
	COND_THEN_END   // ")]"

	// Operators
	PLUSPLUS   // "++"
	MINUSMINUS // "--"
	STARSTAR   // "**"
	SLASHSLASH // "//"
	UNARY      // ":-:"

	// Collections & comprehensions
	LIST_START       // "[<"
	LIST_END         // ">]"
	TUPLE_START      // "(<"
	TUPLE_END        // ">)"
	DICT_START       // "{<"
	DICT_END         // ">}"
	SET_START        // "[{"
	SET_END          // "}]"
	DICT_MAP         // "[:]"
	FOR_CLAUSE_START // "[:<"
	FOR_CLAUSE_END   // ">:]"
	IF_CLAUSE_START  // "[?:"
	IF_CLAUSE_END    // ":?]"
	IN_OPERATOR      // "[%]"

	// Domain constructs (parsed, never evaluated here)
	TENSOR_START   // "[#"
	TENSOR_END     // "#]"
	NN_START       // "{#"
	NN_END         // "#}"
	STREAM_START   // "<~"
	STREAM_END     // "~>"
	GPU_START      // "<%"
	GPU_END        // "%>"
	PARALLEL_START // "<&"
	PARALLEL_END   // "&>"
	MEMORY_START   // "[@"
	MEMORY_END     // "@]"
	DEVICE_START   // "{$"
	DEVICE_END     // "$}"

	// Imports
	IMPORT_START // "%["
	IMPORT_END   // "]%"
	PATH_SEP     // "::"

	// Quasiquotation
	QUOTE_START   // "{@"
	QUOTE_END     // "@}"
	UNQUOTE_START // "@("
	UNQUOTE_END   // ")@"

	// Macro phase / hygiene markers
	PHASE_PARSE   // "%!"
	PHASE_EXPAND  // "%%"
	PHASE_COMPILE // "%?"
	HYG_CAPTURE   // "^^"
	HYG_ISOLATE   // "^~"
	HYG_INJECT    // "^!"
)

// Token is a lexical token with optional literal value and a precise
// source span (byte offsets plus 1-based line / 0-based column).
type Token struct {
	Type      TokenType
	Lexeme    string
	Literal   any // int64 for NUMBER, decoded string for STRING
	Line      int
	Col       int
	StartByte int
	EndByte   int
}

// reserved maps spellings to token types, longest spellings first. The
// order is load-bearing: tryReserved scans it linearly, so a 3-byte
// token always wins over a 2-byte token sharing its prefix.
var reserved = []struct {
	str string
	tt  TokenType
}{
	{"<%|", MACRO_DEF_START},
	{"|%>", MACRO_DEF_END},
	{"~(|", ASYNC_FUNC_START},
	{"=>>", RULE_ARROW},
	{"[:~", FINALLY_START},
	{"~:]", FINALLY_END},
	{"(-<", MATCH_START},
	{">-)", MATCH_END},
	{"[:<", FOR_CLAUSE_START},
	{">:]", FOR_CLAUSE_END},
	{"[?:", IF_CLAUSE_START},
	{":?]", IF_CLAUSE_END},
	{"[=]", ASSIGN},
	{":|:", ELSE_INTRO},
	{"(:<", LAMBDA_START},
	{">:)", LAMBDA_END},
	{")-?", YIELD_START},
	{"?-(", YIELD_END},
	{"]-!", BREAK},
	{"]-?", CONTINUE},
	{"[/]", EXCEPT_DIVIDER},
	{"(:)", TYPE_ANNOT},
	{"[%]", IN_OPERATOR},
	{"[:]", DICT_MAP},
	{":-:", UNARY},
	{")-", RETURN_START},
	{"-(", RETURN_END},
	{"{?", TRY_START},
	{"?}", TRY_END},
	{"[!", EXCEPT_START},
	{"!]", EXCEPT_END},
	{"->", ARROW},
	{"~(", AWAIT_START},
	{")~", AWAIT_END},
	{"[(", COND_THEN_START},
	{")]", COND_THEN_END},
	{"++", PLUSPLUS},
	{"--", MINUSMINUS},
	{"**", STARSTAR},
	{"//", SLASHSLASH},
	{",,", COMMA_COMMA},
	{"{[", PROGRAM_START},
	{"]}", PROGRAM_END},
	{"[[", BLOCK_START},
	{"]]", BLOCK_END},
	{"][", STMT_SEP},
	{"[?", IF_START},
	{"?]", IF_END},
	{"<+", WHILE_START},
	{"+>", WHILE_END},
	{"(|", FUNC_START},
	{"|)", FUNC_END},
	{"{|", CLASS_START},
	{"|}", CLASS_END},
	{"((", GROUP_START},
	{"))", GROUP_END},
	{"[<", LIST_START},
	{">]", LIST_END},
	{"(<", TUPLE_START},
	{">)", TUPLE_END},
	{"{<", DICT_START},
	{">}", DICT_END},
	{"[{", SET_START},
	{"}]", SET_END},
	{"[#", TENSOR_START},
	{"#]", TENSOR_END},
	{"{#", NN_START},
	{"#}", NN_END},
	{"<~", STREAM_START},
	{"~>", STREAM_END},
	{"<%", GPU_START},
	{"%>", GPU_END},
	{"<&", PARALLEL_START},
	{"&>", PARALLEL_END},
	{"[@", MEMORY_START},
	{"@]", MEMORY_END},
	{"{$", DEVICE_START},
	{"$}", DEVICE_END},
	{"%[", IMPORT_START},
	{"]%", IMPORT_END},
	{"::", PATH_SEP},
	{"{@", QUOTE_START},
	{"@}", QUOTE_END},
	{"@(", UNQUOTE_START},
	{")@", UNQUOTE_END},
	{"%!", PHASE_PARSE},
	{"%%", PHASE_EXPAND},
	{"%?", PHASE_COMPILE},
	{"^^", HYG_CAPTURE},
	{"^~", HYG_ISOLATE},
	{"^!", HYG_INJECT},
}

// identAlphabet is the fixed symbol set identifiers are built from.
const identAlphabet = "!@#$%^&*_=+-/?:~"

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentSym(b byte) bool { return strings.IndexByte(identAlphabet, b) >= 0 }

// TokenName returns the display spelling for a token type, for
// diagnostics ("'+>'", "identifier", ...).
func TokenName(tt TokenType) string {
	switch tt {
	case EOF:
		return "end of input"
	case NUMBER:
		return "number"
	case STRING:
		return "string"
	case IDENT:
		return "identifier"
	}
	for _, m := range reserved {
		if m.tt == tt {
			return "'" + m.str + "'"
		}
	}
	return "token"
}

// Lexer scans a Lilith source string into tokens.
type Lexer struct {
	src    string
	start  int // start index of current token
	cur    int // current index
	line   int // 1-based
	col    int // 0-based column within line
	tokens []Token

	tokStartLine int
	tokStartCol  int
}

// NewLexer creates a new lexer for the given source.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1}
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	return l.src[l.cur], true
}

func (l *Lexer) peekN(n int) (byte, bool) {
	idx := l.cur + n
	if idx >= len(l.src) {
		return 0, false
	}
	return l.src[idx], true
}

func (l *Lexer) advance() (byte, bool) {
	if l.isAtEnd() {
		return 0, false
	}
	ch := l.src[l.cur]
	l.cur++
	if ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return ch, true
}

func (l *Lexer) addToken(tt TokenType, lit any) Token {
	tok := Token{
		Type:      tt,
		Lexeme:    l.src[l.start:l.cur],
		Literal:   lit,
		Line:      l.tokStartLine,
		Col:       l.tokStartCol,
		StartByte: l.start,
		EndByte:   l.cur,
	}
	l.tokens = append(l.tokens, tok)
	l.start = l.cur
	return tok
}

func (l *Lexer) err(code DiagCode, msg string) error {
	return &LexError{Code: code, Msg: msg, Line: l.tokStartLine, Col: l.tokStartCol}
}

// skipWhitespaceAndComments eats spaces, newlines and /* ... */ runs.
// An unterminated comment silently consumes the rest of the input, as
// the original interpreter does.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.isAtEnd() {
		ch, _ := l.peek()
		switch ch {
		case ' ', '\r', '\n', '\t':
			l.advance()
			continue
		}
		if ch == '/' {
			if b2, ok := l.peekN(1); ok && b2 == '*' {
				l.advance()
				l.advance()
				for !l.isAtEnd() {
					c, _ := l.peek()
					if c == '*' {
						if b, ok := l.peekN(1); ok && b == '/' {
							l.advance()
							l.advance()
							break
						}
					}
					l.advance()
				}
				continue
			}
		}
		break
	}
	l.start = l.cur
}

// reservedAt returns the longest reserved token starting at byte offset
// pos, if any.
func (l *Lexer) reservedAt(pos int) (TokenType, int, bool) {
	for _, m := range reserved {
		if pos+len(m.str) <= len(l.src) && l.src[pos:pos+len(m.str)] == m.str {
			return m.tt, len(m.str), true
		}
	}
	return 0, 0, false
}

func (l *Lexer) scanNumber() (Token, error) {
	for {
		b, ok := l.peek()
		if !ok || !isDigit(b) {
			break
		}
		l.advance()
	}
	lex := l.src[l.start:l.cur]
	v, err := strconv.ParseInt(lex, 10, 64)
	if err != nil {
		return Token{}, l.err(CodeNumberOutOfRange,
			fmt.Sprintf("number literal %s does not fit in 64 bits", lex))
	}
	return l.addToken(NUMBER, v), nil
}

func (l *Lexer) scanString() (Token, error) {
	l.advance() // opening quote
	var out strings.Builder
	for !l.isAtEnd() {
		ch, _ := l.advance()
		if ch == '"' {
			return l.addToken(STRING, out.String()), nil
		}
		if ch == '\\' {
			esc, ok := l.advance()
			if !ok {
				break
			}
			switch esc {
			case '"':
				out.WriteByte('"')
			case '\\':
				out.WriteByte('\\')
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			default:
				out.WriteByte('\\')
				out.WriteByte(esc)
			}
			continue
		}
		out.WriteByte(ch)
	}
	return Token{}, l.err(CodeUnterminatedString, "string was not terminated")
}

// scanIdentifier consumes identifier symbols one at a time, stopping as
// soon as the remaining input would begin a reserved token.
func (l *Lexer) scanIdentifier() Token {
	for {
		b, ok := l.peek()
		if !ok || !isIdentSym(b) {
			break
		}
		if _, _, hit := l.reservedAt(l.cur); hit {
			break
		}
		l.advance()
	}
	return l.addToken(IDENT, l.src[l.start:l.cur])
}

func (l *Lexer) scanToken() (Token, error) {
	l.skipWhitespaceAndComments()
	l.tokStartLine = l.line
	l.tokStartCol = l.col
	l.start = l.cur

	if l.isAtEnd() {
		return l.addToken(EOF, nil), nil
	}

	if tt, n, ok := l.reservedAt(l.cur); ok {
		for i := 0; i < n; i++ {
			l.advance()
		}
		return l.addToken(tt, nil), nil
	}

	ch, _ := l.peek()
	if isDigit(ch) {
		return l.scanNumber()
	}
	if ch == '"' {
		return l.scanString()
	}
	if isIdentSym(ch) {
		l.advance()
		return l.scanIdentifier(), nil
	}

	l.advance()
	return Token{}, l.err(CodeUnexpectedCharacter, fmt.Sprintf("unexpected character: %q", ch))
}

// Scan tokenizes the entire source and returns tokens (EOF included).
func (l *Lexer) Scan() ([]Token, error) {
	for {
		tok, err := l.scanToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == EOF {
			return l.tokens, nil
		}
	}
}
