// parser.go — recursive-descent parser for Lilith.
//
// OVERVIEW
// --------
// One handler per grammar nonterminal, consuming the token stream from
// lexer.go and building the S-expression AST described in ast.go.
//
// Many unrelated constructs share the same `[[ ... ]]` body delimiter
// (plain blocks, if/while bodies, tensor/nn/stream/gpu/parallel bodies,
// class and macro bodies). The parser therefore threads an explicit
// construct-context stack: every compound construct pushes its opener
// token before its body and checks its own trailing closer against the
// top of the stack. A wrong closer is reported as an unbalanced
// delimiter naming both the opener and what was actually found; a
// missing closer at end of input is an unexpected-EOF. Errors are
// terminal: no recovery, no partial AST.
//
// Expression parsing is precedence climbing:
//
//	conditional  e [( then )] [( else )]     (lowest)
//	additive     ++  --
//	multiplicative  **  //
//	unary        :-:
//	primary      literals, groups, collections, lambda, await, quote
//
// Operator spellings are recorded verbatim and are opaque here — the
// front-end assigns them no arithmetic meaning.
//
// PARSE-phase macro calls are expanded inline at the point of
// encounter; EXPAND- and COMPILE-phase calls become macrocall nodes for
// the expander (macro.go).
//
// SPAN EMISSION INVARIANT
// -----------------------
// Every AST node is constructed through the mk/mkLeaf helpers, which
// atomically append exactly one span per node in strict post-order
// (children first, left to right). Subtrees spliced in by PARSE-phase
// macro expansion receive placeholder spans, one per node, keeping the
// stream aligned with the final tree.
package lilith

import (
	"context"
	"fmt"
)

type parser struct {
	toks   []Token
	i      int
	src    string
	ctx    context.Context
	macros *Registry

	// construct-context stack: opener tokens of unclosed constructs
	open []Token

	post             []Span
	lastSpanStartTok int
	lastSpanEndTok   int
}

func parseUnit(ctx context.Context, src string, reg *Registry) (S, *SpanIndex, error) {
	lex := NewLexer(src)
	toks, err := lex.Scan()
	if err != nil {
		return nil, nil, err
	}
	if reg == nil {
		reg = NewRegistry()
	}
	p := &parser{
		toks: toks, src: src, ctx: ctx, macros: reg,
		lastSpanStartTok: -1, lastSpanEndTok: -1,
	}
	ast, err := p.program()
	if err != nil {
		return nil, nil, err
	}
	return ast, BuildSpanIndexPostOrder(ast, p.post), nil
}

// ───────────────────────── token basics & helpers ─────────────────────────

func (p *parser) atEnd() bool { return p.peek().Type == EOF }

func (p *parser) peek() Token {
	if p.i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i]
}

func (p *parser) prev() Token { return p.toks[p.i-1] }

func (p *parser) match(tt ...TokenType) bool {
	if p.atEnd() {
		return false
	}
	for _, t := range tt {
		if p.peek().Type == t {
			p.i++
			return true
		}
	}
	return false
}

func (p *parser) posAtByte(b int) (int, int) {
	if b < 0 {
		g := p.peek()
		return g.Line, g.Col
	}
	return lineColAt(p.src, b)
}

func (p *parser) errAt(tok Token, code DiagCode, msg string) error {
	line, col := p.posAtByte(tok.StartByte)
	return &ParseError{Code: code, Msg: msg, Line: line, Col: col}
}

// need consumes the expected token or fails. End of input is always
// reported as UnexpectedEndOfInput, anything else as ExpectedToken.
func (p *parser) need(tt TokenType, msg string) (Token, error) {
	if p.match(tt) {
		return p.prev(), nil
	}
	g := p.peek()
	if g.Type == EOF {
		return Token{}, p.errAt(g, CodeUnexpectedEOF, msg)
	}
	return Token{}, p.errAt(g, CodeExpectedToken,
		fmt.Sprintf("%s, found %s", msg, TokenName(g.Type)))
}

// ───────────────────── construct-context stack ──────────────────────

func (p *parser) pushOpen(opener Token) { p.open = append(p.open, opener) }

func (p *parser) popOpen() { p.open = p.open[:len(p.open)-1] }

// closerTypes lets needCloser distinguish "some other construct's
// closer appeared here" (unbalanced) from ordinary unexpected tokens.
var closerTypes = map[TokenType]bool{
	PROGRAM_END: true, BLOCK_END: true, IF_END: true, WHILE_END: true,
	FUNC_END: true, CLASS_END: true, TRY_END: true, EXCEPT_END: true,
	FINALLY_END: true, MATCH_END: true, MACRO_DEF_END: true,
	LAMBDA_END: true, TENSOR_END: true, NN_END: true, STREAM_END: true,
	GPU_END: true, PARALLEL_END: true, LIST_END: true,
}

// needCloser matches a compound construct's trailing closer against the
// opener on top of the context stack, popping it on success.
func (p *parser) needCloser(want TokenType) (Token, error) {
	opener := p.open[len(p.open)-1]
	if p.match(want) {
		p.popOpen()
		return p.prev(), nil
	}
	g := p.peek()
	if g.Type == EOF {
		return Token{}, p.errAt(g, CodeUnexpectedEOF,
			fmt.Sprintf("expected %s to close '%s'", TokenName(want), opener.Lexeme))
	}
	if closerTypes[g.Type] {
		return Token{}, p.errAt(g, CodeUnbalancedDelimiter,
			fmt.Sprintf("construct opened with '%s' closed with '%s' (expected %s)",
				opener.Lexeme, g.Lexeme, TokenName(want)))
	}
	return Token{}, p.errAt(g, CodeExpectedToken,
		fmt.Sprintf("expected %s to close '%s', found %s", TokenName(want), opener.Lexeme, TokenName(g.Type)))
}

// ───────────────────────── span emission (core) ─────────────────────────

func (p *parser) appendNodeSpanByTok(startTok, endTok int) {
	if startTok >= 0 && endTok >= startTok &&
		startTok < len(p.toks) && endTok < len(p.toks) {
		p.post = append(p.post, Span{
			StartByte: p.toks[startTok].StartByte,
			EndByte:   p.toks[endTok].EndByte,
		})
	} else {
		p.post = append(p.post, Span{})
	}
	p.lastSpanStartTok = startTok
	p.lastSpanEndTok = endTok
}

// mkLeaf builds a leaf node spanning a single token; tok<0 emits a
// placeholder span for synthetic leaves.
func (p *parser) mkLeaf(tag string, tok int, parts ...any) S {
	n := L(tag, parts...)
	p.appendNodeSpanByTok(tok, tok)
	return n
}

// mk builds a parent node after its children; appends one span covering
// the token range [startTok, endTok].
func (p *parser) mk(tag string, startTok, endTok int, parts ...any) S {
	n := L(tag, parts...)
	p.appendNodeSpanByTok(startTok, endTok)
	return n
}

func countNodes(n S) int {
	total := 1
	for _, part := range n {
		if child, ok := part.(S); ok {
			total += countNodes(child)
		}
	}
	return total
}

// emitSyntheticSpans keeps the post-order stream aligned for subtrees
// that did not come from tokens (macro splices).
func (p *parser) emitSyntheticSpans(n S) {
	for k := countNodes(n); k > 0; k-- {
		p.post = append(p.post, Span{})
	}
	p.lastSpanStartTok = -1
	p.lastSpanEndTok = -1
}

// ───────────────────────── program / statements ─────────────────────────

// program parses one compilation unit. The `{[ ... ]}` program wrapper
// is accepted but not required, so fragments parse too.
func (p *parser) program() (S, error) {
	wrapped := false
	startTok := p.i
	if p.match(PROGRAM_START) {
		wrapped = true
		p.pushOpen(p.prev())
	}

	stop := EOF
	if wrapped {
		stop = PROGRAM_END
	}
	items, err := p.stmts(stop)
	if err != nil {
		return nil, err
	}
	if wrapped {
		if _, err := p.needCloser(PROGRAM_END); err != nil {
			return nil, err
		}
	}
	if !p.atEnd() {
		g := p.peek()
		return nil, p.errAt(g, CodeExpectedToken,
			fmt.Sprintf("unexpected %s after end of program", TokenName(g.Type)))
	}
	endTok := p.i - 1
	if endTok < startTok {
		endTok = startTok
	}
	return p.mk("program", startTok, endTok, items...), nil
}

// stmts parses statements (skipping `][` separators) until the stop
// token is next. Cancellation is checked between statements.
func (p *parser) stmts(stop TokenType) ([]any, error) {
	var items []any
	for {
		for p.match(STMT_SEP) {
		}
		if p.atEnd() || p.peek().Type == stop {
			return items, nil
		}
		if p.ctx != nil {
			if err := p.ctx.Err(); err != nil {
				return nil, err
			}
		}
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		items = append(items, st)
	}
}

// body parses a shared `[[ ... ]]` block; the surrounding construct has
// already pushed its own tag.
func (p *parser) body() (S, error) {
	openTok, err := p.need(BLOCK_START, "expected '[[' to open body")
	if err != nil {
		return nil, err
	}
	p.pushOpen(openTok)
	start := p.i - 1
	items, err := p.stmts(BLOCK_END)
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(BLOCK_END); err != nil {
		return nil, err
	}
	return p.mk("block", start, p.i-1, items...), nil
}

func (p *parser) statement() (S, error) {
	switch p.peek().Type {
	case IMPORT_START:
		return p.importStmt()
	case RETURN_START:
		return p.wrappedValueStmt("return", RETURN_START, RETURN_END, "expected '-(' to close return")
	case YIELD_START:
		return p.wrappedValueStmt("yield", YIELD_START, YIELD_END, "expected '?-(' to close yield")
	case BREAK:
		p.i++
		return p.mkLeaf("break", p.i-1), nil
	case CONTINUE:
		p.i++
		return p.mkLeaf("continue", p.i-1), nil
	case IF_START:
		return p.ifStmt()
	case WHILE_START:
		return p.whileStmt()
	case FUNC_START:
		return p.funcDef("func")
	case ASYNC_FUNC_START:
		return p.funcDef("afunc")
	case CLASS_START:
		return p.classDef()
	case TRY_START:
		return p.tryStmt()
	case MATCH_START:
		return p.matchStmt()
	case MACRO_DEF_START:
		return p.macroDef()
	case MEMORY_START:
		return p.memoryStmt()
	case DEVICE_START:
		return p.deviceStmt()
	case PARALLEL_START:
		return p.domainConstruct("parallel", PARALLEL_END)
	case GPU_START:
		return p.domainConstruct("gpu", GPU_END)
	case NN_START:
		return p.domainConstruct("nn", NN_END)
	// Tensor and stream openers double as literal delimiters; a header
	// or body right after the opener selects the construct reading.
	case TENSOR_START:
		if p.bodyAhead() {
			return p.domainConstruct("tensor", TENSOR_END)
		}
	case STREAM_START:
		if p.bodyAhead() {
			return p.domainConstruct("stream", STREAM_END)
		}
	}

	// Expression statement, possibly an assignment target.
	startTok := p.i
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.match(ASSIGN) {
		assignTok := p.prev()
		if !assignable(e) {
			return nil, p.errAt(assignTok, CodeExpectedToken, "invalid assignment target")
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		return p.mk("assign", startTok, p.lastSpanEndTok, e, v), nil
	}
	return e, nil
}

func (p *parser) bodyAhead() bool {
	if p.i+1 >= len(p.toks) {
		return false
	}
	tt := p.toks[p.i+1].Type
	return tt == BLOCK_START || tt == GROUP_START
}

func assignable(n S) bool {
	switch Head(n) {
	case "id", "tuple":
		return true
	}
	return false
}

// wrappedValueStmt parses `)- expr? -(` and `)-? expr? ?-(`.
func (p *parser) wrappedValueStmt(tag string, open, close TokenType, closeMsg string) (S, error) {
	start := p.i
	p.i++ // opener
	if p.match(close) {
		return p.mk(tag, start, p.i-1), nil
	}
	v, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(close, closeMsg); err != nil {
		return nil, err
	}
	return p.mk(tag, start, p.i-1, v), nil
}

func (p *parser) importStmt() (S, error) {
	start := p.i
	p.i++ // "%["
	var segs []any
	tok, err := p.need(IDENT, "expected module path segment")
	if err != nil {
		return nil, err
	}
	segs = append(segs, p.mkLeaf("id", p.i-1, tok.Lexeme))
	for p.match(PATH_SEP) {
		tok, err := p.need(IDENT, "expected module path segment after '::'")
		if err != nil {
			return nil, err
		}
		segs = append(segs, p.mkLeaf("id", p.i-1, tok.Lexeme))
	}
	if _, err := p.need(IMPORT_END, "expected ']%' to close import"); err != nil {
		return nil, err
	}
	return p.mk("import", start, p.i-1, segs...), nil
}

func (p *parser) ifStmt() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "[?"
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	thenBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	var parts []any
	parts = append(parts, cond, thenBlk)
	if p.match(ELSE_INTRO) {
		elseBlk, err := p.body()
		if err != nil {
			return nil, err
		}
		parts = append(parts, elseBlk)
	}
	if _, err := p.needCloser(IF_END); err != nil {
		return nil, err
	}
	return p.mk("if", start, p.i-1, parts...), nil
}

func (p *parser) whileStmt() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "<+"
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(WHILE_END); err != nil {
		return nil, err
	}
	return p.mk("while", start, p.i-1, cond, bodyBlk), nil
}

func (p *parser) funcDef(tag string) (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "(|" or "~(|"
	nameTok, err := p.need(IDENT, "expected function name")
	if err != nil {
		return nil, err
	}
	name := p.mkLeaf("id", p.i-1, nameTok.Lexeme)
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	var ret S
	if p.match(ARROW) {
		ret, err = p.expr()
		if err != nil {
			return nil, err
		}
	} else {
		ret = p.mkLeaf("id", -1, "*")
	}
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(FUNC_END); err != nil {
		return nil, err
	}
	return p.mk(tag, start, p.i-1, name, params, ret, bodyBlk), nil
}

func (p *parser) classDef() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "{|"
	nameTok, err := p.need(IDENT, "expected class name")
	if err != nil {
		return nil, err
	}
	name := p.mkLeaf("id", p.i-1, nameTok.Lexeme)
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(CLASS_END); err != nil {
		return nil, err
	}
	return p.mk("class", start, p.i-1, name, bodyBlk), nil
}

func (p *parser) tryStmt() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "{?"
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	parts := []any{bodyBlk}
	for p.peek().Type == EXCEPT_START {
		ex, err := p.exceptClause()
		if err != nil {
			return nil, err
		}
		parts = append(parts, ex)
	}
	if p.peek().Type == FINALLY_START {
		fstart := p.i
		p.pushOpen(p.peek())
		p.i++
		fb, err := p.body()
		if err != nil {
			return nil, err
		}
		if _, err := p.needCloser(FINALLY_END); err != nil {
			return nil, err
		}
		parts = append(parts, p.mk("finally", fstart, p.i-1, fb))
	}
	if _, err := p.needCloser(TRY_END); err != nil {
		return nil, err
	}
	return p.mk("try", start, p.i-1, parts...), nil
}

// exceptClause parses `[! pattern ([/] pattern)* [[ ... ]] !]`; the
// pattern list may be empty (catch-all).
func (p *parser) exceptClause() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "[!"
	var pats []any
	patStart := p.i
	if p.peek().Type != BLOCK_START {
		pt, err := p.pattern()
		if err != nil {
			return nil, err
		}
		pats = append(pats, pt)
		for p.match(EXCEPT_DIVIDER) {
			pt, err := p.pattern()
			if err != nil {
				return nil, err
			}
			pats = append(pats, pt)
		}
	}
	var patsNode S
	if len(pats) == 0 {
		patsNode = p.mk("patterns", -1, -1)
	} else {
		patsNode = p.mk("patterns", patStart, p.i-1, pats...)
	}
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(EXCEPT_END); err != nil {
		return nil, err
	}
	return p.mk("except", start, p.i-1, patsNode, bodyBlk), nil
}

func (p *parser) matchStmt() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "(-<"
	subject, err := p.expr()
	if err != nil {
		return nil, err
	}
	parts := []any{subject}
	// The case opener shares its spelling with the list literal; inside
	// a match construct it always means a case block.
	for p.peek().Type == LIST_START {
		cstart := p.i
		p.pushOpen(p.peek())
		p.i++
		pt, err := p.pattern()
		if err != nil {
			return nil, err
		}
		bodyBlk, err := p.body()
		if err != nil {
			return nil, err
		}
		if _, err := p.needCloser(LIST_END); err != nil {
			return nil, err
		}
		parts = append(parts, p.mk("case", cstart, p.i-1, pt, bodyBlk))
	}
	if _, err := p.needCloser(MATCH_END); err != nil {
		return nil, err
	}
	return p.mk("match", start, p.i-1, parts...), nil
}

func (p *parser) memoryStmt() (S, error) {
	start := p.i
	p.i++ // "[@"
	var es []any
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	es = append(es, e)
	for p.match(COMMA_COMMA) {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	if _, err := p.need(MEMORY_END, "expected '@]' to close memory statement"); err != nil {
		return nil, err
	}
	return p.mk("memory", start, p.i-1, es...), nil
}

func (p *parser) deviceStmt() (S, error) {
	start := p.i
	p.i++ // "{$"
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(DEVICE_END, "expected '$}' to close device statement"); err != nil {
		return nil, err
	}
	return p.mk("device", start, p.i-1, e), nil
}

// domainConstruct parses the parallel/gpu/tensor/nn/stream statements:
// introducer, optional `(( ... ))` header, shared body, own closer. The
// body is forwarded unevaluated; only well-formedness is checked here.
func (p *parser) domainConstruct(tag string, close TokenType) (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++
	header, err := p.optionalHeader()
	if err != nil {
		return nil, err
	}
	bodyBlk, err := p.body()
	if err != nil {
		return nil, err
	}
	if _, err := p.needCloser(close); err != nil {
		return nil, err
	}
	return p.mk(tag, start, p.i-1, header, bodyBlk), nil
}

func (p *parser) optionalHeader() (S, error) {
	if p.peek().Type != GROUP_START {
		return p.mk("args", -1, -1), nil
	}
	start := p.i
	p.i++
	if p.match(GROUP_END) {
		return p.mk("args", start, p.i-1), nil
	}
	var es []any
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	es = append(es, e)
	for p.match(COMMA_COMMA) {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	if _, err := p.need(GROUP_END, "expected '))' to close header"); err != nil {
		return nil, err
	}
	return p.mk("args", start, p.i-1, es...), nil
}

// ───────────────────────── macro definitions ─────────────────────────

func (p *parser) macroDef() (S, error) {
	start := p.i
	p.pushOpen(p.peek())
	p.i++ // "<%|"
	nameTok, err := p.need(IDENT, "expected macro name")
	if err != nil {
		return nil, err
	}
	name := p.mkLeaf("id", p.i-1, nameTok.Lexeme)
	params, err := p.params()
	if err != nil {
		return nil, err
	}

	phase := PhaseExpand
	switch p.peek().Type {
	case PHASE_PARSE:
		phase = PhaseParse
		p.i++
	case PHASE_EXPAND:
		p.i++
	case PHASE_COMPILE:
		phase = PhaseCompile
		p.i++
	}
	hygiene := HygieneIsolate
	switch p.peek().Type {
	case HYG_CAPTURE:
		hygiene = HygieneCapture
		p.i++
	case HYG_ISOLATE:
		p.i++
	case HYG_INJECT:
		hygiene = HygieneInject
		p.i++
	}

	// Leaf order must mirror child order in the macrodef node, so the
	// synthetic phase and hygiene leaves are emitted before the rules.
	phaseNode := p.mkLeaf("phase", -1, phase.String())
	hygNode := p.mkLeaf("hygiene", -1, hygiene.String())

	blockTok, err := p.need(BLOCK_START, "expected '[[' to open macro body")
	if err != nil {
		return nil, err
	}
	p.pushOpen(blockTok)
	var rules []any
	for {
		for p.match(STMT_SEP) {
		}
		if p.peek().Type != QUOTE_START {
			break
		}
		r, err := p.macroRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if _, err := p.needCloser(BLOCK_END); err != nil {
		return nil, err
	}
	if _, err := p.needCloser(MACRO_DEF_END); err != nil {
		return nil, err
	}

	node := p.mk("macrodef", start, p.i-1,
		append([]any{name, params, phaseNode, hygNode}, rules...)...)

	mac := &Macro{
		Name:    nameTok.Lexeme,
		Params:  paramNames(params),
		Phase:   phase,
		Hygiene: hygiene,
	}
	for _, r := range rules {
		rs := r.(S)
		mac.Rules = append(mac.Rules, Rule{Pattern: rs[1].(S), Template: rs[2].(S)})
	}
	p.macros.Define(mac)
	return node, nil
}

// macroRule parses one `{@ pattern =>> template @}` rule.
func (p *parser) macroRule() (S, error) {
	start := p.i
	p.i++ // "{@"
	pt, err := p.pattern()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(RULE_ARROW, "expected '=>>' between rule pattern and template"); err != nil {
		return nil, err
	}
	tmpl, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(QUOTE_END, "expected '@}' to close macro rule"); err != nil {
		return nil, err
	}
	return p.mk("rule", start, p.i-1, pt, tmpl), nil
}

func paramNames(params S) []string {
	var out []string
	for _, part := range params[1:] {
		prm, ok := part.(S)
		if !ok || Head(prm) != "param" {
			continue
		}
		if id, ok := prm[1].(S); ok {
			if name, ok := id[1].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

// params parses `(( name [(:)] type ,, ... ))`. A missing type defaults
// to the wildcard type id "*".
func (p *parser) params() (S, error) {
	if _, err := p.need(GROUP_START, "expected '((' to open parameter list"); err != nil {
		return nil, err
	}
	start := p.i - 1
	if p.match(GROUP_END) {
		return p.mk("params", start, p.i-1), nil
	}
	var entries []any
	for {
		nameTok, err := p.need(IDENT, "expected parameter name")
		if err != nil {
			return nil, err
		}
		pstart := p.i - 1
		name := p.mkLeaf("id", p.i-1, nameTok.Lexeme)
		var typ S
		if p.match(TYPE_ANNOT) {
			typ, err = p.expr()
			if err != nil {
				return nil, err
			}
		} else {
			typ = p.mkLeaf("id", -1, "*")
		}
		entries = append(entries, p.mk("param", pstart, p.i-1, name, typ))
		if !p.match(COMMA_COMMA) {
			break
		}
	}
	if _, err := p.need(GROUP_END, "expected '))' to close parameter list"); err != nil {
		return nil, err
	}
	return p.mk("params", start, p.i-1, entries...), nil
}

// ───────────────────────── expressions ─────────────────────────

// expr parses a conditional expression (the lowest precedence tier):
// `e [( then )]` with an optional second `[( else )]` group.
func (p *parser) expr() (S, error) {
	startTok := p.i
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	if !p.match(COND_THEN_START) {
		return left, nil
	}
	thenE, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(COND_THEN_END, "expected ')]' to close conditional branch"); err != nil {
		return nil, err
	}
	if p.match(COND_THEN_START) {
		elseE, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(COND_THEN_END, "expected ')]' to close conditional branch"); err != nil {
			return nil, err
		}
		return p.mk("cond", startTok, p.i-1, left, thenE, elseE), nil
	}
	return p.mk("cond", startTok, p.i-1, left, thenE), nil
}

func (p *parser) additive() (S, error) {
	startTok := p.i
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == PLUSPLUS || p.peek().Type == MINUSMINUS {
		op := p.peek().Lexeme
		p.i++
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = p.mk("binop", startTok, p.lastSpanEndTok, op, left, right)
	}
	return left, nil
}

func (p *parser) multiplicative() (S, error) {
	startTok := p.i
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == STARSTAR || p.peek().Type == SLASHSLASH {
		op := p.peek().Lexeme
		p.i++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = p.mk("binop", startTok, p.lastSpanEndTok, op, left, right)
	}
	return left, nil
}

func (p *parser) unary() (S, error) {
	if p.peek().Type == UNARY {
		startTok := p.i
		op := p.peek().Lexeme
		p.i++
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return p.mk("unop", startTok, p.lastSpanEndTok, op, operand), nil
	}
	return p.postfix()
}

// postfix parses a primary and any chained `(( ... ))` call suffixes.
func (p *parser) postfix() (S, error) {
	startTok := p.i
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == GROUP_START && calleeLike(left) {
		callOpen := p.peek()
		p.i++
		var args []any
		if !p.match(GROUP_END) {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			for p.match(COMMA_COMMA) {
				a, err := p.expr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
			}
			if _, err := p.need(GROUP_END, "expected '))' to close argument list"); err != nil {
				return nil, err
			}
		}
		n, err := p.finishCall(left, args, startTok, callOpen)
		if err != nil {
			return nil, err
		}
		left = n
	}
	return left, nil
}

// calleeLike limits call suffixes to things that can denote a callable,
// so a group expression in the next statement is not swallowed as an
// argument list.
func calleeLike(n S) bool {
	switch Head(n) {
	case "id", "call", "lambda", "macrocall", "await":
		return true
	}
	return false
}

// finishCall builds a call node, dispatching on the macro registry:
// PARSE-phase macros are expanded and spliced here, EXPAND- and
// COMPILE-phase calls become macrocall nodes for the expander.
func (p *parser) finishCall(callee S, args []any, startTok int, callOpen Token) (S, error) {
	if Head(callee) == "id" {
		name := callee[1].(string)
		if mac := p.macros.Lookup(name); mac != nil {
			if mac.Phase == PhaseParse {
				argNodes := make([]S, len(args))
				for i, a := range args {
					argNodes[i] = a.(S)
				}
				expansion, xerr := p.macros.Apply(mac, argNodes)
				if xerr != nil {
					line, col := p.posAtByte(callOpen.StartByte)
					xerr.Line, xerr.Col = line, col
					return nil, xerr
				}
				// Drop the spans of the consumed call subtree and emit
				// placeholders for the spliced expansion.
				drop := countNodes(callee)
				for _, a := range argNodes {
					drop += countNodes(a)
				}
				p.post = p.post[:len(p.post)-drop]
				p.emitSyntheticSpans(expansion)
				return expansion, nil
			}
			return p.mk("macrocall", startTok, p.i-1, append([]any{callee}, args...)...), nil
		}
	}
	return p.mk("call", startTok, p.i-1, append([]any{callee}, args...)...), nil
}

func (p *parser) primary() (S, error) {
	t := p.peek()
	startTok := p.i
	switch t.Type {
	case NUMBER:
		p.i++
		return p.mkLeaf("num", startTok, t.Literal), nil
	case STRING:
		p.i++
		return p.mkLeaf("str", startTok, t.Literal), nil
	case IDENT:
		p.i++
		return p.mkLeaf("id", startTok, t.Lexeme), nil

	case GROUP_START:
		p.i++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(GROUP_END, "expected '))' to close group"); err != nil {
			return nil, err
		}
		return inner, nil

	case LIST_START:
		return p.listOrComprehension()
	case TUPLE_START:
		p.i++
		return p.elements("tuple", startTok, TUPLE_END, "expected '>)' to close tuple")
	case SET_START:
		p.i++
		return p.elements("set", startTok, SET_END, "expected '}]' to close set")
	case TENSOR_START:
		p.i++
		return p.elements("tensorlit", startTok, TENSOR_END, "expected '#]' to close tensor literal")
	case STREAM_START:
		p.i++
		return p.elements("streamlit", startTok, STREAM_END, "expected '~>' to close stream literal")
	case DICT_START:
		return p.dictLiteral()

	case LAMBDA_START:
		p.pushOpen(t)
		p.i++
		params, err := p.params()
		if err != nil {
			return nil, err
		}
		bodyE, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.needCloser(LAMBDA_END); err != nil {
			return nil, err
		}
		return p.mk("lambda", startTok, p.i-1, params, bodyE), nil

	case AWAIT_START:
		p.i++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(AWAIT_END, "expected ')~' to close await"); err != nil {
			return nil, err
		}
		return p.mk("await", startTok, p.i-1, e), nil

	case QUOTE_START:
		p.i++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(QUOTE_END, "expected '@}' to close quote"); err != nil {
			return nil, err
		}
		return p.mk("quote", startTok, p.i-1, e), nil

	case UNQUOTE_START:
		p.i++
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(UNQUOTE_END, "expected ')@' to close unquote"); err != nil {
			return nil, err
		}
		return p.mk("unquote", startTok, p.i-1, e), nil
	}

	if t.Type == EOF {
		return nil, p.errAt(t, CodeUnexpectedEOF, "unexpected end of input in expression")
	}
	return nil, p.errAt(t, CodeExpectedToken,
		fmt.Sprintf("expected expression, found %s", TokenName(t.Type)))
}

// elements parses `e ,, e ,, ...` up to the closer. The opener has
// already been consumed.
func (p *parser) elements(tag string, startTok int, close TokenType, closeMsg string) (S, error) {
	if p.match(close) {
		return p.mk(tag, startTok, p.i-1), nil
	}
	var es []any
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	es = append(es, e)
	for p.match(COMMA_COMMA) {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	if _, err := p.need(close, closeMsg); err != nil {
		return nil, err
	}
	return p.mk(tag, startTok, p.i-1, es...), nil
}

// listOrComprehension parses `[< ... >]`: a plain list literal, or a
// comprehension when the first element is followed by a `[:<` clause.
func (p *parser) listOrComprehension() (S, error) {
	startTok := p.i
	p.i++ // "[<"
	if p.match(LIST_END) {
		return p.mk("list", startTok, p.i-1), nil
	}
	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == FOR_CLAUSE_START {
		var clauses []any
		for {
			switch p.peek().Type {
			case FOR_CLAUSE_START:
				c, err := p.forClause()
				if err != nil {
					return nil, err
				}
				clauses = append(clauses, c)
				continue
			case IF_CLAUSE_START:
				c, err := p.ifClause()
				if err != nil {
					return nil, err
				}
				clauses = append(clauses, c)
				continue
			}
			break
		}
		if _, err := p.need(LIST_END, "expected '>]' to close comprehension"); err != nil {
			return nil, err
		}
		return p.mk("comp", startTok, p.i-1, append([]any{first}, clauses...)...), nil
	}
	es := []any{first}
	for p.match(COMMA_COMMA) {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		es = append(es, e)
	}
	if _, err := p.need(LIST_END, "expected '>]' to close list"); err != nil {
		return nil, err
	}
	return p.mk("list", startTok, p.i-1, es...), nil
}

func (p *parser) forClause() (S, error) {
	startTok := p.i
	p.i++ // "[:<"
	nameTok, err := p.need(IDENT, "expected comprehension variable")
	if err != nil {
		return nil, err
	}
	name := p.mkLeaf("id", p.i-1, nameTok.Lexeme)
	if _, err := p.need(IN_OPERATOR, "expected '[%]' in for clause"); err != nil {
		return nil, err
	}
	iter, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(FOR_CLAUSE_END, "expected '>:]' to close for clause"); err != nil {
		return nil, err
	}
	return p.mk("for", startTok, p.i-1, name, iter), nil
}

func (p *parser) ifClause() (S, error) {
	startTok := p.i
	p.i++ // "[?:"
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.need(IF_CLAUSE_END, "expected ':?]' to close if clause"); err != nil {
		return nil, err
	}
	return p.mk("filter", startTok, p.i-1, cond), nil
}

func (p *parser) dictLiteral() (S, error) {
	startTok := p.i
	p.i++ // "{<"
	if p.match(DICT_END) {
		return p.mk("dict", startTok, p.i-1), nil
	}
	var pairs []any
	for {
		kstart := p.i
		k, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.need(DICT_MAP, "expected '[:]' between key and value"); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p.mk("pair", kstart, p.lastSpanEndTok, k, v))
		if !p.match(COMMA_COMMA) {
			break
		}
	}
	if _, err := p.need(DICT_END, "expected '>}' to close dict"); err != nil {
		return nil, err
	}
	return p.mk("dict", startTok, p.i-1, pairs...), nil
}

// ───────────────────────── patterns ─────────────────────────

// pattern parses the pattern sublanguage shared by case blocks, except
// targets and macro rules. Anything else is an InvalidPattern.
func (p *parser) pattern() (S, error) {
	t := p.peek()
	startTok := p.i
	switch t.Type {
	case NUMBER:
		p.i++
		lit := p.mkLeaf("num", startTok, t.Literal)
		return p.mk("plit", startTok, startTok, lit), nil
	case STRING:
		p.i++
		lit := p.mkLeaf("str", startTok, t.Literal)
		return p.mk("plit", startTok, startTok, lit), nil
	case IDENT:
		p.i++
		return p.mkLeaf("pbind", startTok, t.Lexeme), nil
	case TUPLE_START:
		p.i++
		return p.patternList("ptuple", startTok, TUPLE_END, "expected '>)' to close tuple pattern")
	case TENSOR_START:
		p.i++
		return p.patternList("ptensor", startTok, TENSOR_END, "expected '#]' to close tensor pattern")
	case STREAM_START:
		p.i++
		return p.patternList("pstream", startTok, STREAM_END, "expected '~>' to close stream pattern")
	case DICT_START:
		return p.graphPattern()
	}
	return nil, p.errAt(t, CodeInvalidPattern,
		fmt.Sprintf("expected pattern, found %s", TokenName(t.Type)))
}

func (p *parser) patternList(tag string, startTok int, close TokenType, closeMsg string) (S, error) {
	if p.match(close) {
		return p.mk(tag, startTok, p.i-1), nil
	}
	var ps []any
	pt, err := p.pattern()
	if err != nil {
		return nil, err
	}
	ps = append(ps, pt)
	for p.match(COMMA_COMMA) {
		pt, err := p.pattern()
		if err != nil {
			return nil, err
		}
		ps = append(ps, pt)
	}
	if _, err := p.need(close, closeMsg); err != nil {
		return nil, err
	}
	return p.mk(tag, startTok, p.i-1, ps...), nil
}

// graphPattern parses `{< key [:] pattern ,, ... >}`. Keys are literal
// numbers, strings or identifiers, matched by value.
func (p *parser) graphPattern() (S, error) {
	startTok := p.i
	p.i++ // "{<"
	if p.match(DICT_END) {
		return p.mk("pgraph", startTok, p.i-1), nil
	}
	var pairs []any
	for {
		kt := p.peek()
		kstart := p.i
		var key S
		switch kt.Type {
		case NUMBER:
			p.i++
			key = p.mkLeaf("num", kstart, kt.Literal)
		case STRING:
			p.i++
			key = p.mkLeaf("str", kstart, kt.Literal)
		case IDENT:
			p.i++
			key = p.mkLeaf("id", kstart, kt.Lexeme)
		default:
			return nil, p.errAt(kt, CodeInvalidPattern,
				fmt.Sprintf("expected graph pattern key, found %s", TokenName(kt.Type)))
		}
		if _, err := p.need(DICT_MAP, "expected '[:]' in graph pattern"); err != nil {
			return nil, err
		}
		pt, err := p.pattern()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p.mk("pair", kstart, p.lastSpanEndTok, key, pt))
		if !p.match(COMMA_COMMA) {
			break
		}
	}
	if _, err := p.need(DICT_END, "expected '>}' to close graph pattern"); err != nil {
		return nil, err
	}
	return p.mk("pgraph", startTok, p.i-1, pairs...), nil
}
