// frontend.go — public entry points for the Lilith front-end.
//
// The pipeline is tokenize → parse (PARSE-phase macros fire inline) →
// expand (EXPAND-phase to fixpoint, COMPILE-phase deferred). Each stage
// is also exposed on its own. The first error at any stage aborts the
// pipeline; errors carry positions and render with source snippets via
// WrapErrorWithSource.
package lilith

import "context"

// Version is the front-end release; BuildDate is stamped by the build.
const Version = "0.3.0"

var BuildDate = "dev"

// Unit is the result of running the whole front-end over one source
// text.
type Unit struct {
	Name   string
	Src    string
	Raw    S          // tree as parsed, before EXPAND/COMPILE rewriting
	AST    S          // tree after macro expansion
	Spans  *SpanIndex // spans addressing Raw
	Macros *Registry
}

// Injected reports the names ^! macros injected into the unit's scope.
func (u *Unit) Injected() map[string]string { return u.Macros.Injected() }

// Options tunes a front-end run. The zero value is ready to use.
type Options struct {
	// MaxExpand bounds expander passes; 0 means DefaultMaxExpand.
	MaxExpand int
	// Macros seeds the unit with predefined macros; nil starts empty.
	Macros *Registry
}

// Tokenize scans src into its token stream.
func Tokenize(src string) ([]Token, error) {
	return NewLexer(src).Scan()
}

// Parse builds the AST for src. Macro definitions are registered and
// PARSE-phase calls expanded; EXPAND- and COMPILE-phase calls are left
// as macrocall nodes.
func Parse(src string) (S, error) {
	ast, _, err := parseUnit(context.Background(), src, nil)
	return ast, err
}

// ParseWithSpans is Parse plus the sidecar span index for the tree.
func ParseWithSpans(src string) (S, *SpanIndex, error) {
	return parseUnit(context.Background(), src, nil)
}

// Compile runs the full pipeline with default options.
func Compile(name, src string) (*Unit, error) {
	return CompileCtx(context.Background(), name, src, Options{})
}

// CompileCtx runs the full pipeline. Cancellation is honored between
// parsed statements and between expander passes.
func CompileCtx(ctx context.Context, name, src string, opts Options) (*Unit, error) {
	reg := opts.Macros
	if reg == nil {
		reg = NewRegistry()
	}
	raw, spans, err := parseUnit(ctx, src, reg)
	if err != nil {
		return nil, err
	}
	x := &Expander{Reg: reg, MaxIterations: opts.MaxExpand, Spans: spans, Src: src}
	expanded, err := x.Expand(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Unit{
		Name:   name,
		Src:    src,
		Raw:    raw,
		AST:    expanded,
		Spans:  spans,
		Macros: reg,
	}, nil
}
