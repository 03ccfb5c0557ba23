// macro.go — phase-aware hygienic macro expansion.
//
// Macros are defined in source with `<%| ... |%>` and registered during
// parsing. Each macro carries a phase and a hygiene mode:
//
//	phase    %!  PARSE     expanded inline by the parser
//	         %%  EXPAND    expanded here, to fixpoint (default)
//	         %?  COMPILE   rewritten to deferred nodes for the back-end
//
//	hygiene  ^^  CAPTURE   template names left alone
//	         ^~  ISOLATE   template-introduced names renamed (default)
//	         ^!  INJECT    template-introduced names recorded, with
//	                       cross-macro collisions rejected
//
// The expander rewrites whole nodes, never mutating in place, and runs
// bottom-up passes over the tree until a pass changes nothing. A pass
// bound guards against self-feeding macros; hitting it is a
// NonTermination error, not a hang.
package lilith

import (
	"context"
	"fmt"
)

// Phase says when a macro's rewrite fires in the pipeline.
type Phase int

const (
	PhaseParse Phase = iota
	PhaseExpand
	PhaseCompile
)

func (p Phase) String() string {
	switch p {
	case PhaseParse:
		return "PARSE"
	case PhaseCompile:
		return "COMPILE"
	}
	return "EXPAND"
}

// Hygiene says how template-introduced names interact with the call
// site's scope.
type Hygiene int

const (
	HygieneCapture Hygiene = iota
	HygieneIsolate
	HygieneInject
)

func (h Hygiene) String() string {
	switch h {
	case HygieneCapture:
		return "CAPTURE"
	case HygieneInject:
		return "INJECT"
	}
	return "ISOLATE"
}

// Rule is one pattern → template rewrite inside a macro body.
type Rule struct {
	Pattern  S
	Template S
}

// Macro is a registered macro definition.
type Macro struct {
	Name    string
	Params  []string
	Phase   Phase
	Hygiene Hygiene
	Rules   []Rule
}

// Registry holds the macros of one compilation unit, the gensym counter
// backing ISOLATE renames, and the names injected so far. Not safe for
// concurrent use; one registry per unit.
type Registry struct {
	byName   map[string]*Macro
	gensym   int
	injected map[string]string // injected name → macro that owns it
}

func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Macro),
		injected: make(map[string]string),
	}
}

// Define registers a macro, replacing any earlier definition of the
// same name.
func (r *Registry) Define(m *Macro) { r.byName[m.Name] = m }

// Lookup returns the macro registered under name, or nil.
func (r *Registry) Lookup(name string) *Macro {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// Injected returns the names injected by ^! macros so far, mapped to
// the macro that introduced each.
func (r *Registry) Injected() map[string]string { return r.injected }

// Gensym mints a fresh identifier derived from name. Generated names
// contain a counter, so they can never collide with source identifiers
// or with each other within one registry.
func (r *Registry) Gensym(name string) string {
	r.gensym++
	return fmt.Sprintf("%s~%d", name, r.gensym)
}

// Apply expands one call of mac with the given argument subtrees:
// first-match-wins over the macro's rules, the hygiene pass over the
// bare template, then substitution. Hygiene must run first: only names
// the template itself introduces are renamed or recorded, never
// identifiers arriving from the call site through a binding. The
// returned error has no position; callers fill in the call site's.
func (r *Registry) Apply(mac *Macro, args []S) (S, *ExpandError) {
	tuple := make(S, 0, len(args)+1)
	tuple = append(tuple, "tuple")
	for _, a := range args {
		tuple = append(tuple, a)
	}

	var tmpl S
	var b Bindings
	matched := false
	for _, rule := range mac.Rules {
		// A tuple pattern matches the whole argument list; any other
		// pattern matches a single argument directly.
		subject := S(tuple)
		if Head(rule.Pattern) != "ptuple" {
			if len(args) != 1 {
				continue
			}
			subject = args[0]
		}
		if bb, ok := Match(rule.Pattern, subject); ok {
			tmpl, b, matched = rule.Template, bb, true
			break
		}
	}
	if !matched {
		return nil, &ExpandError{
			Code: CodeNoMatchingRule,
			Msg:  fmt.Sprintf("no rule of macro '%s' matches %d argument(s)", mac.Name, len(args)),
		}
	}

	out := Clone(tmpl)

	switch mac.Hygiene {
	case HygieneIsolate:
		intro := templateIntroduced(out, b)
		if len(intro) > 0 {
			ren := make(map[string]string, len(intro))
			for _, name := range intro {
				ren[name] = r.Gensym(name)
			}
			out = rename(out, ren)
		}
	case HygieneInject:
		for _, name := range templateIntroduced(out, b) {
			if owner, ok := r.injected[name]; ok && owner != mac.Name {
				return nil, &ExpandError{
					Code: CodeHygieneConflict,
					Msg: fmt.Sprintf("macro '%s' injects '%s' already injected by macro '%s'",
						mac.Name, name, owner),
				}
			}
			r.injected[name] = mac.Name
		}
	}
	return substitute(out, b, false), nil
}

// templateIntroduced is introducedNames restricted to names the template
// spells out itself: a binder position holding a pattern variable is
// call-site material once substituted, so it is excluded.
func templateIntroduced(tmpl S, b Bindings) []string {
	all := introducedNames(tmpl)
	out := all[:0]
	for _, name := range all {
		if _, bound := b[name]; !bound {
			out = append(out, name)
		}
	}
	return out
}

// substitute replaces bound identifiers in a template with their
// captured subtrees. Inside a quote, only unquote points fire; the rest
// of the quoted fragment is carried literally.
func substitute(n S, b Bindings, inQuote bool) S {
	switch Head(n) {
	case "id":
		if !inQuote {
			if v, ok := b[n[1].(string)]; ok {
				return Clone(v)
			}
		}
		return n
	case "quote":
		out := make(S, len(n))
		out[0] = n[0]
		for k := 1; k < len(n); k++ {
			if child, ok := n[k].(S); ok {
				out[k] = substitute(child, b, true)
			} else {
				out[k] = n[k]
			}
		}
		return out
	case "unquote":
		if inner, ok := n[1].(S); ok {
			return substitute(inner, b, false)
		}
		return n
	}
	out := make(S, len(n))
	out[0] = n[0]
	for k := 1; k < len(n); k++ {
		if child, ok := n[k].(S); ok {
			out[k] = substitute(child, b, inQuote)
		} else {
			out[k] = n[k]
		}
	}
	return out
}

// introducedNames collects the identifiers a template expansion brings
// into scope: assignment targets, function and class names, parameter
// names and comprehension variables. Quoted fragments are data and
// contribute nothing.
func introducedNames(n S) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var walk func(n S)
	addTarget := func(t S) {
		switch Head(t) {
		case "id":
			add(t[1].(string))
		case "tuple":
			for k := 1; k < len(t); k++ {
				if el, ok := t[k].(S); ok && Head(el) == "id" {
					add(el[1].(string))
				}
			}
		}
	}
	walk = func(n S) {
		switch Head(n) {
		case "quote":
			return
		case "assign":
			if t, ok := n[1].(S); ok {
				addTarget(t)
			}
		case "func", "afunc", "class":
			if id, ok := n[1].(S); ok && Head(id) == "id" {
				add(id[1].(string))
			}
		case "param", "for":
			if id, ok := n[1].(S); ok && Head(id) == "id" {
				add(id[1].(string))
			}
		}
		for k := 1; k < len(n); k++ {
			if child, ok := n[k].(S); ok {
				walk(child)
			}
		}
	}
	walk(n)
	return out
}

// rename rewrites every occurrence of the mapped identifiers, leaving
// quoted fragments untouched.
func rename(n S, ren map[string]string) S {
	if Head(n) == "quote" {
		return n
	}
	if Head(n) == "id" || Head(n) == "pbind" {
		if to, ok := ren[n[1].(string)]; ok {
			return L(Head(n), to)
		}
		return n
	}
	out := make(S, len(n))
	out[0] = n[0]
	for k := 1; k < len(n); k++ {
		if child, ok := n[k].(S); ok {
			out[k] = rename(child, ren)
		} else {
			out[k] = n[k]
		}
	}
	return out
}

// DefaultMaxExpand bounds fixpoint iterations before the expander gives
// up and reports non-termination.
const DefaultMaxExpand = 64

// Expander drives EXPAND-phase rewriting to fixpoint and rewrites
// COMPILE-phase calls into deferred nodes.
type Expander struct {
	Reg           *Registry
	MaxIterations int
	Spans         *SpanIndex // spans of the unexpanded tree, for first-pass diagnostics
	Src           string
}

// Expand rewrites root until no macro call remains rewritable. The
// context is checked between passes.
func (x *Expander) Expand(ctx context.Context, root S) (S, error) {
	max := x.MaxIterations
	if max <= 0 {
		max = DefaultMaxExpand
	}
	cur := root
	for iter := 0; ; iter++ {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if iter >= max {
			return nil, &ExpandError{
				Code: CodeNonTermination,
				Msg:  fmt.Sprintf("macro expansion did not settle within %d passes", max),
				Line: 1,
			}
		}
		next, changed, err := x.pass(cur, nil, iter == 0)
		if err != nil {
			return nil, err
		}
		if !changed {
			return next, nil
		}
		cur = next
	}
}

// pass runs one bottom-up rewrite over the tree. firstPass enables span
// lookups for diagnostics; later passes address rewritten trees the
// span index no longer describes.
func (x *Expander) pass(n S, path NodePath, firstPass bool) (S, bool, error) {
	head := Head(n)
	// Definitions and quoted fragments are inert.
	if head == "macrodef" || head == "quote" {
		return n, false, nil
	}

	changed := false
	cur := n
	for k := 1; k < len(n); k++ {
		child, ok := n[k].(S)
		if !ok {
			continue
		}
		nc, chg, err := x.pass(child, append(path, k-1), firstPass)
		if err != nil {
			return nil, false, err
		}
		if chg {
			if !changed {
				cur = make(S, len(n))
				copy(cur, n)
				changed = true
			}
			cur[k] = nc
		}
	}

	name, args, isCall := macroCallParts(cur)
	if !isCall {
		return cur, changed, nil
	}
	mac := x.Reg.Lookup(name)
	if mac == nil {
		if head == "macrocall" {
			return nil, false, x.errAt(path, firstPass, &ExpandError{
				Code: CodeUndefinedMacro,
				Msg:  fmt.Sprintf("call to undefined macro '%s'", name),
			})
		}
		return cur, changed, nil // ordinary call
	}

	if mac.Phase == PhaseCompile {
		def := make(S, len(cur))
		copy(def, cur)
		def[0] = "deferred"
		return def, true, nil
	}

	// PARSE-phase calls normally never reach the expander; ones built
	// by earlier expansions are treated like EXPAND.
	exp, xerr := x.Reg.Apply(mac, args)
	if xerr != nil {
		return nil, false, x.errAt(path, firstPass, xerr)
	}
	return exp, true, nil
}

// macroCallParts recognizes the node shapes the expander may rewrite:
// explicit macrocall nodes and plain calls whose callee is a bare
// identifier.
func macroCallParts(n S) (string, []S, bool) {
	head := Head(n)
	if head != "macrocall" && head != "call" {
		return "", nil, false
	}
	callee, ok := n[1].(S)
	if !ok || Head(callee) != "id" {
		return "", nil, false
	}
	args := make([]S, 0, len(n)-2)
	for k := 2; k < len(n); k++ {
		a, ok := n[k].(S)
		if !ok {
			return "", nil, false
		}
		args = append(args, a)
	}
	return callee[1].(string), args, true
}

func (x *Expander) errAt(path NodePath, firstPass bool, e *ExpandError) *ExpandError {
	if firstPass {
		if sp, ok := x.Spans.Get(path); ok && sp.EndByte > sp.StartByte {
			e.Line, e.Col = lineColAt(x.Src, sp.StartByte)
			return e
		}
	}
	e.Line, e.Col = 0, 0
	return e
}
