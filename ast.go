// ast.go — the Lilith AST as compact S-expressions.
//
// A node is a []any whose first element is a string tag; children and
// payloads follow. The encoding is tiny, serialisable, and makes the
// macro expander's wholesale-rewrite discipline natural: nodes are
// never field-mutated in place, only rebuilt.
//
// Node inventory (payloads before children):
//
//	("program",  stmt...)
//	("block",    stmt...)
//	("assign",   target, value)
//	("import",   ("id", seg)...)          // ordered path segments, unresolved
//	("return",   value?)                  // ("yield", value?) likewise
//	("break")    ("continue")
//	("if",       cond, thenBlock, elseBlock?)
//	("while",    cond, body)
//	("func",     ("id",name), params, retType?, body)
//	("afunc",    ("id",name), params, retType?, body)
//	("class",    ("id",name), body)
//	("try",      body, ("except", ...)..., ("finally", body)?)
//	("except",   ("patterns", p...), body)
//	("match",    subject, ("case", pattern, body)...)
//	("macrodef", ("id",name), params, ("phase", s), ("hygiene", s), rule...)
//	("rule",     pattern, template)
//	("parallel"|"gpu"|"tensor"|"nn"|"stream", header, body)  // header is ("args", e...)
//	("memory",   e...)    ("device", e)
//	("params",   ("param", ("id",name), type?)...)
//	("cond",     c, then, else?)
//	("binop",    op, lhs, rhs)            // op is the raw spelling, opaque here
//	("unop",     op, operand)
//	("call",     callee, arg...)
//	("macrocall", ("id",name), arg...)    // EXPAND-phase, resolved later
//	("deferred",  ("id",name), arg...)    // COMPILE-phase, left for the back-end
//	("lambda",   params, bodyExpr)
//	("await",    e)
//	("quote",    e)      ("unquote", e)
//	("list"|"tuple"|"set", e...)
//	("dict",     ("pair", k, v)...)
//	("comp",     elemExpr, clause...)     // clause: ("for", ("id",n), iter) | ("filter", cond)
//	("id", string)  ("num", int64)  ("str", string)
//
// Pattern nodes (produced by parsePattern, consumed by Match):
//
//	("plit", literalNode)                 // exact value equality
//	("pbind", name)                       // binds the whole subtree
//	("ptuple", p...)  ("ptensor", p...)  ("pstream", p...)
//	("pgraph", ("pair", keyNode, p)...)
package lilith

// S is an AST node: a tag string followed by payloads/children.
type S = []any

// L builds a node from a tag and parts.
func L(tag string, parts ...any) S { return append([]any{tag}, parts...) }

// Head returns a node's tag, or "" for an empty node.
func Head(n S) string {
	if len(n) == 0 {
		return ""
	}
	tag, _ := n[0].(string)
	return tag
}

// Clone deep-copies a node. Subtree sharing is never allowed across a
// rewrite boundary: every substitution site receives its own copy.
func Clone(n S) S {
	if n == nil {
		return nil
	}
	out := make(S, len(n))
	for i, part := range n {
		if child, ok := part.(S); ok {
			out[i] = Clone(child)
		} else {
			out[i] = part
		}
	}
	return out
}

// EqualS reports deep structural equality of two nodes.
func EqualS(a, b S) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, aok := a[i].(S)
		cb, bok := b[i].(S)
		if aok != bok {
			return false
		}
		if aok {
			if !EqualS(ca, cb) {
				return false
			}
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
