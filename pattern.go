// pattern.go — structural pattern matching over AST nodes.
//
// Patterns come out of the parser as their own node family (plit,
// pbind, ptuple, ptensor, pstream, pgraph) and are matched here against
// expression subtrees. Matching is all-or-nothing: a failed match
// introduces no bindings at all, so first-match-wins dispatch over a
// rule list never sees partial state.
package lilith

// Bindings maps pattern variable names to the subtrees they captured.
type Bindings map[string]S

// Match tests pattern against subject. On success the returned bindings
// hold every pbind capture; on failure the bindings are nil.
func Match(pattern, subject S) (Bindings, bool) {
	b := Bindings{}
	if matchInto(pattern, subject, b) {
		return b, true
	}
	return nil, false
}

func matchInto(pattern, subject S, b Bindings) bool {
	switch Head(pattern) {
	case "pbind":
		// A name always matches and captures the whole subtree. A name
		// repeated within one pattern must capture equal subtrees.
		name := pattern[1].(string)
		if prev, ok := b[name]; ok {
			return EqualS(prev, subject)
		}
		b[name] = subject
		return true

	case "plit":
		return EqualS(pattern[1].(S), subject)

	case "ptuple":
		return matchSeq(pattern, subject, "tuple", b)
	case "ptensor":
		return matchSeq(pattern, subject, "tensorlit", b)
	case "pstream":
		return matchSeq(pattern, subject, "streamlit", b)

	case "pgraph":
		return matchGraph(pattern, subject, b)
	}
	return false
}

// matchSeq matches a sequence pattern against a subject of the given
// node kind, pairwise and in order. Arity must agree exactly.
func matchSeq(pattern, subject S, wantTag string, b Bindings) bool {
	if Head(subject) != wantTag {
		return false
	}
	if len(pattern) != len(subject) {
		return false
	}
	for k := 1; k < len(pattern); k++ {
		pk, ok1 := pattern[k].(S)
		sk, ok2 := subject[k].(S)
		if !ok1 || !ok2 || !matchInto(pk, sk, b) {
			return false
		}
	}
	return true
}

// matchGraph matches a graph pattern against a dict literal. Every
// pattern key must be present in the subject with a matching value;
// extra subject keys are ignored.
func matchGraph(pattern, subject S, b Bindings) bool {
	if Head(subject) != "dict" {
		return false
	}
	for k := 1; k < len(pattern); k++ {
		pp, ok := pattern[k].(S) // ("pair", key, valuePattern)
		if !ok || len(pp) != 3 {
			return false
		}
		key := pp[1].(S)
		found := false
		for j := 1; j < len(subject); j++ {
			sp, ok := subject[j].(S) // ("pair", key, value)
			if !ok || len(sp) != 3 {
				return false
			}
			if EqualS(key, sp[1].(S)) {
				if !matchInto(pp[2].(S), sp[2].(S), b) {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchFirst tries rules in order and returns the template and bindings
// of the first rule whose pattern matches the subject.
func MatchFirst(rules []Rule, subject S) (S, Bindings, bool) {
	for _, r := range rules {
		if b, ok := Match(r.Pattern, subject); ok {
			return r.Template, b, true
		}
	}
	return nil, nil, false
}
