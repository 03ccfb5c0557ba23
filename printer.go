// printer.go — deterministic source rendering of Lilith ASTs.
//
// Render produces canonical surface syntax: statements separated by
// `][`, one space between tokens, groups inserted only where the
// expression grammar requires them. Rendering the parse of a program
// and reparsing the result yields a structurally equal tree, which the
// REPL and the expansion tooling rely on.
package lilith

import (
	"fmt"
	"strconv"
	"strings"
)

// Precedence tiers of the expression grammar, loosest first.
const (
	precCond = iota
	precAdd
	precMul
	precUnary
	precPrimary
)

// Render returns canonical source text for a node.
func Render(n S) string {
	var sb strings.Builder
	render(&sb, n, precCond)
	return sb.String()
}

func render(sb *strings.Builder, n S, min int) {
	switch Head(n) {
	case "program":
		sb.WriteString("{[ ")
		renderStmts(sb, n[1:])
		sb.WriteString(" ]}")

	case "block":
		sb.WriteString("[[ ")
		renderStmts(sb, n[1:])
		sb.WriteString(" ]]")

	case "assign":
		render(sb, n[1].(S), precCond)
		sb.WriteString(" [=] ")
		render(sb, n[2].(S), precCond)

	case "import":
		sb.WriteString("%[ ")
		for k := 1; k < len(n); k++ {
			if k > 1 {
				sb.WriteString(" :: ")
			}
			sb.WriteString(n[k].(S)[1].(string))
		}
		sb.WriteString(" ]%")

	case "return":
		sb.WriteString(")-")
		if len(n) > 1 {
			sb.WriteString(" ")
			render(sb, n[1].(S), precCond)
		}
		sb.WriteString(" -(")

	case "yield":
		sb.WriteString(")-?")
		if len(n) > 1 {
			sb.WriteString(" ")
			render(sb, n[1].(S), precCond)
		}
		sb.WriteString(" ?-(")

	case "break":
		sb.WriteString("]-!")
	case "continue":
		sb.WriteString("]-?")

	case "if":
		sb.WriteString("[? ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" ")
		render(sb, n[2].(S), precCond)
		if len(n) > 3 {
			sb.WriteString(" :|: ")
			render(sb, n[3].(S), precCond)
		}
		sb.WriteString(" ?]")

	case "while":
		sb.WriteString("<+ ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" +>")

	case "func", "afunc":
		if Head(n) == "afunc" {
			sb.WriteString("~(| ")
		} else {
			sb.WriteString("(| ")
		}
		sb.WriteString(n[1].(S)[1].(string))
		sb.WriteString(" ")
		renderParams(sb, n[2].(S))
		sb.WriteString(" -> ")
		render(sb, n[3].(S), precPrimary)
		sb.WriteString(" ")
		render(sb, n[4].(S), precCond)
		sb.WriteString(" |)")

	case "class":
		sb.WriteString("{| ")
		sb.WriteString(n[1].(S)[1].(string))
		sb.WriteString(" ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" |}")

	case "try":
		sb.WriteString("{? ")
		render(sb, n[1].(S), precCond)
		for k := 2; k < len(n); k++ {
			sb.WriteString(" ")
			render(sb, n[k].(S), precCond)
		}
		sb.WriteString(" ?}")

	case "except":
		sb.WriteString("[! ")
		pats := n[1].(S)
		for k := 1; k < len(pats); k++ {
			if k > 1 {
				sb.WriteString(" [/] ")
			}
			render(sb, pats[k].(S), precCond)
		}
		if len(pats) > 1 {
			sb.WriteString(" ")
		}
		render(sb, n[2].(S), precCond)
		sb.WriteString(" !]")

	case "finally":
		sb.WriteString("[:~ ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" ~:]")

	case "match":
		sb.WriteString("(-< ")
		render(sb, n[1].(S), precCond)
		for k := 2; k < len(n); k++ {
			sb.WriteString(" ")
			render(sb, n[k].(S), precCond)
		}
		sb.WriteString(" >-)")

	case "case":
		sb.WriteString("[< ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" >]")

	case "macrodef":
		renderMacroDef(sb, n)

	case "rule":
		sb.WriteString("{@ ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" =>> ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" @}")

	case "parallel":
		renderDomain(sb, n, "<&", "&>")
	case "gpu":
		renderDomain(sb, n, "<%", "%>")
	case "tensor":
		renderDomain(sb, n, "[#", "#]")
	case "nn":
		renderDomain(sb, n, "{#", "#}")
	case "stream":
		renderDomain(sb, n, "<~", "~>")

	case "memory":
		sb.WriteString("[@ ")
		renderSeq(sb, n[1:])
		sb.WriteString(" @]")

	case "device":
		sb.WriteString("{$ ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" $}")

	case "cond":
		group(sb, min > precCond, func() {
			render(sb, n[1].(S), precAdd)
			sb.WriteString(" [( ")
			render(sb, n[2].(S), precCond)
			sb.WriteString(" )]")
			if len(n) > 3 {
				sb.WriteString(" [( ")
				render(sb, n[3].(S), precCond)
				sb.WriteString(" )]")
			}
		})

	case "binop":
		op := n[1].(string)
		prec := precAdd
		if op == "**" || op == "//" {
			prec = precMul
		}
		group(sb, min > prec, func() {
			render(sb, n[2].(S), prec)
			sb.WriteString(" " + op + " ")
			render(sb, n[3].(S), prec+1)
		})

	case "unop":
		group(sb, min > precUnary, func() {
			sb.WriteString(n[1].(string) + " ")
			render(sb, n[2].(S), precUnary)
		})

	case "call", "macrocall", "deferred":
		render(sb, n[1].(S), precPrimary)
		sb.WriteString("(( ")
		renderSeq(sb, n[2:])
		sb.WriteString(" ))")

	case "lambda":
		sb.WriteString("(:< ")
		renderParams(sb, n[1].(S))
		sb.WriteString(" ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" >:)")

	case "await":
		sb.WriteString("~( ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" )~")

	case "quote":
		sb.WriteString("{@ ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" @}")

	case "unquote":
		sb.WriteString("@( ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" )@")

	case "list":
		renderWrapped(sb, n[1:], "[<", ">]")
	case "tuple", "ptuple":
		renderWrapped(sb, n[1:], "(<", ">)")
	case "set":
		renderWrapped(sb, n[1:], "[{", "}]")
	case "tensorlit", "ptensor":
		renderWrapped(sb, n[1:], "[#", "#]")
	case "streamlit", "pstream":
		renderWrapped(sb, n[1:], "<~", "~>")

	case "dict", "pgraph":
		if len(n) == 1 {
			sb.WriteString("{< >}")
			return
		}
		sb.WriteString("{< ")
		for k := 1; k < len(n); k++ {
			if k > 1 {
				sb.WriteString(" ,, ")
			}
			pair := n[k].(S)
			render(sb, pair[1].(S), precCond)
			sb.WriteString(" [:] ")
			render(sb, pair[2].(S), precCond)
		}
		sb.WriteString(" >}")

	case "comp":
		sb.WriteString("[< ")
		render(sb, n[1].(S), precCond)
		for k := 2; k < len(n); k++ {
			sb.WriteString(" ")
			render(sb, n[k].(S), precCond)
		}
		sb.WriteString(" >]")

	case "for":
		sb.WriteString("[:< ")
		sb.WriteString(n[1].(S)[1].(string))
		sb.WriteString(" [%] ")
		render(sb, n[2].(S), precCond)
		sb.WriteString(" >:]")

	case "filter":
		sb.WriteString("[?: ")
		render(sb, n[1].(S), precCond)
		sb.WriteString(" :?]")

	case "id", "pbind":
		sb.WriteString(n[1].(string))

	case "plit":
		render(sb, n[1].(S), precPrimary)

	case "num":
		switch v := n[1].(type) {
		case int64:
			sb.WriteString(strconv.FormatInt(v, 10))
		default:
			fmt.Fprintf(sb, "%v", v)
		}

	case "str":
		sb.WriteString(quoteString(n[1].(string)))

	default:
		// Unknown tags render as an s-expression so nothing ever
		// disappears silently from diagnostics.
		fmt.Fprintf(sb, "#<%s>", Head(n))
	}
}

func group(sb *strings.Builder, wrap bool, inner func()) {
	if wrap {
		sb.WriteString("(( ")
		inner()
		sb.WriteString(" ))")
		return
	}
	inner()
}

func renderStmts(sb *strings.Builder, items []any) {
	for k, it := range items {
		if k > 0 {
			sb.WriteString(" ][ ")
		}
		render(sb, it.(S), precCond)
	}
}

func renderSeq(sb *strings.Builder, items []any) {
	for k, it := range items {
		if k > 0 {
			sb.WriteString(" ,, ")
		}
		render(sb, it.(S), precCond)
	}
}

func renderWrapped(sb *strings.Builder, items []any, open, close string) {
	if len(items) == 0 {
		sb.WriteString(open + " " + close)
		return
	}
	sb.WriteString(open + " ")
	renderSeq(sb, items)
	sb.WriteString(" " + close)
}

func renderParams(sb *strings.Builder, params S) {
	if len(params) == 1 {
		sb.WriteString("(( ))")
		return
	}
	sb.WriteString("(( ")
	for k := 1; k < len(params); k++ {
		if k > 1 {
			sb.WriteString(" ,, ")
		}
		prm := params[k].(S)
		sb.WriteString(prm[1].(S)[1].(string))
		sb.WriteString(" (:) ")
		render(sb, prm[2].(S), precPrimary)
	}
	sb.WriteString(" ))")
}

func renderMacroDef(sb *strings.Builder, n S) {
	sb.WriteString("<%| ")
	sb.WriteString(n[1].(S)[1].(string))
	sb.WriteString(" ")
	renderParams(sb, n[2].(S))
	switch n[3].(S)[1].(string) {
	case "PARSE":
		sb.WriteString(" %!")
	case "COMPILE":
		sb.WriteString(" %?")
	default:
		sb.WriteString(" %%")
	}
	switch n[4].(S)[1].(string) {
	case "CAPTURE":
		sb.WriteString(" ^^")
	case "INJECT":
		sb.WriteString(" ^!")
	default:
		sb.WriteString(" ^~")
	}
	sb.WriteString(" [[ ")
	for k := 5; k < len(n); k++ {
		if k > 5 {
			sb.WriteString(" ][ ")
		}
		render(sb, n[k].(S), precCond)
	}
	sb.WriteString(" ]] |%>")
}

func renderDomain(sb *strings.Builder, n S, open, close string) {
	sb.WriteString(open + " ")
	header := n[1].(S)
	if len(header) > 1 {
		sb.WriteString("(( ")
		renderSeq(sb, header[1:])
		sb.WriteString(" )) ")
	}
	render(sb, n[2].(S), precCond)
	sb.WriteString(" " + close)
}

func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
