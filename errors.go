// errors.go: diagnostic taxonomy and caret-snippet rendering
//
// Every error produced by this package belongs to one of three classes:
//
//	*LexError    — tokenizer failures (unterminated string, stray char)
//	*ParseError  — grammar failures (missing token, delimiter mismatch)
//	*ExpandError — macro-expansion failures (unknown macro, no rule, ...)
//
// Each carries a stable machine Code, a human message, and a 1-based
// line with a 0-based column, which is everything a caller needs to
// render a diagnostic. `WrapErrorWithSource` turns any of the three into
// a readable multi-line snippet with a caret under the offending column:
//
//	PARSE ERROR at 2:15: construct opened with '<+' closed with '|)'
//
//	   1 | <+ $&
//	   2 |     [[ ]-! ]] |)
//	       |              ^
//
// Errors are terminal for the unit being processed: no recovery or
// resynchronization is attempted anywhere in the pipeline, and no error
// is downgraded to a warning.
package lilith

import (
	"errors"
	"fmt"
	"strings"
)

// DiagCode identifies the precise failure within an error class.
type DiagCode int

const (
	// LexError codes
	CodeUnterminatedString DiagCode = iota + 1
	CodeUnexpectedCharacter
	CodeNumberOutOfRange

	// ParseError codes
	CodeExpectedToken
	CodeUnbalancedDelimiter
	CodeUnexpectedEOF
	CodeInvalidPattern

	// ExpandError codes
	CodeUndefinedMacro
	CodeNoMatchingRule
	CodeNonTermination
	CodeHygieneConflict
)

func (c DiagCode) String() string {
	switch c {
	case CodeUnterminatedString:
		return "UnterminatedString"
	case CodeUnexpectedCharacter:
		return "UnexpectedCharacter"
	case CodeNumberOutOfRange:
		return "NumberOutOfRange"
	case CodeExpectedToken:
		return "ExpectedToken"
	case CodeUnbalancedDelimiter:
		return "UnbalancedDelimiter"
	case CodeUnexpectedEOF:
		return "UnexpectedEndOfInput"
	case CodeInvalidPattern:
		return "InvalidPattern"
	case CodeUndefinedMacro:
		return "UndefinedMacro"
	case CodeNoMatchingRule:
		return "NoMatchingRule"
	case CodeNonTermination:
		return "NonTermination"
	case CodeHygieneConflict:
		return "HygieneConflict"
	}
	return "Unknown"
}

// LexError is a tokenizer failure. Col is 0-based.
type LexError struct {
	Code DiagCode
	Msg  string
	Line int
	Col  int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("LEXICAL ERROR [%s] at %d:%d: %s", e.Code, e.Line, e.Col+1, e.Msg)
}

// ParseError is a grammar failure. Col is 0-based.
type ParseError struct {
	Code DiagCode
	Msg  string
	Line int
	Col  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE ERROR [%s] at %d:%d: %s", e.Code, e.Line, e.Col+1, e.Msg)
}

// ExpandError is a macro-expansion failure. Position points at the macro
// call (or definition) that triggered it; Col is 0-based.
type ExpandError struct {
	Code DiagCode
	Msg  string
	Line int
	Col  int
}

func (e *ExpandError) Error() string {
	return fmt.Sprintf("EXPANSION ERROR [%s] at %d:%d: %s", e.Code, e.Line, e.Col+1, e.Msg)
}

// CodeOf extracts the DiagCode from any front-end error, or 0.
func CodeOf(err error) DiagCode {
	var le *LexError
	var pe *ParseError
	var ee *ExpandError
	switch {
	case errors.As(err, &le):
		return le.Code
	case errors.As(err, &pe):
		return pe.Code
	case errors.As(err, &ee):
		return ee.Code
	}
	return 0
}

// IsIncomplete reports whether an error means the input stopped in the
// middle of a construct, so a line editor should keep reading instead
// of reporting a failure.
func IsIncomplete(err error) bool {
	return CodeOf(err) == CodeUnexpectedEOF
}

// WrapErrorWithSource returns an error augmented with a caret-annotated
// snippet of the provided source. Front-end errors are recognized by
// type; anything else is returned unchanged.
func WrapErrorWithSource(err error, src string) error {
	return WrapErrorWithName(err, "", src)
}

// WrapErrorWithName is WrapErrorWithSource with a source label (usually a
// file name) included in the header.
func WrapErrorWithName(err error, srcName string, src string) error {
	switch e := err.(type) {
	case *LexError:
		return fmt.Errorf("%s", snippet(src, "LEXICAL ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *ParseError:
		return fmt.Errorf("%s", snippet(src, "PARSE ERROR", srcName, e.Line, e.Col+1, e.Msg))
	case *ExpandError:
		return fmt.Errorf("%s", snippet(src, "EXPANSION ERROR", srcName, e.Line, e.Col+1, e.Msg))
	default:
		return err
	}
}

// snippet builds the header plus up to one line of context on each side,
// with a caret under the 1-based column. Coordinates are clamped so a
// bad position can never panic the renderer.
func snippet(src, header, name string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if line > len(lines) {
		line = len(lines)
	}
	lineTxt := lines[line-1]

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s in %s at %d:%d: %s\n\n", header, name, line, col, msg)
	} else {
		fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	}
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lineTxt)
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", col-1))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
