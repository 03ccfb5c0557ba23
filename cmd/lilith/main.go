package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/xyproto/env/v2"

	lilith "github.com/EricsonWillians/lilith"
)

const (
	appName    = "lilith"
	promptMain = "=}> "
	promptCont = "... "
)

var banner = fmt.Sprintf("Lilith %s front-end REPL\nCtrl+C cancels input, Ctrl+D exits. Type :quit to exit.", lilith.Version)

func red(s string) string   { return "\x1b[31m" + s + "\x1b[0m" }
func green(s string) string { return "\x1b[32m" + s + "\x1b[0m" }
func blue(s string) string  { return "\x1b[94m" + s + "\x1b[0m" }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "parse":
		os.Exit(cmdParse(os.Args[2:], false))
	case "expand":
		os.Exit(cmdParse(os.Args[2:], true))
	case "tokens":
		os.Exit(cmdTokens(os.Args[2:]))
	case "fmt":
		os.Exit(cmdFmt(os.Args[2:]))
	case "repl":
		os.Exit(cmdRepl(os.Args[2:]))
	case "version":
		fmt.Println(lilith.Version)
		return
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`Lilith %s (built %s)

Usage:
  %s parse <file.lil>           Parse a file, print the canonical form
  %s expand <file.lil>          Parse, expand macros, print the result
  %s tokens <file.lil>          Dump the token stream
  %s fmt [--check] [path ...]   Rewrite file(s) into canonical form
  %s repl                       Start the REPL
  %s version                    Print the compiled version

Environment:
  LILITH_HISTFILE               REPL history file (default ~/.lilith_history)
  LILITH_MAX_EXPAND             Macro expansion pass bound (default %d)

`, lilith.Version, lilith.BuildDate, appName, appName, appName, appName, appName, appName,
		lilith.DefaultMaxExpand)
}

func maxExpand() int {
	return env.Int("LILITH_MAX_EXPAND", lilith.DefaultMaxExpand)
}

// -----------------------------------------------------------------------------
// parse / expand
// -----------------------------------------------------------------------------

func cmdParse(args []string, expand bool) int {
	verb := "parse"
	if expand {
		verb = "expand"
	}
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s %s <file.lil>\n", appName, verb)
		return 2
	}
	file := args[0]
	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, file, err)
		return 1
	}

	if !expand {
		ast, perr := lilith.Parse(string(src))
		if perr != nil {
			fmt.Fprintln(os.Stderr, red(lilith.WrapErrorWithName(perr, file, string(src)).Error()))
			return 1
		}
		fmt.Println(lilith.Render(ast))
		return 0
	}

	unit, cerr := lilith.CompileCtx(context.Background(), file, string(src),
		lilith.Options{MaxExpand: maxExpand()})
	if cerr != nil {
		fmt.Fprintln(os.Stderr, red(lilith.WrapErrorWithName(cerr, file, string(src)).Error()))
		return 1
	}
	fmt.Println(lilith.Render(unit.AST))
	for name, macro := range unit.Injected() {
		fmt.Fprintln(os.Stderr, green(fmt.Sprintf("injected: %s (macro %s)", name, macro)))
	}
	return 0
}

// -----------------------------------------------------------------------------
// tokens
// -----------------------------------------------------------------------------

func cmdTokens(args []string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s tokens <file.lil>\n", appName)
		return 2
	}
	file := args[0]
	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, file, err)
		return 1
	}
	toks, lerr := lilith.Tokenize(string(src))
	if lerr != nil {
		fmt.Fprintln(os.Stderr, red(lilith.WrapErrorWithName(lerr, file, string(src)).Error()))
		return 1
	}
	for _, t := range toks {
		fmt.Printf("%4d:%-3d %-20s %s\n", t.Line, t.Col, lilith.TokenName(t.Type), t.Lexeme)
	}
	return 0
}

// -----------------------------------------------------------------------------
// fmt
// -----------------------------------------------------------------------------

func cmdFmt(args []string) int {
	fs := flag.NewFlagSet("fmt", flag.ContinueOnError)
	check := fs.Bool("check", false, "check format; exit 1 if any file would change")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var files []string
	for _, p := range paths {
		found, err := discover(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
			return 1
		}
		files = append(files, found...)
	}

	bad := 0
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, f, err)
			return 1
		}
		ast, perr := lilith.Parse(string(src))
		if perr != nil {
			fmt.Fprintln(os.Stderr, red(lilith.WrapErrorWithName(perr, f, string(src)).Error()))
			return 1
		}
		canon := lilith.Render(ast) + "\n"
		if canon == string(src) {
			continue
		}
		if *check {
			fmt.Println(f)
			bad++
			continue
		}
		if err := os.WriteFile(f, []byte(canon), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "%s: cannot write %s: %v\n", appName, f, err)
			return 1
		}
	}
	if bad > 0 {
		return 1
	}
	return 0
}

func discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var out []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".lil") {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// repl
// -----------------------------------------------------------------------------

func cmdRepl(_ []string) int {
	fmt.Println(banner)

	home, _ := os.UserHomeDir()
	histPath := env.Str("LILITH_HISTFILE", filepath.Join(home, ".lilith_history"))

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	// Macros defined at the prompt persist for the session.
	reg := lilith.NewRegistry()

	for {
		code, ok := readByParseProbe(ln, promptMain, promptCont)
		if !ok {
			fmt.Println()
			break
		}

		if strings.HasPrefix(strings.TrimSpace(code), ":") {
			switch strings.TrimSpace(strings.ToLower(code)) {
			case ":quit":
				return 0
			default:
				fmt.Printf("unknown command. Type :quit to exit.\n")
			}
			continue
		}

		if strings.TrimSpace(code) == "" {
			continue
		}

		unit, err := lilith.CompileCtx(context.Background(), "repl", code,
			lilith.Options{Macros: reg, MaxExpand: maxExpand()})
		if err != nil {
			fmt.Fprintln(os.Stderr, red(lilith.WrapErrorWithSource(err, code).Error()))
			continue
		}
		fmt.Println(blue(lilith.Render(unit.AST)))
		for name, macro := range unit.Injected() {
			fmt.Println(green(fmt.Sprintf("injected: %s (macro %s)", name, macro)))
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
	}

	return 0
}

// readByParseProbe keeps prompting while the accumulated input parses
// as incomplete, so constructs can span lines.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder

	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(prompt)
		} else {
			line, err = ln.Prompt(cont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		_, perr := lilith.Parse(src)
		if perr == nil {
			return src, true
		}
		if lilith.IsIncomplete(perr) {
			continue
		}
		return src, true
	}
}
