package command

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-prompt"
	istrings "github.com/joeycumines/go-prompt/strings"
	"golang.org/x/term"

	"github.com/joeycumines/go-jsbridge/bridge"
	"github.com/joeycumines/go-jsbridge/internal/argv"
	"github.com/joeycumines/go-jsbridge/internal/config"
)

const replFilename = "[repl]"

// completionSeparators end the word being completed.
const completionSeparators = " \t\n()[]{};,=+-*/%!&|^~<>?:'\"`"

// jsKeywords are never completed.
var jsKeywords = map[string]bool{
	"async": true, "await": true, "break": true, "case": true, "catch": true,
	"class": true, "const": true, "continue": true, "debugger": true,
	"default": true, "delete": true, "do": true, "else": true, "export": true,
	"extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "let": true, "new": true, "null": true,
	"return": true, "static": true, "super": true, "switch": true,
	"this": true, "throw": true, "true": true, "try": true, "typeof": true,
	"var": true, "void": true, "while": true, "with": true, "yield": true,
}

var replCommands = []prompt.Suggest{
	{Text: ".help", Description: "Print this help message"},
	{Text: ".exit", Description: "Exit the REPL"},
	{Text: ".break", Description: "Abandon the statement being entered"},
	{Text: ".load", Description: "Load JS from a file into the REPL session"},
	{Text: ".save", Description: "Save all evaluated statements to a file"},
	{Text: ".timers", Description: "List active timers"},
}

// ReplCommand runs a read-eval-print loop. It uses a line editor when
// stdin and stdout are terminals, and reads plain lines otherwise.
type ReplCommand struct {
	*BaseCommand
	config     *config.Config
	flags      runtimeFlags
	noHistory  bool
	stdin      io.Reader
	isTerminal func() bool
	ctxFactory func() (context.Context, context.CancelFunc)
}

func NewReplCommand(cfg *config.Config) *ReplCommand {
	return &ReplCommand{
		BaseCommand: NewBaseCommand(
			"repl",
			"Start an interactive JavaScript session",
			"repl [options]",
		),
		config: cfg,
		stdin:  os.Stdin,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
}

func (c *ReplCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags.setup(fs, c.config)
	fs.BoolVar(&c.noHistory, "no-history", false, "Do not load or save the history file")
}

func (c *ReplCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	ctx, cancel := executionContext(c.ctxFactory)
	defer cancel()

	s, err := startSession(ctx, &c.flags, c.config, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	schema := config.DefaultSchema()
	width, _ := schema.ResolveInt(c.config, config.SectionRepl, "preview-width")
	r := &repl{s: s, out: stdout, width: width}

	if c.isTerminal() {
		historyFile := ""
		if !c.noHistory {
			historyFile = config.ExpandHome(schema.Resolve(c.config, config.SectionRepl, "history-file"))
		}
		historySize, _ := schema.ResolveInt(c.config, config.SectionRepl, "history-size")
		_, _ = fmt.Fprintln(stdout, `Type ".help" for more information.`)
		r.runPrompt(ctx, schema.Resolve(c.config, config.SectionRepl, "prefix"), historyFile, historySize)
		if err := saveHistory(historyFile, r.history, historySize); err != nil {
			_, _ = fmt.Fprintf(stderr, "Warning: failed to save history: %v\n", err)
		}
	} else if err := r.scan(ctx, c.stdin); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if ctx.Err() == nil {
		if err := s.wait(ctx, c.config); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// repl is the state of one REPL session.
type repl struct {
	s         *session
	out       io.Writer
	width     int
	pending   []string // lines of an incomplete statement
	evaluated []string
	history   []string // entered this session
	exit      bool
}

// feed handles one chunk of input and reports whether a statement is still
// open. Lines starting with '.' are REPL commands.
func (r *repl) feed(input string) bool {
	if len(r.pending) == 0 {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			return false
		}
		if strings.HasPrefix(trimmed, ".") {
			r.command(trimmed[1:])
			return false
		}
	} else if strings.TrimSpace(input) == ".break" {
		r.pending = nil
		return false
	}
	r.pending = append(r.pending, input)
	stmt := strings.Join(r.pending, "\n")
	if !bridge.IsCompilableUnit(stmt) {
		return true
	}
	r.pending = nil
	r.exec(stmt)
	return false
}

// exec evaluates a complete statement and prints the result. The result
// is kept in the global _, a thrown value in _error.
func (r *repl) exec(stmt string) {
	r.evaluated = append(r.evaluated, stmt)
	var text string
	err := r.s.evaluate(stmt, replFilename, func(vm *goja.Runtime, v goja.Value, thrown bool) {
		if thrown {
			_ = vm.Set("_error", v)
			text = "Uncaught " + inspect(vm, v, r.width)
			return
		}
		_ = vm.Set("_", v)
		text = inspect(vm, v, r.width)
	})
	if err != nil {
		text = err.Error()
	}
	_, _ = fmt.Fprintln(r.out, text)
}

func (r *repl) command(cmdLine string) {
	name, rest, _ := strings.Cut(strings.TrimSpace(cmdLine), " ")
	args, err := argv.Split(rest)
	if err != nil {
		_, _ = fmt.Fprintln(r.out, err)
		return
	}
	switch name {
	case "help":
		for _, c := range replCommands {
			_, _ = fmt.Fprintf(r.out, "%-9s %s\n", c.Text, c.Description)
		}
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Press Ctrl+D to exit the REPL")
	case "exit":
		r.exit = true
	case "break":
		r.pending = nil
	case "load":
		if len(args) != 1 {
			_, _ = fmt.Fprintln(r.out, "usage: .load <file>")
			return
		}
		arg := config.ExpandHome(args[0])
		f, err := os.Open(arg)
		if err != nil {
			_, _ = fmt.Fprintf(r.out, "Failed to load: %s\n", arg)
			return
		}
		src, err := readSource(f)
		_ = f.Close()
		if err != nil {
			_, _ = fmt.Fprintf(r.out, "Failed to load: %s: %v\n", arg, err)
			return
		}
		r.exec(src)
	case "save":
		if len(args) != 1 {
			_, _ = fmt.Fprintln(r.out, "usage: .save <file>")
			return
		}
		arg := config.ExpandHome(args[0])
		data := strings.Join(r.evaluated, "\n") + "\n"
		if err := config.WriteFileAtomic(arg, []byte(data), 0o644); err != nil {
			_, _ = fmt.Fprintf(r.out, "Failed to save: %s: %v\n", arg, err)
			return
		}
		_, _ = fmt.Fprintf(r.out, "Session saved to: %s\n", arg)
	case "timers":
		timers, err := r.s.bridge.Timers()
		if err != nil {
			_, _ = fmt.Fprintln(r.out, err)
			return
		}
		if len(timers) == 0 {
			_, _ = fmt.Fprintln(r.out, "No active timers")
			return
		}
		for _, t := range timers {
			ref := ""
			if !t.Ref {
				ref = " (unref)"
			}
			_, _ = fmt.Fprintf(r.out, "%s #%d delay=%v remaining=%v%s\n", t.Kind, t.ID, t.Delay, time.Until(t.Deadline).Round(time.Millisecond), ref)
		}
	default:
		_, _ = fmt.Fprintln(r.out, "Invalid REPL keyword")
	}
}

// scan reads input line by line until EOF, .exit or ctx is done. An
// unfinished statement at EOF is dropped.
func (r *repl) scan(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for !r.exit && sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.feed(sc.Text())
	}
	return sc.Err()
}

// runPrompt runs the line editor until Ctrl+D, .exit or ctx is done.
func (r *repl) runPrompt(ctx context.Context, prefix, historyFile string, historySize int) {
	options := []prompt.Option{
		prompt.WithTitle("jsb"),
		prompt.WithPrefix(prefix),
		prompt.WithReader(&lineReader{Reader: prompt.NewStdinReader()}),
		prompt.WithCompleter(r.complete),
		prompt.WithExecuteHidesCompletions(true),
		prompt.WithExecuteOnEnterCallback(r.executeOnEnter),
		prompt.WithExitChecker(func(string, bool) bool { return r.exit }),
		prompt.WithGracefulClose(true),
	}
	if historySize > 0 {
		options = append(options, prompt.WithHistorySize(historySize))
	}
	if history := loadHistory(historyFile); len(history) > 0 {
		options = append(options, prompt.WithHistory(history))
	}

	p := prompt.New(func(in string) {
		if strings.TrimSpace(in) != "" {
			r.history = append(r.history, in)
		}
		if r.feed(in) {
			// the editor only submits complete statements
			r.pending = nil
		}
	}, options...)

	stop := context.AfterFunc(ctx, p.Close)
	defer stop()
	p.RunNoExit()
}

// lineReader delivers a newline that ends a read on its own. The editor
// treats a multi-byte read as pasted text, so a line typed faster than the
// editor renders would otherwise gain a literal newline instead of being
// entered.
type lineReader struct {
	prompt.Reader
	pending []byte
}

func (r *lineReader) Read(p []byte) (int, error) {
	if len(r.pending) > 0 {
		n := copy(p, r.pending)
		r.pending = r.pending[n:]
		return n, nil
	}
	n, err := r.Reader.Read(p)
	if n > 1 && (p[n-1] == '\n' || p[n-1] == '\r') {
		r.pending = append(r.pending[:0], p[n-1])
		n--
	}
	return n, err
}

// executeOnEnter submits the buffer when it holds a REPL command or a
// complete statement, and otherwise starts an indented new line.
func (r *repl) executeOnEnter(p *prompt.Prompt, indentSize int) (int, bool) {
	text := p.Buffer().Text()
	if strings.HasPrefix(strings.TrimSpace(text), ".") || bridge.IsCompilableUnit(text) {
		return 0, true
	}
	depth := 0
	for _, ch := range text {
		switch ch {
		case '{', '[', '(':
			depth++
		case '}', ']', ')':
			depth--
		}
	}
	return max(depth, 0), false
}

func (r *repl) complete(d prompt.Document) ([]prompt.Suggest, istrings.RuneNumber, istrings.RuneNumber) {
	end := d.CurrentRuneIndex()
	before := d.TextBeforeCursor()
	if strings.HasPrefix(before, ".load ") || strings.HasPrefix(before, ".save ") {
		w := argv.Last(before)
		return completePath(w.Text), istrings.RuneCountInString(before[:w.Start]), end
	}
	word := d.GetWordBeforeCursorUntilSeparator(completionSeparators)
	start := end - istrings.RuneCountInString(word)

	if strings.HasPrefix(word, ".") && strings.TrimSpace(before) == word {
		return prompt.FilterHasPrefix(replCommands, word, false), start, end
	}
	if word == "" || jsKeywords[word] {
		return nil, start, end
	}

	base, partial := "", word
	if i := strings.LastIndexByte(word, '.'); i >= 0 {
		base, partial = word[:i], word[i+1:]
	}
	var suggests []prompt.Suggest
	for _, name := range r.propertyNames(base) {
		if !strings.HasPrefix(name, partial) {
			continue
		}
		text := name
		if base != "" {
			text = base + "." + name
		}
		suggests = append(suggests, prompt.Suggest{Text: text})
	}
	return suggests, start, end
}

// completePath suggests the files and directories starting with partial,
// quoted for .load and .save.
func completePath(partial string) []prompt.Suggest {
	dir, base := filepath.Split(partial)
	entries, err := os.ReadDir(cmp.Or(config.ExpandHome(dir), "."))
	if err != nil {
		return nil
	}
	var suggests []prompt.Suggest
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base) || (strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".")) {
			continue
		}
		text := dir + name
		if e.IsDir() {
			text += string(filepath.Separator)
		}
		suggests = append(suggests, prompt.Suggest{Text: argv.Quote(text)})
	}
	return suggests
}

// propertyNames lists the identifier-named properties of the object at the
// dotted path from the global object, including inherited ones.
func (r *repl) propertyNames(path string) []string {
	var names []string
	_ = r.s.bridge.Do(func(vm *goja.Runtime) error {
		obj := vm.GlobalObject()
		if path != "" {
			for part := range strings.SplitSeq(path, ".") {
				v := obj.Get(part)
				if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
					return nil
				}
				obj = v.ToObject(vm)
			}
		}
		seen := make(map[string]bool)
		for o := obj; o != nil; o = o.Prototype() {
			for _, name := range o.GetOwnPropertyNames() {
				if !seen[name] && identifierPattern.MatchString(name) {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		return nil
	})
	slices.Sort(names)
	return names
}
