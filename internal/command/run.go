package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joeycumines/go-jsbridge/bridge"
	"github.com/joeycumines/go-jsbridge/internal/config"
)

// RunCommand runs a script file as the main CommonJS module and waits for
// its timers and promises.
type RunCommand struct {
	*BaseCommand
	config     *config.Config
	flags      runtimeFlags
	stdin      io.Reader
	ctxFactory func() (context.Context, context.CancelFunc)
}

func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a JavaScript file",
			"run [options] <file|-> [args...]",
		),
		config: cfg,
		stdin:  os.Stdin,
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags.setup(fs, c.config)
}

func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "No script file specified. Use '-' to read the script from stdin.")
		return fmt.Errorf("no script specified")
	}
	script := args[0]
	var abs string
	if script != "-" {
		var err error
		if abs, err = filepath.Abs(script); err != nil {
			return err
		}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			return fmt.Errorf("script file not found: %s", script)
		}
	}

	ctx, cancel := executionContext(c.ctxFactory)
	defer cancel()

	s, err := startSession(ctx, &c.flags, c.config, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	// args[0] is the script, as in process.argv after the interpreter
	if err := s.bridge.SetGlobal("args", stringsToAny(args)); err != nil {
		return err
	}

	if script == "-" {
		err = c.runStdin(s)
	} else {
		err = runMain(s.bridge, abs)
	}
	if err != nil {
		printError(stderr, "Uncaught ", err)
		return ErrUncaught
	}

	if err := s.wait(ctx, c.config); err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintln(stderr)
			return nil
		}
		return err
	}
	if n := s.uncaught.Load(); n > 0 {
		return ErrUncaught
	}
	return nil
}

func (c *RunCommand) runStdin(s *session) error {
	src, err := readSource(c.stdin)
	if err != nil {
		return err
	}
	_, err = s.bridge.Eval(src, append(s.evalOptions("[stdin]"), bridge.NoScriptRval())...)
	return err
}

// runMain requires the file at abs, so that it gets module, exports and
// a require resolving against its directory.
func runMain(b *bridge.Bridge, abs string) error {
	req, err := b.NewRequire(abs)
	if err != nil {
		return err
	}
	defer req.Release()
	exports, err := req.Call(filepath.ToSlash(abs))
	if p, ok := exports.(bridge.Proxy); ok {
		p.Release()
	}
	return err
}
