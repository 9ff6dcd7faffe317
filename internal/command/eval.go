package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/joeycumines/go-jsbridge/bridge"
	"github.com/joeycumines/go-jsbridge/internal/config"
)

// EvalCommand evaluates code given on the command line.
type EvalCommand struct {
	*BaseCommand
	config     *config.Config
	flags      runtimeFlags
	print      bool
	await      bool
	ctxFactory func() (context.Context, context.CancelFunc)
}

func NewEvalCommand(cfg *config.Config) *EvalCommand {
	return &EvalCommand{
		BaseCommand: NewBaseCommand(
			"eval",
			"Evaluate JavaScript code",
			"eval [options] <code> [args...]",
		),
		config: cfg,
	}
}

func (c *EvalCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags.setup(fs, c.config)
	fs.BoolVar(&c.print, "p", false, "Print the result")
	fs.BoolVar(&c.print, "print", false, "Print the result")
	fs.BoolVar(&c.await, "await", false, "Wait for a returned promise and use its value")
}

func (c *EvalCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "No code specified.")
		return fmt.Errorf("no code specified")
	}
	ctx, cancel := executionContext(c.ctxFactory)
	defer cancel()

	s, err := startSession(ctx, &c.flags, c.config, stdout, stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.bridge.SetGlobal("args", stringsToAny(args[1:])); err != nil {
		return err
	}

	opts := s.evalOptions("[eval]")
	var v any
	if c.await {
		v, err = s.bridge.EvalAsync(ctx, args[0], opts...)
	} else {
		v, err = s.bridge.Eval(args[0], opts...)
	}
	if err != nil {
		printError(stderr, "Uncaught ", err)
		return ErrUncaught
	}
	if c.print {
		width, _ := config.DefaultSchema().ResolveInt(c.config, config.SectionRepl, "preview-width")
		text, err := s.render(v, width)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, text)
	}
	if p, ok := v.(bridge.Proxy); ok {
		p.Release()
	}

	if err := s.wait(ctx, c.config); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if s.uncaught.Load() > 0 {
		return ErrUncaught
	}
	return nil
}

// ErrUncaught is returned when a script ended with an uncaught error, which
// has already been printed.
var ErrUncaught = errors.New("uncaught error")

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
