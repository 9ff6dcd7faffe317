package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joeycumines/go-jsbridge/bridge"
	"github.com/joeycumines/go-jsbridge/internal/config"
	"github.com/joeycumines/go-jsbridge/internal/logging"
)

// runtimeFlags are the flags of every command that starts a bridge.
type runtimeFlags struct {
	logFile     string
	logLevel    string
	logBuffer   int
	logTail     int
	strict      bool
	mutedErrors bool
	requires    stringList
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(s string) error {
	*l = append(*l, s)
	return nil
}

// setup registers the flags. Boolean defaults come from cfg so that the
// flags can switch them either way.
func (f *runtimeFlags) setup(fs *flag.FlagSet, cfg *config.Config) {
	schema := config.DefaultSchema()
	strict, _ := schema.ResolveBool(cfg, config.SectionEval, "strict")
	muted, _ := schema.ResolveBool(cfg, config.SectionEval, "muted-errors")

	fs.StringVar(&f.logFile, "log-file", "", "Path to log file (JSON output, rotated)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.IntVar(&f.logBuffer, "log-buffer", 0, "Size of in-memory log buffer")
	fs.IntVar(&f.logTail, "log-tail", 0, "Print the last N buffered log entries to stderr on exit")
	fs.BoolVar(&f.strict, "use-strict", strict, "Evaluate code in strict mode")
	fs.BoolVar(&f.mutedErrors, "muted-errors", muted, "Do not report unhandled rejections raised by evaluated code")
	fs.Var(&f.requires, "r", "Module to preload (repeatable)")
	fs.Var(&f.requires, "require", "Module to preload (repeatable)")
}

// logConfig is the resolved logging setup of a session.
type logConfig struct {
	level      slog.Level
	logFile    *logging.RotatingFile // nil without file logging
	bufferSize int
}

// resolveLogConfig resolves each setting from its flag, then the config,
// then the default. The caller must close logFile when it is set.
func resolveLogConfig(flagPath, flagLevel string, flagBufferSize int, cfg *config.Config) (logConfig, error) {
	schema := config.DefaultSchema()
	var lc logConfig

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = schema.Resolve(cfg, "", "log.level")
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return lc, err
	}
	lc.level = level

	lc.bufferSize = flagBufferSize
	if lc.bufferSize <= 0 {
		if n, err := schema.ResolveInt(cfg, "", "log.buffer"); err == nil {
			lc.bufferSize = n
		}
		if lc.bufferSize <= 0 {
			lc.bufferSize = logging.DefaultRingSize
		}
	}

	logPath := flagPath
	if logPath == "" {
		logPath = schema.Resolve(cfg, "", "log.file")
	}
	if logPath == "" {
		return lc, nil
	}
	maxSizeMB, err := schema.ResolveInt(cfg, "", "log.max-size-mb")
	if err != nil || maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	maxFiles, err := schema.ResolveInt(cfg, "", "log.max-files")
	if err != nil || maxFiles < 0 {
		maxFiles = 5
	}
	w, err := logging.OpenRotatingFile(config.ExpandHome(logPath), maxSizeMB, maxFiles)
	if err != nil {
		return lc, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	lc.logFile = w
	return lc, nil
}

// session is a running bridge plus the logging behind it.
type session struct {
	bridge   *bridge.Bridge
	logs     *logging.RingHandler
	logFile  *logging.RotatingFile
	flags    *runtimeFlags
	stderr   io.Writer
	uncaught atomic.Int64
}

// startSession starts a bridge configured from flags and cfg.
func startSession(ctx context.Context, flags *runtimeFlags, cfg *config.Config, stdout, stderr io.Writer) (*session, error) {
	lc, err := resolveLogConfig(flags.logFile, flags.logLevel, flags.logBuffer, cfg)
	if err != nil {
		return nil, err
	}
	var sink slog.Handler
	if lc.logFile != nil {
		sink = slog.NewJSONHandler(lc.logFile, &slog.HandlerOptions{Level: lc.level})
	} else {
		sink = slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: max(lc.level, slog.LevelWarn)})
	}
	s := &session{
		logs:    logging.NewRingHandler(lc.bufferSize, lc.level, sink),
		logFile: lc.logFile,
		flags:   flags,
		stderr:  stderr,
	}
	logger := slog.New(s.logs)

	schema := config.DefaultSchema()
	syncTimeout, err := schema.ResolveDuration(cfg, config.SectionLoop, "sync-timeout")
	if err != nil {
		s.closeLog()
		return nil, err
	}
	maxStack, err := schema.ResolveInt(cfg, config.SectionLoop, "max-call-stack")
	if err != nil {
		s.closeLog()
		return nil, err
	}

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithSyncTimeout(syncTimeout),
		bridge.WithSourceLoader(loadSource),
		bridge.WithPrinter(consolePrinter{stdout: stdout, stderr: stderr}),
		bridge.WithUnhandledErrorHandler(s.reportUncaught),
	}
	if paths := schema.ResolvePaths(cfg, "", "module.paths"); len(paths) > 0 {
		opts = append(opts, bridge.WithGlobalFolders(paths...))
	}
	if maxStack > 0 {
		opts = append(opts, bridge.WithMaxCallStackSize(maxStack))
	}
	b, err := bridge.New(ctx, opts...)
	if err != nil {
		s.closeLog()
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}
	s.bridge = b

	if err := s.preload(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// preload requires each -r module, resolving relative ids against the
// working directory.
func (s *session) preload() error {
	if len(s.flags.requires) == 0 {
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	req, err := s.bridge.NewRequire(filepath.Join(wd, "[preload]"))
	if err != nil {
		return err
	}
	defer req.Release()
	for _, id := range s.flags.requires {
		if _, err := req.Call(id); err != nil {
			return fmt.Errorf("failed to preload %s: %w", id, err)
		}
	}
	return nil
}

func (s *session) evalOptions(filename string) []bridge.EvalOption {
	opts := []bridge.EvalOption{bridge.WithFilename(filename)}
	if s.flags.strict {
		opts = append(opts, bridge.Strict())
	}
	if s.flags.mutedErrors {
		opts = append(opts, bridge.MutedErrors())
	}
	return opts
}

// reportUncaught prints an error no caller could receive.
func (s *session) reportUncaught(err error) {
	s.uncaught.Add(1)
	printError(s.stderr, "Uncaught ", err)
}

// wait waits for pending timers and awaitables, bounded by the
// [loop] wait-timeout option when it is set.
func (s *session) wait(ctx context.Context, cfg *config.Config) error {
	timeout, err := config.DefaultSchema().ResolveDuration(cfg, config.SectionLoop, "wait-timeout")
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err = s.bridge.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.dumpTimers()
		return fmt.Errorf("timed out after %v waiting for pending work", timeout)
	}
	if errors.Is(err, context.Canceled) {
		s.dumpTimers()
	}
	return err
}

// dumpTimers prints the timers that are keeping the loop alive.
func (s *session) dumpTimers() {
	timers, err := s.bridge.RefedTimers()
	if err != nil || len(timers) == 0 {
		return
	}
	_, _ = fmt.Fprintf(s.stderr, "%d pending timer(s):\n", len(timers))
	for _, t := range timers {
		_, _ = fmt.Fprintf(s.stderr, "  %s #%d delay=%v remaining=%v\n", t.Kind, t.ID, t.Delay, time.Until(t.Deadline).Round(time.Millisecond))
		if t.Stack != "" {
			for line := range strings.SplitSeq(strings.TrimRight(t.Stack, "\n"), "\n") {
				_, _ = fmt.Fprintf(s.stderr, "    %s\n", strings.TrimSpace(line))
			}
		}
	}
}

// Close stops the bridge, prints the requested log tail and closes the
// log file.
func (s *session) Close() {
	if s.bridge != nil {
		_ = s.bridge.Close()
	}
	if n := s.flags.logTail; n > 0 {
		for _, e := range s.logs.Recent(n) {
			_, _ = fmt.Fprintln(s.stderr, e.String())
		}
	}
	s.closeLog()
}

func (s *session) closeLog() {
	if s.logFile != nil {
		_ = s.logFile.Close()
		s.logFile = nil
	}
}

// printError writes err and, for JS errors, its stack.
func printError(w io.Writer, prefix string, err error) {
	_, _ = fmt.Fprintf(w, "%s%v\n", prefix, err)
	var jsErr *bridge.JSError
	if errors.As(err, &jsErr) {
		if stack := jsErr.Stack(); stack != "" {
			_, _ = fmt.Fprint(w, stack)
		}
	}
}

// consolePrinter sends console.log and console.info to stdout, and
// console.warn and console.error to stderr.
type consolePrinter struct {
	stdout io.Writer
	stderr io.Writer
}

func (p consolePrinter) Log(s string)   { _, _ = fmt.Fprintln(p.stdout, s) }
func (p consolePrinter) Warn(s string)  { _, _ = fmt.Fprintln(p.stderr, s) }
func (p consolePrinter) Error(s string) { _, _ = fmt.Fprintln(p.stderr, s) }

// executionContext returns ctxFactory's context, or one that is cancelled
// by SIGINT and SIGTERM.
func executionContext(ctxFactory func() (context.Context, context.CancelFunc)) (context.Context, context.CancelFunc) {
	if ctxFactory != nil {
		return ctxFactory()
	}
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
