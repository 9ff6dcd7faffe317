package bridge

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-jsbridge/internal/loop"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	syncTimeout  time.Duration
	registry     *require.Registry
	requireOpts  []require.Option
	console      bool
	printer      console.Printer
	onUnhandled  func(error)
	maxCallStack int
	fieldMapper  goja.FieldNameMapper
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		syncTimeout: loop.DefaultSyncTimeout,
		console:     true,
	}
}

// WithLogger sets the logger used by the bridge and, unless WithPrinter is
// given, by the console module.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSyncTimeout bounds how long an off-loop call waits for the loop.
// Zero waits forever.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) { o.syncTimeout = d }
}

// WithRegistry shares an existing require registry. WithGlobalFolders and
// WithSourceLoader are ignored when a registry is given.
func WithRegistry(registry *require.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithGlobalFolders adds folders searched for bare module names, after
// node_modules.
func WithGlobalFolders(dirs ...string) Option {
	return func(o *options) {
		o.requireOpts = append(o.requireOpts, require.WithGlobalFolders(dirs...))
	}
}

// WithSourceLoader replaces how module sources are read.
func WithSourceLoader(loader require.SourceLoader) Option {
	return func(o *options) {
		o.requireOpts = append(o.requireOpts, require.WithLoader(loader))
	}
}

// WithConsole toggles the console global.
func WithConsole(enabled bool) Option {
	return func(o *options) { o.console = enabled }
}

// WithPrinter routes console output to p instead of the logger.
func WithPrinter(p console.Printer) Option {
	return func(o *options) { o.printer = p }
}

// WithUnhandledErrorHandler sets the initial handler for unhandled promise
// rejections and uncaught errors in async callbacks.
func WithUnhandledErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onUnhandled = fn }
}

// WithMaxCallStackSize limits JS call depth.
func WithMaxCallStackSize(n int) Option {
	return func(o *options) { o.maxCallStack = n }
}

// WithFieldNameMapper controls how Go struct fields and methods are named
// when wrapped by reflection.
func WithFieldNameMapper(m goja.FieldNameMapper) Option {
	return func(o *options) { o.fieldMapper = m }
}

// EvalOptions controls a single evaluation.
type EvalOptions struct {
	// Filename is reported in stack traces and used to resolve relative
	// requires. Defaults to "<eval>".
	Filename string
	// LineNumber and Column are the 1-based position of the first character
	// of the code within Filename.
	LineNumber int
	Column     int
	// Strict compiles the code as strict mode.
	Strict bool
	// FromHostFrame fills Filename and LineNumber from the Go caller when
	// Filename is empty.
	FromHostFrame bool
	// MutedErrors suppresses unhandled rejection reports for errors raised
	// by this code.
	MutedErrors bool
	// NoScriptRval discards the completion value.
	NoScriptRval bool
}

// EvalOption sets a field of EvalOptions.
type EvalOption func(*EvalOptions)

// WithFilename sets EvalOptions.Filename.
func WithFilename(name string) EvalOption {
	return func(o *EvalOptions) { o.Filename = name }
}

// WithPosition sets EvalOptions.LineNumber and EvalOptions.Column.
func WithPosition(line, column int) EvalOption {
	return func(o *EvalOptions) {
		o.LineNumber = line
		o.Column = column
	}
}

// Strict sets EvalOptions.Strict.
func Strict() EvalOption {
	return func(o *EvalOptions) { o.Strict = true }
}

// FromHostFrame sets EvalOptions.FromHostFrame.
func FromHostFrame() EvalOption {
	return func(o *EvalOptions) { o.FromHostFrame = true }
}

// MutedErrors sets EvalOptions.MutedErrors.
func MutedErrors() EvalOption {
	return func(o *EvalOptions) { o.MutedErrors = true }
}

// NoScriptRval sets EvalOptions.NoScriptRval.
func NoScriptRval() EvalOption {
	return func(o *EvalOptions) { o.NoScriptRval = true }
}

// WithEvalOptions replaces all fields at once.
func WithEvalOptions(opts EvalOptions) EvalOption {
	return func(o *EvalOptions) { *o = opts }
}

const defaultFilename = "<eval>"

// resolveEvalOptions applies opts. skip counts the frames between the
// public entry point and this function.
func resolveEvalOptions(skip int, opts []EvalOption) EvalOptions {
	var o EvalOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Filename == "" && o.FromHostFrame {
		if _, file, line, ok := runtime.Caller(skip + 1); ok {
			o.Filename = file
			if o.LineNumber == 0 {
				o.LineNumber = line
			}
		}
	}
	if o.Filename == "" {
		o.Filename = defaultFilename
	}
	return o
}
