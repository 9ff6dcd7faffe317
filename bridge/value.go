package bridge

import (
	"github.com/dop251/goja"
)

type undefined struct{}

// Undefined converts to JS undefined. Go nil converts to null.
var Undefined = undefined{}

func (undefined) String() string { return "undefined" }

// Kind identifies the variant of a Proxy.
type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindFunction
	KindBoundMethod
	KindPromise
	KindTypedArray
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindBoundMethod:
		return "bound method"
	case KindPromise:
		return "promise"
	case KindTypedArray:
		return "typed array"
	default:
		return "unknown"
	}
}

// Proxy is a Go view of a JS object. Converting a Proxy back to JS yields
// the original object.
type Proxy interface {
	// JSValue returns the underlying engine value, or nil once released.
	// The value may only be used on the loop goroutine.
	JSValue() goja.Value
	Kind() Kind
	// Release drops the reference immediately. Later use of the proxy fails
	// with a *ReferenceError.
	Release()

	base() *Object
}

// Symbol is a JS symbol. The same JS symbol always maps to the same
// *Symbol.
type Symbol struct {
	sym *goja.Symbol
}

// NewSymbol creates a unique symbol.
func NewSymbol(description string) *Symbol {
	return &Symbol{sym: goja.NewSymbol(description)}
}

// Well-known symbols.
var (
	SymbolIterator    = &Symbol{sym: goja.SymIterator}
	SymbolToPrimitive = &Symbol{sym: goja.SymToPrimitive}
	SymbolToStringTag = &Symbol{sym: goja.SymToStringTag}
	SymbolHasInstance = &Symbol{sym: goja.SymHasInstance}
)

// String returns the symbol's descriptive string, e.g. "Symbol(foo)".
func (s *Symbol) String() string { return "Symbol(" + s.sym.String() + ")" }

// JSValue returns the engine symbol.
func (s *Symbol) JSValue() goja.Value { return s.sym }

var wellKnownSymbols = map[*goja.Symbol]*Symbol{
	goja.SymIterator:    SymbolIterator,
	goja.SymToPrimitive: SymbolToPrimitive,
	goja.SymToStringTag: SymbolToStringTag,
	goja.SymHasInstance: SymbolHasInstance,
}
