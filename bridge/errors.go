package bridge

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/joeycumines/go-jsbridge/internal/heap"
	"github.com/joeycumines/go-jsbridge/internal/loop"
)

var (
	// ErrCoercion is matched by every coercion failure.
	ErrCoercion = errors.New("bridge: value cannot be converted")
	// ErrNotCallable is returned when a non-function is called.
	ErrNotCallable = errors.New("bridge: value is not callable")
	// ErrIndexOutOfRange is matched by [RangeError].
	ErrIndexOutOfRange = errors.New("bridge: index out of range")
	// ErrFrozen is returned when the engine refuses a mutation, e.g. on a
	// frozen or non-extensible object.
	ErrFrozen = errors.New("bridge: object rejected the mutation")
	// ErrReleased is returned when a proxy is used after Release, or after
	// the bridge was closed.
	ErrReleased = heap.ErrReleased
	// ErrDetached is returned when a typed array's buffer has been detached.
	ErrDetached = errors.New("bridge: array buffer is detached")
	// ErrLoopNotRunning is returned when work is submitted to a bridge whose
	// event loop is not running.
	ErrLoopNotRunning = loop.ErrNotRunning
	// ErrAwaitOnLoop is returned by blocking waits made from the event loop
	// goroutine, which could never complete.
	ErrAwaitOnLoop = errors.New("bridge: cannot block on the event loop goroutine")
	// ErrCoroutineReused is returned when a coroutine is started twice.
	ErrCoroutineReused = errors.New("bridge: coroutine already started")
	// ErrPending is returned by Future.Result before the future settles.
	ErrPending = errors.New("bridge: future is still pending")
)

// CoercionError reports a value that cannot cross the bridge.
type CoercionError struct {
	// Type describes the source value, e.g. "string" or "*os.File".
	Type   string
	Reason string
	Err    error
}

func (e *CoercionError) Error() string {
	msg := "bridge: cannot convert " + e.Type
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return e.Err }

func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

// OverflowError reports a Go integer outside the range a JS number holds
// exactly.
type OverflowError struct {
	Value *big.Int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("bridge: integer %s cannot be represented as a JS number without loss of precision; use *big.Int to pass a BigInt", e.Value)
}

func (e *OverflowError) Is(target error) bool { return target == ErrCoercion }

// TypeError reports a proxy operation the foreign value does not support.
type TypeError struct {
	Op  string
	Err error
}

func (e *TypeError) Error() string { return "bridge: " + e.Op + ": " + e.Err.Error() }

func (e *TypeError) Unwrap() error { return e.Err }

// RangeError reports an index outside a fixed bound.
type RangeError struct {
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("bridge: index %d out of range [0:%d]", e.Index, e.Len)
}

func (e *RangeError) Is(target error) bool { return target == ErrIndexOutOfRange }

// ReferenceError reports use of a value whose cross-heap reference is gone.
type ReferenceError struct {
	Op  string
	Err error
}

func (e *ReferenceError) Error() string { return "bridge: " + e.Op + ": " + e.Err.Error() }

func (e *ReferenceError) Unwrap() error { return e.Err }

func coercionErrorf(typ, format string, args ...any) *CoercionError {
	return &CoercionError{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

func lifetimeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *ReferenceError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, heap.ErrReleased) || errors.Is(err, ErrDetached) {
		return &ReferenceError{Op: op, Err: err}
	}
	return err
}
