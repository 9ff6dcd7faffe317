// Package goroutineid reports the id of the calling goroutine.
//
// The loop runtime uses it to tell whether a synchronous request was made
// from the loop goroutine itself, in which case it must run inline instead of
// being posted and waited for.
package goroutineid

import (
	"bytes"
	"runtime"
	"sync"
)

var headerPrefix = []byte("goroutine ")

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the id of the calling goroutine, or 0 if it cannot be
// determined.
func Get() int64 {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	// only the header line is needed, runtime.Stack truncates the rest
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse extracts the id from a "goroutine N [status]:" header without
// allocating.
func parse(stack []byte) int64 {
	i := bytes.Index(stack, headerPrefix)
	if i < 0 {
		return 0
	}
	var id int64
	digits := 0
	for _, c := range stack[i+len(headerPrefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
		digits++
	}
	if digits == 0 {
		return 0
	}
	return id
}

// Same reports whether id identifies the calling goroutine. A zero id never
// matches.
func Same(id int64) bool {
	return id > 0 && Get() == id
}
