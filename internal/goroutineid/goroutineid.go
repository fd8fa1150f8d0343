// Package goroutineid reads the current goroutine id from the runtime stack
// header. It backs the goroutine-affinity checks of verify builds and should
// not be used for anything else.
package goroutineid

import (
	"runtime"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the id of the calling goroutine, or 0 if the stack header
// cannot be parsed.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return Parse((*bp)[:n])
}

// Parse extracts the id from a stack that begins "goroutine 123 [running]:".
// It does not allocate.
func Parse(stack []byte) int64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
