// Package goroutineid identifies the calling goroutine, which is how a
// jscontext.Thread recognises its owning "thread".
package goroutineid

import (
	"runtime"
	"sync"
)

// 64 bytes covers "goroutine 18446744073709551615 [" with room to spare.
var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the id of the calling goroutine, or 0 if it could not be
// parsed.
func Get() uint64 {
	buf := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(buf)
	n := runtime.Stack(*buf, false)
	return parse((*buf)[:n])
}

// parse extracts the id from the "goroutine N [status]:" header without
// allocating.
func parse(stack []byte) uint64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) {
		return 0
	}
	for i := 0; i < len(prefix); i++ {
		if stack[i] != prefix[i] {
			return 0
		}
	}
	var id uint64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + uint64(b-'0')
	}
	return id
}
