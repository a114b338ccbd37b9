package loadsched

import (
	"runtime/debug"
	"sync"

	"github.com/warpdl/warpload/pkg/logger"
)

// safeGo runs fn in a goroutine with panic recovery.
// If wg is non-nil, it's decremented on completion (normal or panic).
// Panics are logged with stack traces and passed to onPanic when non-nil.
func safeGo(l logger.Logger, wg *sync.WaitGroup, name string, onPanic func(r any), fn func()) {
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				if l != nil {
					l.Error("panic in %s: %v\n%s", name, r, debug.Stack())
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
