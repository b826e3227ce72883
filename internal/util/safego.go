package util

import (
	"runtime/debug"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// SafeGo runs fn on a new goroutine with panic recovery. A panic is
// logged with its stack instead of taking down the process.
func SafeGo(fn func()) {
	SafeGoWithName("", fn)
}

// SafeGoWithName is SafeGo with a goroutine name attached to any
// recovered panic's log record.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			attrs := []any{"panic", r, "stack", string(debug.Stack())}
			if name != "" {
				attrs = append([]any{"goroutine", name}, attrs...)
			}
			logging.Error("goroutine panic recovered", attrs...)
		}()
		fn()
	}()
}
