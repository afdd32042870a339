// Package recovery contains panics raised by callbacks and goroutines so one
// faulty component cannot stop a receive loop or the process.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use it with defer at the start of goroutines.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "health-server")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback recovers from panics, logs them, and calls the optional
// callback with the recovered value.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Call runs fn and reports whether it panicked. The panic is logged under
// name and does not propagate.
func Call(logger *slog.Logger, name string, fn func()) (panicked bool) {
	defer RecoverWithCallback(logger, name, func(any) {
		panicked = true
	})
	fn()
	return false
}

func logPanic(logger *slog.Logger, name string, r any) {
	logger.Error("panic recovered",
		"site", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
