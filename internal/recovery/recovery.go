// Package recovery provides panic recovery utilities for goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError carries a recovered panic value out of a goroutine as an error.
type PanicError struct {
	Goroutine string
	Value     interface{}
	Stack     string
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Goroutine, e.Value)
}

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use this with defer at the start of goroutines to prevent crashes and log diagnostics.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "myGoroutine")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r, string(debug.Stack()))
	}
}

// RecoverToError recovers from panics, logs them, and stores a *PanicError
// in errp so the goroutine's caller sees an ordinary failure.
//
// Example:
//
//	func work() (err error) {
//	    defer recovery.RecoverToError(logger, "work", &err)
//	    // ...
//	}
func RecoverToError(logger *slog.Logger, name string, errp *error) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logPanic(logger, name, r, stack)
		if errp != nil {
			*errp = &PanicError{Goroutine: name, Value: r, Stack: stack}
		}
	}
}

func logPanic(logger *slog.Logger, name string, r interface{}, stack string) {
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", stack)
}
