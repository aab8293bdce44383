package applog

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"dealflow/src/internal/core"
)

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	Stack string
	File  string
	Line  int
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Name() string { return "PanicError" }

func (e *PanicError) StackTrace() string { return e.Stack }

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover logs a panic in progress at error level and stops it. It must be
// deferred directly:
//
//	defer l.Recover(core.Fields("worker", id))
func (l *Logger) Recover(ctx core.Context) {
	if r := recover(); r != nil {
		l.capturePanic(r, ctx)
	}
}

// Go runs fn on a new goroutine. A panic is logged as by Recover; a
// returned error is logged as unhandled.
func (l *Logger) Go(fn func() error) {
	go func() {
		defer l.Recover(nil)
		if err := fn(); err != nil {
			l.CaptureError(err, nil)
		}
	}()
}

// CaptureError logs an error nobody handled.
func (l *Logger) CaptureError(err error, ctx core.Context) {
	if err == nil {
		return
	}
	defer l.swallow()

	l.Log(errorEntry(core.LevelError, "Unhandled error: "+err.Error(), ctx, err))
}

func (l *Logger) capturePanic(r any, ctx core.Context) {
	defer l.swallow()

	pe := newPanicError(r)
	entry := errorEntry(core.LevelError, "Uncaught: "+pe.Error(), ctx, pe)
	entry.Context = entry.Context.Merge(core.Fields(
		"filename", pe.File,
		"lineno", pe.Line,
		"colno", 0,
	))
	l.Log(entry)
}

// swallow keeps capture handlers from propagating their own failures.
func (l *Logger) swallow() {
	if r := recover(); r != nil {
		l.logger.Error("msg", "Error capture failed",
			"component", "applog",
			"panic", r)
	}
}

func newPanicError(r any) *PanicError {
	file, line := panicFrame()
	return &PanicError{
		Value: r,
		Stack: string(debug.Stack()),
		File:  file,
		Line:  line,
	}
}

// panicFrame locates the frame that panicked: the first non-runtime frame
// below runtime.gopanic on the current stack.
func panicFrame() (string, int) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	seenPanic := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			seenPanic = true
		} else if seenPanic && !isRuntimeFrame(frame.Function) {
			return frame.File, frame.Line
		}
		if !more {
			break
		}
	}
	return "", 0
}

func isRuntimeFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.") || strings.HasPrefix(function, "internal/runtime/")
}
