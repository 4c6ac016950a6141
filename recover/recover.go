// Package recover centralizes panic recovery for the mesh's goroutines:
// the presence/health ticks and the httpapi handlers run behind Safe
// instead of repeating their own recover() boilerplate.
package recover

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hydra-mesh/hydra/logger"
)

const (
	tagService  = "service"
	tagFunction = "function"
	tagContext  = "context"
	tagLabel    = "label"
)

// ----------------------------------------------------
// Global panic hook (optional)
// ----------------------------------------------------

var OnPanic func(service, function string, recovered any)
var log logger.ILogger = logger.NewLogger("recover", "warn")

// SetLogger allows injecting a custom logger instance (e.g. for tracing or testing).
func SetLogger(l logger.ILogger) {
	log = l
}

// ----------------------------------------------------
// Panic recovery functions
// ----------------------------------------------------

// RecoverWithContext captures and logs a panic with metadata and optional data.
func RecoverWithContext(service, function string, data any) {
	if r := recover(); r != nil {
		entry := log.With(tagService, service).With(tagFunction, function)
		if data != nil {
			entry = entry.With(tagContext, fmt.Sprintf("%+v", data))
		}
		entry.Error(fmt.Sprintf("panic: %v", r), nil)
		log.Error("stacktrace", fmt.Errorf("%s", debug.Stack()))

		if OnPanic != nil {
			OnPanic(service, function, r)
		}
	}
}

// RecoverExplicit logs a known recovered panic with metadata and context.
func RecoverExplicit(service, function string, recovered any, data any) {
	if recovered == nil {
		return
	}

	entry := log.With(tagService, service).With(tagFunction, function)
	if data != nil {
		entry = entry.With(tagContext, fmt.Sprintf("%+v", data))
	}
	entry.Error(fmt.Sprintf("panic: %v", recovered), nil)
	log.Error("stacktrace", fmt.Errorf("%s", debug.Stack()))

	if OnPanic != nil {
		OnPanic(service, function, recovered)
	}
}

// Safe runs fn, recovering and logging any panic under label.
func Safe(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.With(tagLabel, label).Error(fmt.Sprintf("panic: %v", r), nil)
			log.Error("stacktrace", fmt.Errorf("%s", debug.Stack()))
			if OnPanic != nil {
				OnPanic("Safe", label, r)
			}
		}
	}()
	fn()
}

// RecoverFunc runs fn, converting any panic into a returned error
// instead of propagating it, for call sites that need a plain error
// return (a single queue/dispatch attempt, a plugin hook).
func RecoverFunc(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.With(tagLabel, label).Error(fmt.Sprintf("panic: %v", r), nil)
			if OnPanic != nil {
				OnPanic("RecoverFunc", label, r)
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// RecoverableFunc is a context-aware function that may panic.
type RecoverableFunc func(ctx context.Context) error

// WrapRecover wraps a context-aware function with panic protection.
func WrapRecover(service, function string, f RecoverableFunc) RecoverableFunc {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.With(tagService, service).With(tagFunction, function).Error(fmt.Sprintf("panic: %v", r), nil)
				log.Error("stacktrace", fmt.Errorf("%s", debug.Stack()))
				if OnPanic != nil {
					OnPanic(service, function, r)
				}
				err = fmt.Errorf("panic recovered in %s.%s: %v", service, function, r)
			}
		}()
		return f(ctx)
	}
}
