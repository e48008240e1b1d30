//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/buke/reqscript"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
	v8NewValue   = v8go.NewValue
	v8SetFlags   = v8go.SetFlags
)

// Option configures a V8 engine.
type Option = reqscript.JsRuntimeOption

// Engine implements reqscript.JsRuntime using the V8 engine.
// It encapsulates a V8 Isolate and Context.
type Engine struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It is exposed publicly to allow for advanced custom options.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, representing the execution environment.
	// It is exposed publicly to allow for advanced custom options.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	mu        sync.Mutex // Guards Iso against Close during Interrupt
	functions []*v8go.FunctionTemplate
}

// NewFactory creates a new reqscript.JsRuntimeFactory for the V8 engine.
func NewFactory(opts ...Option) reqscript.JsRuntimeFactory {
	return func() (reqscript.JsRuntime, error) {
		return newEngine(opts...)
	}
}

// newEngine creates and initializes a new V8 Engine instance.
func newEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		Option: &EngineOption{},
	}

	// Apply user-provided options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if len(e.Option.Flags) > 0 {
		v8SetFlags(e.Option.Flags...)
	}

	// Create a new V8 Isolate
	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	// Create a new V8 Context
	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose() // Clean up isolate if context creation fails
		e.Iso = nil
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	return e, nil
}

// Expose installs fn as a global function. Arguments are converted to strings.
func (e *Engine) Expose(name string, fn reqscript.HostFunc) error {
	tmpl := v8go.NewFunctionTemplate(e.Iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		strArgs := make([]string, len(args))
		for i, arg := range args {
			if arg.IsUndefined() || arg.IsNull() {
				continue
			}
			strArgs[i] = arg.String()
		}
		v, err := v8NewValue(e.Iso, fn(strArgs...))
		if err != nil {
			return nil
		}
		return v
	})
	e.functions = append(e.functions, tmpl)
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

// Run evaluates the script and performs a microtask checkpoint.
func (e *Engine) Run(script *reqscript.JsScript) error {
	if _, err := e.Ctx.RunScript(script.Content, script.FileName); err != nil {
		return toScriptError(err, script.FileName)
	}
	e.Ctx.PerformMicrotaskCheckpoint()
	return nil
}

// Interrupt terminates the script running in the isolate. V8 allows this
// from any goroutine.
func (e *Engine) Interrupt(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Iso != nil {
		e.Iso.TerminateExecution()
	}
}

// ClearInterrupt is a no-op: a terminated isolate accepts new scripts once the
// terminated one has unwound.
func (e *Engine) ClearInterrupt() {}

// Close releases all resources associated with the V8 engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	e.functions = nil
	return nil
}

// toScriptError maps a V8 error onto reqscript.ScriptError. The position comes
// from the stack trace, or from the location of errors thrown at top level.
func toScriptError(err error, fileName string) error {
	var jsErr *v8go.JSError
	if !errors.As(err, &jsErr) {
		return reqscript.NewScriptError(err.Error())
	}

	se := reqscript.NewScriptError(jsErr.Message)
	se.Stack = jsErr.StackTrace
	if strings.Contains(jsErr.Message, "terminated") && se.Name == "" {
		se.Name = "InterruptedError"
	}
	if line, column, ok := reqscript.LocateInStack(jsErr.StackTrace, fileName); ok {
		se.Line, se.Column = line, column
	} else if line, column, ok := reqscript.LocateInStack(jsErr.Location, fileName); ok {
		se.Line, se.Column = line, column
	}
	return se
}
