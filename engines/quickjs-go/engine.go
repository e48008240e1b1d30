// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"strings"
	"sync/atomic"

	"github.com/buke/quickjs-go"
	"github.com/buke/reqscript"
)

// Option configures a QuickJS engine.
type Option = reqscript.JsRuntimeOption

// drainJobsScript settles a promise only after a bounded number of microtask
// turns, so awaiting it runs the jobs scripts left queued.
const drainJobsScript = `new Promise(function (resolve) {
  var turns = 0;
  (function tick() {
    if (++turns > 64) { resolve(); return; }
    Promise.resolve().then(tick);
  })();
})`

// Engine represents a QuickJS engine instance with its runtime, context, and options.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Ctx     *quickjs.Context // QuickJS context instance
	Option  *EngineOption    // Engine configuration options

	interrupted int32
	reason      atomic.Value // string
}

// newEngine creates a new QuickJS engine instance with the given options.
// It initializes the runtime, context, and applies all provided engine options.
func newEngine(options ...Option) (*Engine, error) {
	// Create QuickJS runtime
	rt := quickjs.NewRuntime()

	// Create QuickJS context
	ctx := rt.NewContext()

	// Create engine instance with default options
	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			MemoryLimit:        0,     // Default memory limit (no limit)
			GCThreshold:        -1,    // Default GC threshold. -1 means no threshold
			Timeout:            0,     // Default timeout (no timeout)
			MaxStackSize:       0,     // Default max stack size
			CanBlock:           false, // Blocking not allowed by default
			EnableModuleImport: false, // Module import disabled by default
			Strip:              1,     // Default strip behavior
		},
	}

	// Apply additional engine options
	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return engine, nil
}

// NewFactory returns a JsRuntimeFactory that creates QuickJS engines with the given options.
func NewFactory(options ...Option) reqscript.JsRuntimeFactory {
	return func() (reqscript.JsRuntime, error) {
		return newEngine(options...)
	}
}

// Expose installs fn as a global function. Arguments are converted to strings.
func (e *Engine) Expose(name string, fn reqscript.HostFunc) error {
	jsFn := e.Ctx.Function(func(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
		strArgs := make([]string, len(args))
		for i, arg := range args {
			if arg.IsUndefined() || arg.IsNull() {
				continue
			}
			strArgs[i] = arg.String()
		}
		return ctx.String(fn(strArgs...))
	})
	e.Ctx.Globals().Set(name, jsFn)
	return nil
}

// Run evaluates the script and runs the promise jobs it queued.
func (e *Engine) Run(script *reqscript.JsScript) error {
	if atomic.LoadInt32(&e.interrupted) == 1 {
		return e.interruptError()
	}
	if e.Option.Timeout > 0 {
		// Re-arm so the budget counts from the start of this evaluation
		e.Runtime.SetExecuteTimeout(e.Option.Timeout)
	}

	result := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
	defer result.Free()
	if result.IsException() {
		return toScriptError(e.Ctx.Exception(), script.FileName)
	}

	drained := e.Ctx.Eval(drainJobsScript, quickjs.EvalFileName("jobs.js"), quickjs.EvalAwait(true))
	defer drained.Free()
	if drained.IsException() {
		return toScriptError(e.Ctx.Exception(), script.FileName)
	}
	return nil
}

// Interrupt marks the engine as interrupted. QuickJS cannot be entered from
// another goroutine, so a script that is already running is only stopped by the
// runtime's own execute timeout (WithTimeout); timers it scheduled stop firing
// and later Runs fail until ClearInterrupt.
func (e *Engine) Interrupt(reason string) {
	e.reason.Store(reason)
	atomic.StoreInt32(&e.interrupted, 1)
}

// ClearInterrupt resets the interrupt flag.
func (e *Engine) ClearInterrupt() {
	atomic.StoreInt32(&e.interrupted, 0)
}

func (e *Engine) interruptError() error {
	reason, _ := e.reason.Load().(string)
	return &reqscript.ScriptError{Name: "InterruptedError", Message: reason}
}

// Close releases all resources associated with the engine, including context and runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}

// toScriptError maps a QuickJS exception onto reqscript.ScriptError. The
// position comes from the first stack frame inside fileName.
func toScriptError(err error, fileName string) error {
	if err == nil {
		return &reqscript.ScriptError{Name: "Error", Message: "unknown exception"}
	}
	raw := err.Error()
	first, _, _ := strings.Cut(raw, "\n")
	se := reqscript.NewScriptError(strings.TrimSpace(first))
	se.Stack = raw
	if line, column, ok := reqscript.LocateInStack(raw, fileName); ok {
		se.Line, se.Column = line, column
	}
	return se
}
