// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/buke/reqscript"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// Option configures a Goja engine.
type Option = reqscript.JsRuntimeOption

// Engine implements reqscript.JsRuntime using the Goja JS engine.
//
// The event loop is never started in the background: every Run drives it on the
// calling goroutine until the script and all timers it scheduled are done.
type Engine struct {
	Loop   *eventloop.EventLoop // Provides setTimeout, setInterval and friends
	Option *EngineOption        // Engine configuration options
	vm     *goja.Runtime
}

// NewFactory returns a reqscript.JsRuntimeFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...Option) reqscript.JsRuntimeFactory {
	return func() (reqscript.JsRuntime, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a new Goja engine instance.
func newEngine(opts ...Option) (*Engine, error) {
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:   loop,
		Option: &EngineOption{},
	}

	// Capture the loop's runtime; nothing is scheduled yet so Run returns at once
	loop.Run(func(vm *goja.Runtime) {
		e.vm = vm
	})
	if e.vm == nil {
		return nil, fmt.Errorf("event loop did not provide a runtime")
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// Expose installs fn as a global function. Arguments are converted to strings.
func (e *Engine) Expose(name string, fn reqscript.HostFunc) error {
	return e.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			if goja.IsUndefined(arg) || goja.IsNull(arg) {
				continue
			}
			args[i] = arg.String()
		}
		return e.vm.ToValue(fn(args...))
	})
}

// Run evaluates the script and then runs the event loop until no timers remain.
func (e *Engine) Run(script *reqscript.JsScript) error {
	if e.Loop == nil {
		return errEngineClosed
	}
	var runErr error
	e.Loop.Run(func(vm *goja.Runtime) {
		_, runErr = vm.RunScript(script.FileName, script.Content)
	})
	if runErr != nil {
		return toScriptError(runErr, script.FileName)
	}
	return nil
}

// Interrupt aborts the running script. Goja allows this from any goroutine.
func (e *Engine) Interrupt(reason string) {
	e.vm.Interrupt(reason)
}

// ClearInterrupt drops an interrupt that did not fire.
func (e *Engine) ClearInterrupt() {
	e.vm.ClearInterrupt()
}

// Close drops the event loop. The loop only runs inside Run, so there is
// nothing to stop; the runtime itself is garbage collected.
func (e *Engine) Close() error {
	e.Loop = nil
	return nil
}

var errEngineClosed = errors.New("goja engine is closed")

var syntaxPosition = regexp.MustCompile(`Line (\d+):(\d+)`)

// toScriptError maps Goja errors onto reqscript.ScriptError. Positions are kept
// only when they fall inside fileName.
func toScriptError(err error, fileName string) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &reqscript.ScriptError{
			Name:    "InterruptedError",
			Message: fmt.Sprint(interrupted.Value()),
		}
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		se := &reqscript.ScriptError{Name: "SyntaxError", Message: syntaxErr.Message}
		if syntaxErr.File != nil {
			pos := syntaxErr.File.Position(syntaxErr.Offset)
			se.Line, se.Column = pos.Line, pos.Column
		}
		return se
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		se := reqscript.NewScriptError(exception.Value().String())
		if obj, ok := exception.Value().(*goja.Object); ok {
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
				se.Name = name.String()
			}
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				se.Message = msg.String()
			}
		}
		for _, frame := range exception.Stack() {
			if frame.SrcName() != fileName {
				continue
			}
			pos := frame.Position()
			se.Line, se.Column = pos.Line, pos.Column
			break
		}
		if se.Line == 0 && se.Name == "SyntaxError" {
			// Compile errors carry the position in the message only
			if m := syntaxPosition.FindStringSubmatch(se.Message); m != nil {
				se.Line, _ = strconv.Atoi(m[1])
				se.Column, _ = strconv.Atoi(m[2])
			}
		}
		se.Stack = exception.String()
		return se
	}

	return reqscript.NewScriptError(err.Error())
}
