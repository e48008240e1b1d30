// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

// JsScript represents a named piece of JavaScript source.
type JsScript struct {
	Content  string // Script content
	FileName string // Script file name for error messages and stack traces
}

// HostFunc is a Go function exposed to a runtime. Arguments and the return value
// cross the host/script boundary as strings; structured data is JSON encoded.
type HostFunc func(args ...string) string

// JsRuntime represents one isolated JavaScript execution environment.
//
// A runtime is never used concurrently: every method except Interrupt is called
// from the goroutine that owns the runtime's handle.
type JsRuntime interface {
	// Expose installs fn as a global function with the given name.
	Expose(name string, fn HostFunc) error

	// Run evaluates the script in the global scope. Script faults are returned
	// as *ScriptError.
	Run(script *JsScript) error

	// Interrupt aborts the currently running script. It is safe to call from any goroutine.
	Interrupt(reason string)

	// ClearInterrupt resets a pending interrupt so the runtime can be reused.
	ClearInterrupt()

	// Close releases the runtime and all its resources.
	Close() error
}

// JsRuntimeFactory creates JavaScript runtime instances.
type JsRuntimeFactory func() (JsRuntime, error)

// JsRuntimeOption is a function that configures a JavaScript runtime.
type JsRuntimeOption func(JsRuntime) error
