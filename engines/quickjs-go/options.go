// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	"github.com/buke/reqscript"
)

// EngineOption holds configuration options for a QuickJS engine instance.
type EngineOption struct {
	Timeout            uint64 `json:"timeout"`            // Script execution timeout in seconds (0 = no timeout)
	MemoryLimit        uint64 `json:"memoryLimit"`        // Memory limit in bytes (0 = no limit)
	GCThreshold        int64  `json:"gcThreshold"`        // GC threshold in bytes (-1 = disable, 0 = default)
	MaxStackSize       uint64 `json:"maxStackSize"`       // Stack size in bytes (0 = default)
	CanBlock           bool   `json:"canBlock"`           // Whether the runtime can block (for async operations)
	EnableModuleImport bool   `json:"enableModuleImport"` // Enable ES6 module import support
	Strip              int    `json:"strip"`              // Strip level for bytecode compilation
}

func asEngine(rt reqscript.JsRuntime, option string) (*Engine, error) {
	if e, ok := rt.(*Engine); ok {
		return e, nil
	}
	return nil, fmt.Errorf("invalid engine type for %s", option)
}

// WithGCThreshold sets the garbage collection threshold for the engine.
// Use -1 to disable automatic GC, 0 for default, or a positive value for a custom threshold.
func WithGCThreshold(threshold int64) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithGCThreshold")
		if err != nil {
			return err
		}
		if threshold < -1 {
			return fmt.Errorf("invalid GC threshold: %d", threshold)
		}
		e.Option.GCThreshold = threshold
		e.Runtime.SetGCThreshold(threshold)
		return nil
	}
}

// WithMemoryLimit sets the memory limit for the JavaScript runtime in bytes.
// If limit is 0, there is no memory limit.
func WithMemoryLimit(limit uint64) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithMemoryLimit")
		if err != nil {
			return err
		}
		e.Option.MemoryLimit = limit
		e.Runtime.SetMemoryLimit(limit)
		return nil
	}
}

// WithTimeout sets the per-evaluation timeout in seconds; it is re-armed before
// every Run. It is the only way to stop a busy loop inside QuickJS, so it should
// not exceed the executor timeout. If timeout is 0, there is no timeout.
func WithTimeout(timeout uint64) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithTimeout")
		if err != nil {
			return err
		}
		e.Option.Timeout = timeout
		e.Runtime.SetExecuteTimeout(timeout)
		return nil
	}
}

// WithMaxStackSize sets the stack size for the JavaScript runtime in bytes.
// If size is 0, the default stack size is used.
func WithMaxStackSize(size uint64) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithMaxStackSize")
		if err != nil {
			return err
		}
		e.Option.MaxStackSize = size
		e.Runtime.SetMaxStackSize(size)
		return nil
	}
}

// WithCanBlock enables or disables blocking operations in the runtime.
func WithCanBlock(canBlock bool) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithCanBlock")
		if err != nil {
			return err
		}
		e.Option.CanBlock = canBlock
		e.Runtime.SetCanBlock(canBlock)
		return nil
	}
}

// WithEnableModuleImport enables or disables ES6 module import support.
func WithEnableModuleImport(enable bool) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithEnableModuleImport")
		if err != nil {
			return err
		}
		e.Option.EnableModuleImport = enable
		e.Runtime.SetModuleImport(enable)
		return nil
	}
}

// WithStrip sets the strip level for bytecode compilation.
// 0 = no stripping, higher values strip more debug information.
func WithStrip(strip int) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithStrip")
		if err != nil {
			return err
		}
		if strip < 0 || strip > 2 {
			return fmt.Errorf("invalid strip level: %d", strip)
		}
		e.Option.Strip = strip
		e.Runtime.SetStripInfo(strip)
		return nil
	}
}
