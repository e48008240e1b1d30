// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"
	"time"

	"github.com/buke/reqscript"
	"github.com/dop251/goja"
)

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	RandSource       goja.RandSource
	TimeSource       goja.Now
}

func asEngine(rt reqscript.JsRuntime, option string) (*Engine, error) {
	e, ok := rt.(*Engine)
	if !ok {
		return nil, fmt.Errorf("invalid engine type for %s", option)
	}
	return e, nil
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithMaxCallStackSize")
		if err != nil {
			return err
		}
		e.Option.MaxCallStackSize = size
		e.vm.SetMaxCallStackSize(size)
		return nil
	}
}

// WithRandSource replaces the source behind Math.random, e.g. to make test
// runs reproducible.
func WithRandSource(source goja.RandSource) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithRandSource")
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("rand source cannot be nil")
		}
		e.Option.RandSource = source
		e.vm.SetRandSource(source)
		return nil
	}
}

// WithTimeSource replaces the clock behind Date.
func WithTimeSource(now func() time.Time) Option {
	return func(rt reqscript.JsRuntime) error {
		e, err := asEngine(rt, "WithTimeSource")
		if err != nil {
			return err
		}
		if now == nil {
			return fmt.Errorf("time source cannot be nil")
		}
		e.Option.TimeSource = now
		e.vm.SetTimeSource(now)
		return nil
	}
}
