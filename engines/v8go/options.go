//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"strings"

	"github.com/buke/reqscript"
)

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	// Flags are passed to V8 before the isolate is created. V8 flags are
	// process-wide, so every engine built afterwards sees them too.
	Flags []string
}

// WithFlags sets V8 command line flags, e.g. "--max-old-space-size=64".
// Every flag must start with "--".
func WithFlags(flags ...string) Option {
	return func(rt reqscript.JsRuntime) error {
		e, ok := rt.(*Engine)
		if !ok {
			return fmt.Errorf("invalid engine type for WithFlags")
		}
		for _, flag := range flags {
			if !strings.HasPrefix(flag, "--") {
				return fmt.Errorf("invalid v8 flag %q", flag)
			}
		}
		e.Option.Flags = append(e.Option.Flags, flags...)
		return nil
	}
}
