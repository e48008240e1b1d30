//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/buke/reqscript"
	"github.com/buke/reqscript/config"
	v8engine "github.com/buke/reqscript/engines/v8go"
)

func init() {
	engines[config.EngineV8] = func() reqscript.JsRuntimeFactory {
		return v8engine.NewFactory()
	}
}
