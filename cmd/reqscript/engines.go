// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"

	"github.com/buke/reqscript"
	"github.com/buke/reqscript/config"
	gojaengine "github.com/buke/reqscript/engines/goja"
	quickjsengine "github.com/buke/reqscript/engines/quickjs-go"
)

// engines maps engine names to runtime factories. V8 registers itself on
// platforms it supports.
var engines = map[string]func() reqscript.JsRuntimeFactory{
	config.EngineGoja: func() reqscript.JsRuntimeFactory {
		return gojaengine.NewFactory()
	},
	config.EngineQuickJS: func() reqscript.JsRuntimeFactory {
		return quickjsengine.NewFactory()
	},
}

func engineFactory(name string) (reqscript.JsRuntimeFactory, error) {
	build, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not available (have %v)", name, engineNames())
	}
	return build(), nil
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
