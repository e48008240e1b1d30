// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/buke/reqscript/library"
)

//go:embed js/*.js
var preludeFS embed.FS

// preludeFiles are evaluated in order on every new runtime.
var preludeFiles = []string{"js/bridge.js", "js/require.js", "js/expect.js", "js/pm.js"}

// DefaultEagerLibraries maps global names to the bundled modules assigned to them
// on every new runtime.
func DefaultEagerLibraries() map[string]string {
	return map[string]string{
		"CryptoJS": "crypto-js",
		"_":        "lodash",
		"moment":   "moment",
		"uuid":     "uuid",
		"jwt":      "jsonwebtoken",
	}
}

// Injector prepares freshly built runtimes: it wires the library natives, runs
// the prelude, assigns eager libraries and runs init scripts.
type Injector struct {
	loader  *library.Loader
	natives *library.Natives
	modules *library.Modules
	eager   map[string]string

	// Use atomic pointer for lock-free reads of initScripts
	initScriptsPtr unsafe.Pointer // Points to []*JsScript (atomic access)

	logger *slog.Logger
}

// NewInjector creates an injector backed by loader.
func NewInjector(loader *library.Loader, eager map[string]string, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{
		loader:  loader,
		natives: library.NewNatives(),
		modules: library.NewModules(loader),
		eager:   eager,
		logger:  logger,
	}
}

// InitScripts returns the current initialization scripts (no copy, read-only).
func (inj *Injector) InitScripts() []*JsScript {
	ptr := atomic.LoadPointer(&inj.initScriptsPtr)
	if ptr == nil {
		return nil
	}
	return *(*[]*JsScript)(ptr)
}

// SetInitScripts atomically replaces the initialization scripts. Runtimes
// built afterwards run the new set.
func (inj *Injector) SetInitScripts(scripts []*JsScript) {
	if len(scripts) == 0 {
		atomic.StorePointer(&inj.initScriptsPtr, nil)
		return
	}

	// Create immutable copy once during write
	newScripts := make([]*JsScript, len(scripts))
	copy(newScripts, scripts)

	atomic.StorePointer(&inj.initScriptsPtr, unsafe.Pointer(&newScripts))
}

// Prepare runs on the handle's thread right after the runtime is created.
func (inj *Injector) Prepare(h *Handle, rt JsRuntime) error {
	h.registerNative("$lib", inj.natives)
	h.registerNative("$modules", inj.modules)

	for _, name := range preludeFiles {
		src, err := preludeFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read prelude %s: %w", name, err)
		}
		if err := rt.Run(&JsScript{Content: string(src), FileName: path.Base(name)}); err != nil {
			return fmt.Errorf("failed to run prelude %s: %w", path.Base(name), err)
		}
	}

	if script := eagerScript(inj.eager); script != "" {
		if err := rt.Run(&JsScript{Content: script, FileName: "libraries.js"}); err != nil {
			return fmt.Errorf("failed to load eager libraries: %w", err)
		}
	}

	for _, script := range inj.InitScripts() {
		if err := rt.Run(script); err != nil {
			return fmt.Errorf("failed to execute init script %s: %w", script.FileName, err)
		}
	}

	// Everything defined so far survives between executions
	if err := rt.Run(&JsScript{Content: "__pmSeal();", FileName: "seal.js"}); err != nil {
		return fmt.Errorf("failed to seal runtime globals: %w", err)
	}

	inj.logger.Debug("Runtime prepared",
		"handle", h.Name(),
		"libraries", len(inj.eager),
		"initScripts", len(inj.InitScripts()))
	return nil
}

// eagerScript renders assignments of required modules to globals, in name order.
func eagerScript(eager map[string]string) string {
	if len(eager) == 0 {
		return ""
	}
	names := make([]string, 0, len(eager))
	for name := range eager {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		global, _ := json.Marshal(name)
		module, _ := json.Marshal(eager[name])
		fmt.Fprintf(&sb, "globalThis[%s] = require(%s);\n", global, module)
	}
	return sb.String()
}
