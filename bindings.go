// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/buke/reqscript/scriptapi"
	"github.com/buke/reqscript/variables"
)

// Binding names with a dedicated place in the pm API.
const (
	BindEnvironment = "environment"
	BindVariables   = "variables"
	BindRequest     = "request"
	BindResponse    = "response"
	BindInfo        = "info"

	bindTests   = "tests"
	bindConsole = "console"
)

var standardBindings = map[string]bool{
	BindEnvironment: true,
	BindVariables:   true,
	BindRequest:     true,
	BindResponse:    true,
	BindInfo:        true,
}

// apiGlobals are the globals built by __pmInstall.
var apiGlobals = []string{
	"pm", "postman", "tests", "environment", "request", "response",
	"responseBody", "responseCode", "responseTime", "responseHeaders",
}

// reservedNames cannot be used for custom bindings.
var reservedNames = map[string]bool{
	"console": true, "require": true, "crypto": true, "btoa": true, "atob": true,
	"setTimeout": true, "clearTimeout": true, "globalThis": true,
}

func init() {
	for _, name := range apiGlobals {
		reservedNames[name] = true
	}
}

// bindingSpec is what __pmInstall learns about each bound object.
type bindingSpec struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Custom bool   `json:"custom,omitempty"`
}

// bindingSet is the full set of host objects for one execution.
type bindingSet struct {
	targets map[string]Binding
	specs   []bindingSpec
	globals []string
}

// newBindingSet validates the caller's bindings and adds the recorder and console.
func newBindingSet(bindings map[string]Binding, tests *scriptapi.TestRecorder, console *scriptapi.ConsoleObject) (*bindingSet, error) {
	bs := &bindingSet{
		targets: map[string]Binding{bindTests: tests, bindConsole: console},
		globals: append([]string(nil), apiGlobals...),
	}

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := bindings[name]
		if b == nil {
			continue
		}
		custom := !standardBindings[name]
		if custom {
			if reservedNames[name] || name == "" || name[0] == '$' || name[0] == '_' {
				return nil, fmt.Errorf("binding name %q is reserved", name)
			}
			bs.globals = append(bs.globals, name)
		}
		bs.targets[name] = b
		bs.specs = append(bs.specs, bindingSpec{Name: name, Kind: b.Kind(), Custom: custom})
	}
	return bs, nil
}

// installScript renders the call that builds the script-side facades.
func (bs *bindingSet) installScript() *JsScript {
	specs := bs.specs
	if specs == nil {
		specs = []bindingSpec{}
	}
	data, _ := json.Marshal(specs)
	return &JsScript{
		FileName: "install.js",
		Content:  "__pmInstall(" + string(data) + ");",
	}
}

// ScopeBindings builds the standard bindings for a request-cycle script.
// A nil environment is replaced by an ephemeral one that is never saved.
func ScopeBindings(scope *Scope) map[string]Binding {
	out := map[string]Binding{}
	if scope == nil {
		return out
	}

	resolver := scope.Resolver
	if resolver == nil || resolver.Environment() == nil {
		var temps *variables.Temporaries
		if resolver != nil {
			temps = resolver.Temporaries()
		}
		resolver = variables.NewResolver(temps, variables.NewEphemeralEnvironment())
	}

	out[BindEnvironment] = scriptapi.NewEnvironmentObject(resolver.Environment())
	out[BindVariables] = scriptapi.NewVariablesObject(resolver)
	out[BindInfo] = scriptapi.NewInfoObject(scope.Info)
	if scope.Request != nil {
		out[BindRequest] = scriptapi.NewRequestObject(scope.Request)
	}
	if scope.Response != nil {
		out[BindResponse] = scriptapi.NewResponseObject(scope.Response)
	}
	return out
}
