// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"time"

	"github.com/buke/reqscript/scriptapi"
	"github.com/buke/reqscript/variables"
)

// ScriptKind identifies where in the request cycle a script runs.
type ScriptKind int

const (
	PreRequest   ScriptKind = iota // Runs before the request is sent
	PostResponse                   // Runs after the response arrives
	Test                           // Runs as a standalone test script
	Custom                         // Anything else, e.g. a scratch console
)

// String returns the string representation of a ScriptKind.
func (k ScriptKind) String() string {
	switch k {
	case PreRequest:
		return "pre-request"
	case PostResponse:
		return "post-response"
	case Test:
		return "test"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ExecutionContext describes one script execution.
type ExecutionContext struct {
	Script   string     // Script body, evaluated as the body of a function
	FileName string     // Name used in stack traces, defaults to "<kind>.js"
	Kind     ScriptKind // Where in the request cycle the script runs

	// Bindings maps script-visible names to host objects. The names environment,
	// variables, request, response and info build the pm API; any other name
	// becomes a global of its own.
	Bindings map[string]Binding

	Output          OutputSink // Receives console lines; nil uses the executor's sink
	ShowErrorDialog bool       // Report a failure to the fault presenter
}

// TestResult is the outcome of one named test.
type TestResult = scriptapi.TestResult

// ExecutionResult is the immutable outcome of an execution.
type ExecutionResult struct {
	Success  bool          // No fault and no failed test
	Tests    []TestResult  // Tests in the order they were recorded
	Error    string        // Human-readable failure, empty on success
	Fault    error         // Underlying fault, nil when the script ran to completion
	Duration time.Duration // Wall time including pool wait
}

// Passed returns the number of passed tests.
func (r *ExecutionResult) Passed() int {
	n := 0
	for _, t := range r.Tests {
		if t.Passed {
			n++
		}
	}
	return n
}

// Failed returns the number of failed tests.
func (r *ExecutionResult) Failed() int {
	return len(r.Tests) - r.Passed()
}

// Scope carries everything a request-cycle script can see. The same Scope is
// passed to the pre-request and post-response script of one cycle so that
// temporaries and request mutations carry over.
type Scope struct {
	Request  *scriptapi.RequestView  // Mutated in place by pre-request scripts
	Response *scriptapi.ResponseView // Nil before the response arrives
	Resolver *variables.Resolver     // Nil builds one from the environment store
	Info     scriptapi.Info
}

// FaultPresenter surfaces script failures to the user.
type FaultPresenter interface {
	PresentScriptFault(kind ScriptKind, message string)
}

// FaultPresenterFunc adapts a function to FaultPresenter.
type FaultPresenterFunc func(kind ScriptKind, message string)

func (f FaultPresenterFunc) PresentScriptFault(kind ScriptKind, message string) {
	f(kind, message)
}

// EnvironmentStore provides the active environment and persists changes to it.
type EnvironmentStore interface {
	// GetActive returns the active environment, or nil when none is selected.
	GetActive() (*variables.Environment, error)

	// Save persists env.
	Save(env *variables.Environment) error
}
