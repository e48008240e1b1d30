// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package scriptapi

import "sync"

// TestResult is the outcome of one named test.
type TestResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// TestRecorder collects test outcomes reported by pm.test and the legacy tests object.
type TestRecorder struct {
	mu      sync.Mutex
	results []TestResult
}

// NewTestRecorder returns an empty recorder.
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{}
}

func (r *TestRecorder) Kind() string { return "tests" }

func (r *TestRecorder) Invoke(method string, args []any) (any, error) {
	switch method {
	case "record":
		if err := requireArgs("tests", method, args, 2); err != nil {
			return nil, err
		}
		r.Record(argString(args, 0), argBool(args, 1), argString(args, 2))
		return nil, nil
	}
	return nil, &UnknownMethodError{Kind: r.Kind(), Method: method}
}

// Record appends one outcome.
func (r *TestRecorder) Record(name string, passed bool, message string) {
	if passed {
		message = ""
	}
	r.mu.Lock()
	r.results = append(r.results, TestResult{Name: name, Passed: passed, Message: message})
	r.mu.Unlock()
}

// Results returns the recorded outcomes in order.
func (r *TestRecorder) Results() []TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TestResult(nil), r.results...)
}

// Failed returns how many recorded tests failed.
func (r *TestRecorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.results {
		if !res.Passed {
			n++
		}
	}
	return n
}
